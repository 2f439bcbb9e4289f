package models

import "time"

// RecipientAccess is a scoped, time-boxed grant binding one (message,
// recipient) pair to a bearer token. Grants are created only by the release
// pipeline and never reused across recipients or messages.
type RecipientAccess struct {
	ID          string
	MessageID   string
	RecipientID string
	Token       string
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	CreatedAt   time.Time
}

// Live reports whether the grant is still usable at the given instant.
func (a *RecipientAccess) Live(now time.Time) bool {
	return a.RevokedAt == nil && now.Before(a.ExpiresAt)
}
