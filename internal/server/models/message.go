package models

import "time"

// Video message statuses.
const (
	MessageDraft         = "DRAFT"
	MessagePendingUpload = "PENDING_UPLOAD"
	MessageReady         = "READY"
	MessageReleased      = "RELEASED"
	MessageRevoked       = "REVOKED"
)

// Recipient statuses.
const (
	RecipientPending  = "PENDING"
	RecipientNotified = "NOTIFIED"
)

// VideoMessage holds the server-side metadata for one encrypted message.
// The ciphertext itself lives in object storage under StorageKey; the
// per-message data key is stored wrapped in EncryptedDataKey and is
// immutable once the message reaches READY.
type VideoMessage struct {
	ID               string
	PlanID           string
	Title            string
	Status           string
	StorageKey       string
	ContentType      string
	SizeBytes        int64
	EncryptedDataKey string
	CreatedAt        time.Time
	ReleasedAt       *time.Time
}

// Recipient is one named addressee of a message.
type Recipient struct {
	ID        string
	MessageID string
	Email     string
	Name      string
	Status    string
	CreatedAt time.Time
}
