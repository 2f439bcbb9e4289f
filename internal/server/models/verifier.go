package models

import "time"

// Verifier statuses. REVOKED is terminal.
const (
	VerifierInvited  = "INVITED"
	VerifierAccepted = "ACCEPTED"
	VerifierDeclined = "DECLINED"
	VerifierRevoked  = "REVOKED"
)

// Verifier is a trusted third party invited to attest to the plan owner's
// death. At most one non-revoked verifier per (plan, email).
//
// Token is the invitation token; it doubles as the verifier's capability for
// later release-request actions, so identity is never re-derived from a
// plaintext email.
type Verifier struct {
	ID          string
	PlanID      string
	Email       string
	DisplayName string
	Status      string
	Token       string
	InvitedAt   time.Time
	RespondedAt *time.Time
	RevokedAt   *time.Time
}
