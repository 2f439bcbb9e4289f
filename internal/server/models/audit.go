package models

import "time"

// Audit actions. The set is closed: every sensitive state transition in the
// system maps to exactly one of these.
const (
	AuditVerifierInvited         = "VERIFIER_INVITED"
	AuditVerifierAccepted        = "VERIFIER_ACCEPTED"
	AuditVerifierDeclined        = "VERIFIER_DECLINED"
	AuditVerifierRevoked         = "VERIFIER_REVOKED"
	AuditReleaseRequested        = "RELEASE_REQUESTED"
	AuditApprovalRecorded        = "RELEASE_APPROVAL_RECORDED"
	AuditReleaseApproved         = "RELEASE_APPROVED"
	AuditReleaseDenied           = "RELEASE_DENIED"
	AuditMessageUploadFinalized  = "MESSAGE_UPLOAD_FINALIZED"
	AuditMessageReleased         = "MESSAGE_RELEASED"
	AuditMessageDeleted          = "MESSAGE_DELETED"
	AuditRecipientNotified       = "RECIPIENT_NOTIFIED"
	AuditReleaseFinalized        = "RELEASE_FINALIZED"
	AuditReleaseJobDead          = "RELEASE_JOB_DEAD"
	AuditAccessTokenVerifyFailed = "ACCESS_TOKEN_VERIFY_FAILED"
)

// AuditEvent is one immutable row in the append-only ledger. Actor is
// optional because verifiers may act through a capability token without a
// user session. No update or delete operation exists anywhere in the system.
type AuditEvent struct {
	ID         string
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]string
	IP         string
	UserAgent  string
	CreatedAt  time.Time
}

// ActorInfo carries the request-level identity attached to audit rows.
// Actor may be empty when an operation is performed through a capability
// token rather than a user session.
type ActorInfo struct {
	Actor     string
	IP        string
	UserAgent string
}
