package models

import "time"

// Release request statuses. APPROVED, DENIED and EXPIRED are terminal.
// EXPIRED is reserved; no in-scope operation produces it.
const (
	RequestPending  = "PENDING"
	RequestApproved = "APPROVED"
	RequestDenied   = "DENIED"
	RequestExpired  = "EXPIRED"
)

// ReleaseRequest is one attempt to authorize release for a plan.
// At most one PENDING request per plan at any time.
//
// ProcessedAt is stamped by the release pipeline after it has finished the
// plan, making duplicate job delivery a detectable no-op.
type ReleaseRequest struct {
	ID                   string
	PlanID               string
	InitiatingVerifierID string
	Note                 string
	Status               string
	CreatedAt            time.Time
	DecidedAt            *time.Time
	ProcessedAt          *time.Time
}

// ReleaseApproval is one verifier's vote on one request. A verifier records
// at most one row per request; the initiator's approval is created together
// with the request.
type ReleaseApproval struct {
	ID         string
	RequestID  string
	VerifierID string
	Approved   bool
	Note       string
	CreatedAt  time.Time
}

// Tally is the running vote count reported back to responders while the
// request is still pending.
type Tally struct {
	Approvals int
	Denials   int
	Threshold int
	Accepted  int
}
