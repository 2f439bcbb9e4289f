package models

import "time"

// Release job statuses.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobDead    = "dead"
)

// ReleaseJob is the idempotent unit of work enqueued when a request reaches
// quorum. Exactly one job exists per request (unique request_id); the row is
// inserted in the same transaction that flips the request to APPROVED, so
// "APPROVED but never enqueued" cannot persist.
type ReleaseJob struct {
	ID        string
	RequestID string
	PlanID    string
	Status    string
	Attempts  int
	LastError string
	NextRunAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
