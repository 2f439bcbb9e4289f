// Package models defines server-side data models persisted in the database.
package models

import "time"

// Plan statuses.
const (
	PlanActive    = "ACTIVE"
	PlanSuspended = "SUSPENDED"
	PlanCompleted = "COMPLETED"
)

// LegacyPlan groups the messages, verifiers and release state for one owner.
// Invariant: 1 <= ApprovalThreshold <= TotalVerifiers.
type LegacyPlan struct {
	ID                string
	OwnerID           string
	ApprovalThreshold int
	TotalVerifiers    int
	Status            string
	CreatedAt         time.Time
}
