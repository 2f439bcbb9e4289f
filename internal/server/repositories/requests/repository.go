// Package requests persists release requests and the per-verifier approval
// rows recorded against them.
package requests

import (
	"context"

	"github.com/floodyc/AfterLiving/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, req *models.ReleaseRequest) (*models.ReleaseRequest, error)
	Get(ctx context.Context, id string) (*models.ReleaseRequest, error)
	// GetForUpdate locks the request row; the quorum read-modify-write runs
	// entirely under this lock.
	GetForUpdate(ctx context.Context, id string) (*models.ReleaseRequest, error)
	PendingExists(ctx context.Context, planID string) (bool, error)
	// SetDecided flips a PENDING request to a terminal status and stamps
	// decided_at.
	SetDecided(ctx context.Context, id string, status string) error
	MarkProcessed(ctx context.Context, id string) error

	InsertApproval(ctx context.Context, a *models.ReleaseApproval) (*models.ReleaseApproval, error)
	ApprovalExists(ctx context.Context, requestID, verifierID string) (bool, error)
	// TallyVotes recounts approvals and denials for the request. Callers must
	// run it in the same transaction as the approval insert.
	TallyVotes(ctx context.Context, requestID string) (approvals, denials int, err error)
}
