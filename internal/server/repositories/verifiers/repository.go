package verifiers

import (
	"context"

	"github.com/floodyc/AfterLiving/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, v *models.Verifier) (*models.Verifier, error)
	GetByID(ctx context.Context, id string) (*models.Verifier, error)
	GetByToken(ctx context.Context, token string) (*models.Verifier, error)
	// ExistsNonRevoked reports whether a non-revoked verifier with the email
	// already exists for the plan.
	ExistsNonRevoked(ctx context.Context, planID, email string) (bool, error)
	CountNonRevoked(ctx context.Context, planID string) (int, error)
	// CountAccepted is the denominator for majority-denial arithmetic,
	// evaluated against currently ACCEPTED verifiers.
	CountAccepted(ctx context.Context, planID string) (int, error)
	ListAccepted(ctx context.Context, planID string) ([]*models.Verifier, error)
	// MarkResponded moves an INVITED verifier to ACCEPTED or DECLINED.
	MarkResponded(ctx context.Context, id string, status string) error
	MarkRevoked(ctx context.Context, id string) error
}
