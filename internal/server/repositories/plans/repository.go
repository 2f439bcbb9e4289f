package plans

import (
	"context"

	"github.com/floodyc/AfterLiving/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, id string) (*models.LegacyPlan, error)
	// GetForUpdate locks the plan row for the duration of the surrounding
	// transaction. Used to serialize request-open races per plan.
	GetForUpdate(ctx context.Context, id string) (*models.LegacyPlan, error)
	UpdateStatus(ctx context.Context, id string, status string) error
}
