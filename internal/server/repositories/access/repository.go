// Package access persists recipient access grants. Grants are minted only by
// the release pipeline; at most one live (non-revoked) grant exists per
// (message, recipient) pair.
package access

import (
	"context"

	"github.com/floodyc/AfterLiving/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, grant *models.RecipientAccess) (*models.RecipientAccess, error)
	GetByToken(ctx context.Context, token string) (*models.RecipientAccess, error)
	// GetLive returns the non-revoked grant for the pair, expired or not.
	GetLive(ctx context.Context, messageID, recipientID string) (*models.RecipientAccess, error)
	Revoke(ctx context.Context, id string) error
}
