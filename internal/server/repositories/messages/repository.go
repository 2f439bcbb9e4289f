// Package messages persists video message metadata and the recipients of
// each message. The ciphertext itself lives in object storage.
package messages

import (
	"context"

	"github.com/floodyc/AfterLiving/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, m *models.VideoMessage) (*models.VideoMessage, error)
	Get(ctx context.Context, id string) (*models.VideoMessage, error)
	// ListReleasable returns the plan's READY messages plus RELEASED ones,
	// so a retried release run can finish grants it did not get to.
	ListReleasable(ctx context.Context, planID string) ([]*models.VideoMessage, error)
	UpdateStatus(ctx context.Context, id string, from, to string) error
	// MarkReleased flips a READY message to RELEASED and stamps released_at.
	MarkReleased(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error

	AddRecipient(ctx context.Context, rcp *models.Recipient) (*models.Recipient, error)
	GetRecipient(ctx context.Context, id string) (*models.Recipient, error)
	ListRecipients(ctx context.Context, messageID string) ([]*models.Recipient, error)
	MarkRecipientNotified(ctx context.Context, id string) error
}
