// Package audit persists the append-only audit ledger. No update or delete
// operation exists in this package or anywhere else.
package audit

import (
	"context"

	"github.com/floodyc/AfterLiving/internal/server/models"
)

// Filter narrows a ledger query. Zero-value fields are ignored.
type Filter struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
}

type Repository interface {
	Append(ctx context.Context, e *models.AuditEvent) (*models.AuditEvent, error)
	Query(ctx context.Context, f Filter, limit int) ([]*models.AuditEvent, error)
}
