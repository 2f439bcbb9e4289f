// Package audit exposes the append-only ledger to operators and gives the
// other services a single way to record events.
package audit

import (
	"context"
	"database/sql"

	"github.com/floodyc/AfterLiving/internal/common"
	"github.com/floodyc/AfterLiving/internal/server/models"
	auditrepo "github.com/floodyc/AfterLiving/internal/server/repositories/audit"
	"github.com/floodyc/AfterLiving/internal/server/repositories/repomanager"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 500
)

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewService(db *sql.DB, repomanager repomanager.RepositoryManager) *Service {
	return &Service{
		db:          db,
		repomanager: repomanager,
	}
}

// Record appends one event through the given repository. Services call this
// with a repository bound to their open transaction so a failed append rolls
// the whole operation back.
func Record(ctx context.Context, repo auditrepo.Repository, actor models.ActorInfo, action, entityType, entityID string, metadata map[string]string) error {
	_, err := repo.Append(ctx, &models.AuditEvent{
		Actor:      actor.Actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
	})
	return err
}

// Query returns ledger entries matching the filter, newest first. Callers
// without admin rights only see events they produced: their filter is forced
// to their own actor ID, and a caller with no actor ID at all is rejected
// before the ledger is touched.
func (s *Service) Query(ctx context.Context, caller models.ActorInfo, isAdmin bool, f auditrepo.Filter, limit int) ([]*models.AuditEvent, error) {
	if !isAdmin {
		if caller.Actor == "" {
			return nil, common.ErrNotAuthorized
		}
		f.Actor = caller.Actor
	}

	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	repo := s.repomanager.Audit(s.db)
	return repo.Query(ctx, f, limit)
}
