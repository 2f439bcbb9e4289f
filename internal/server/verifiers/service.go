// Package verifiers implements the verifier registry: inviting trusted third
// parties to a plan and tracking their invitation lifecycle. A verifier acts
// through the invitation token alone; the service never re-derives identity
// from an email address.
package verifiers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/floodyc/AfterLiving/internal/common"
	"github.com/floodyc/AfterLiving/internal/dbx"
	"github.com/floodyc/AfterLiving/internal/server/audit"
	"github.com/floodyc/AfterLiving/internal/server/config"
	"github.com/floodyc/AfterLiving/internal/server/models"
	"github.com/floodyc/AfterLiving/internal/server/notify"
	"github.com/floodyc/AfterLiving/internal/server/repositories/repomanager"
	"github.com/floodyc/AfterLiving/internal/tokens"
)

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *config.Config
	sink        notify.Sink
}

func NewService(db *sql.DB, repomanager repomanager.RepositoryManager, config *config.Config, sink notify.Sink) *Service {
	return &Service{
		db:          db,
		repomanager: repomanager,
		config:      config,
		sink:        sink,
	}
}

// Invite registers a new verifier on an active plan and sends the invitation
// token. Fails with ErrDuplicateVerifier when a non-revoked verifier with the
// same email already exists, and with ErrVerifierLimitReached when the plan's
// verifier slots are full.
func (s *Service) Invite(ctx context.Context, actor models.ActorInfo, planID, email, displayName string) (*models.Verifier, error) {
	token, err := tokens.NewInvitationToken()
	if err != nil {
		return nil, fmt.Errorf("error generating invitation token: %w", err)
	}

	var created *models.Verifier

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		planRepo := s.repomanager.Plans(tx)
		verifierRepo := s.repomanager.Verifiers(tx)

		plan, err := planRepo.Get(ctx, planID)
		if err != nil {
			return err
		}
		if plan.Status != models.PlanActive {
			return common.ErrInvalidStatus
		}

		exists, err := verifierRepo.ExistsNonRevoked(ctx, planID, email)
		if err != nil {
			return err
		}
		if exists {
			return common.ErrDuplicateVerifier
		}

		n, err := verifierRepo.CountNonRevoked(ctx, planID)
		if err != nil {
			return err
		}
		if n >= plan.TotalVerifiers {
			return common.ErrVerifierLimitReached
		}

		created, err = verifierRepo.Create(ctx, &models.Verifier{
			PlanID:      planID,
			Email:       email,
			DisplayName: displayName,
			Status:      models.VerifierInvited,
			Token:       token,
		})
		if err != nil {
			return err
		}

		return audit.Record(ctx, s.repomanager.Audit(tx), actor, models.AuditVerifierInvited,
			"verifier", created.ID, map[string]string{"plan_id": planID})
	})
	if err != nil {
		return nil, err
	}

	// Delivery is best-effort; the invitation row is already committed.
	_ = s.sink.Enqueue(ctx, email, notify.KindVerifierInvited, map[string]string{
		"plan_id": planID,
		"token":   created.Token,
	})

	return created, nil
}

// Accept records the verifier's consent to attest for the plan.
func (s *Service) Accept(ctx context.Context, actor models.ActorInfo, token string) (*models.Verifier, error) {
	return s.respond(ctx, actor, token, models.VerifierAccepted)
}

// Decline records the verifier's refusal. A declined verifier never counts
// toward any quorum denominator.
func (s *Service) Decline(ctx context.Context, actor models.ActorInfo, token string) (*models.Verifier, error) {
	return s.respond(ctx, actor, token, models.VerifierDeclined)
}

func (s *Service) respond(ctx context.Context, actor models.ActorInfo, token string, status string) (*models.Verifier, error) {
	var v *models.Verifier

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Verifiers(tx)

		var err error
		v, err = repo.GetByToken(ctx, token)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return err
		}

		switch v.Status {
		case models.VerifierRevoked:
			// A revoked token is indistinguishable from an unknown one.
			return common.ErrInvalidToken
		case models.VerifierAccepted, models.VerifierDeclined:
			return common.ErrAlreadyResponded
		}

		if time.Since(v.InvitedAt) > s.config.InvitationTTL {
			return common.ErrInvitationExpired
		}

		if err := repo.MarkResponded(ctx, v.ID, status); err != nil {
			return err
		}
		v.Status = status

		action := models.AuditVerifierAccepted
		if status == models.VerifierDeclined {
			action = models.AuditVerifierDeclined
		}
		return audit.Record(ctx, s.repomanager.Audit(tx), actor, action,
			"verifier", v.ID, map[string]string{"plan_id": v.PlanID})
	})
	if err != nil {
		return nil, err
	}

	return v, nil
}

// Revoke removes a verifier from the plan. Revocation is terminal: the token
// stops working and the verifier is excluded from future quorum denominators,
// but approvals already recorded stand.
func (s *Service) Revoke(ctx context.Context, actor models.ActorInfo, verifierID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Verifiers(tx)

		v, err := repo.GetByID(ctx, verifierID)
		if err != nil {
			return err
		}
		if v.Status == models.VerifierRevoked {
			return common.ErrInvalidStatus
		}

		if err := repo.MarkRevoked(ctx, verifierID); err != nil {
			return err
		}

		return audit.Record(ctx, s.repomanager.Audit(tx), actor, models.AuditVerifierRevoked,
			"verifier", verifierID, map[string]string{"plan_id": v.PlanID})
	})
}
