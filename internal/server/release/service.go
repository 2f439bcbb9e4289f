// Package release implements release authorization: opening a release
// request, collecting verifier votes, and deciding the request by quorum.
// All vote accounting runs in serializable transactions with the request row
// locked, so two concurrent votes cannot both observe the pre-threshold
// tally.
package release

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/floodyc/AfterLiving/internal/common"
	"github.com/floodyc/AfterLiving/internal/dbx"
	"github.com/floodyc/AfterLiving/internal/server/audit"
	"github.com/floodyc/AfterLiving/internal/server/config"
	"github.com/floodyc/AfterLiving/internal/server/models"
	"github.com/floodyc/AfterLiving/internal/server/notify"
	"github.com/floodyc/AfterLiving/internal/server/repositories/repomanager"
)

// Result is the outcome of an open or respond call: the request in its
// post-operation state plus the vote tally at that point.
type Result struct {
	Request *models.ReleaseRequest
	Tally   models.Tally
}

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

// Sentinels that name a caller mistake and must surface unchanged. Anything
// else that fails inside the voting transaction is an evaluation failure.
func wrapEvalErr(err error) error {
	for _, s := range []error{
		common.ErrorNotFound,
		common.ErrInvalidToken,
		common.ErrInvalidStatus,
		common.ErrNotAuthorized,
		common.ErrAlreadyResponded,
		common.ErrRequestAlreadyExists,
	} {
		if errors.Is(err, s) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", common.ErrAuthorizationEvaluationFailed, err)
}

// Open starts a release request for a plan. The initiator identifies with
// their invitation token and must be an ACCEPTED verifier of that plan; the
// initiator's approval is recorded in the same transaction, so a plan with
// threshold 1 is approved immediately. At most one PENDING request exists
// per plan.
func (s *Service) Open(ctx context.Context, actor models.ActorInfo, planID, token, note string) (*Result, error) {
	var result *Result

	err := dbx.WithSerializableTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		verifierRepo := s.repomanager.Verifiers(tx)
		planRepo := s.repomanager.Plans(tx)
		requestRepo := s.repomanager.Requests(tx)

		initiator, err := verifierRepo.GetByToken(ctx, token)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrNotAuthorized
			}
			return err
		}
		if initiator.PlanID != planID || initiator.Status != models.VerifierAccepted {
			return common.ErrNotAuthorized
		}

		plan, err := planRepo.GetForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		if plan.Status != models.PlanActive {
			return common.ErrInvalidStatus
		}

		exists, err := requestRepo.PendingExists(ctx, planID)
		if err != nil {
			return err
		}
		if exists {
			return common.ErrRequestAlreadyExists
		}

		req, err := requestRepo.Create(ctx, &models.ReleaseRequest{
			PlanID:               planID,
			InitiatingVerifierID: initiator.ID,
			Note:                 note,
			Status:               models.RequestPending,
		})
		if err != nil {
			return err
		}

		auditRepo := s.repomanager.Audit(tx)
		if err := audit.Record(ctx, auditRepo, actor, models.AuditReleaseRequested,
			"release_request", req.ID, map[string]string{"plan_id": planID, "verifier_id": initiator.ID}); err != nil {
			return err
		}

		// The initiator's vote is an approval by definition.
		if _, err := requestRepo.InsertApproval(ctx, &models.ReleaseApproval{
			RequestID:  req.ID,
			VerifierID: initiator.ID,
			Approved:   true,
			Note:       note,
		}); err != nil {
			return err
		}
		if err := audit.Record(ctx, auditRepo, actor, models.AuditApprovalRecorded,
			"release_request", req.ID, map[string]string{"verifier_id": initiator.ID, "approved": "true"}); err != nil {
			return err
		}

		result, err = s.evaluate(ctx, tx, actor, req, plan)
		return err
	})
	if err != nil {
		return nil, wrapEvalErr(err)
	}

	s.notifyVerifiers(ctx, result.Request)

	return result, nil
}

// Respond records one verifier's vote on a pending request and re-evaluates
// quorum in the same transaction.
func (s *Service) Respond(ctx context.Context, actor models.ActorInfo, requestID, token string, approve bool, note string) (*Result, error) {
	var result *Result

	err := dbx.WithSerializableTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		requestRepo := s.repomanager.Requests(tx)
		verifierRepo := s.repomanager.Verifiers(tx)
		planRepo := s.repomanager.Plans(tx)

		req, err := requestRepo.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.RequestPending {
			return common.ErrInvalidStatus
		}

		voter, err := verifierRepo.GetByToken(ctx, token)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrNotAuthorized
			}
			return err
		}
		if voter.PlanID != req.PlanID || voter.Status != models.VerifierAccepted {
			return common.ErrNotAuthorized
		}

		voted, err := requestRepo.ApprovalExists(ctx, requestID, voter.ID)
		if err != nil {
			return err
		}
		if voted {
			return common.ErrAlreadyResponded
		}

		if _, err := requestRepo.InsertApproval(ctx, &models.ReleaseApproval{
			RequestID:  requestID,
			VerifierID: voter.ID,
			Approved:   approve,
			Note:       note,
		}); err != nil {
			return err
		}
		if err := audit.Record(ctx, s.repomanager.Audit(tx), actor, models.AuditApprovalRecorded,
			"release_request", requestID, map[string]string{
				"verifier_id": voter.ID,
				"approved":    fmt.Sprintf("%t", approve),
			}); err != nil {
			return err
		}

		plan, err := planRepo.Get(ctx, req.PlanID)
		if err != nil {
			return err
		}

		result, err = s.evaluate(ctx, tx, actor, req, plan)
		return err
	})
	if err != nil {
		return nil, wrapEvalErr(err)
	}

	return result, nil
}

// evaluate recounts the votes and decides the request if a boundary is
// crossed. Runs inside the caller's transaction, under the request row lock.
//
// A request is approved when approvals reach the plan threshold, and denied
// when denials form a strict majority of currently ACCEPTED verifiers.
// Revoked and declined verifiers drop out of the denominator; their past
// approvals still count.
func (s *Service) evaluate(ctx context.Context, tx dbx.DBTX, actor models.ActorInfo, req *models.ReleaseRequest, plan *models.LegacyPlan) (*Result, error) {
	requestRepo := s.repomanager.Requests(tx)

	approvals, denials, err := requestRepo.TallyVotes(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	accepted, err := s.repomanager.Verifiers(tx).CountAccepted(ctx, plan.ID)
	if err != nil {
		return nil, err
	}

	tally := models.Tally{
		Approvals: approvals,
		Denials:   denials,
		Threshold: plan.ApprovalThreshold,
		Accepted:  accepted,
	}

	auditRepo := s.repomanager.Audit(tx)

	switch {
	case approvals >= plan.ApprovalThreshold:
		if err := requestRepo.SetDecided(ctx, req.ID, models.RequestApproved); err != nil {
			return nil, err
		}
		req.Status = models.RequestApproved

		// Enqueued in the same transaction: an APPROVED request without a
		// job row cannot be observed.
		if err := s.repomanager.Jobs(tx).Enqueue(ctx, req.ID, req.PlanID); err != nil {
			return nil, err
		}
		if err := audit.Record(ctx, auditRepo, actor, models.AuditReleaseApproved,
			"release_request", req.ID, map[string]string{"approvals": fmt.Sprintf("%d", approvals)}); err != nil {
			return nil, err
		}

	case denials*2 > accepted:
		if err := requestRepo.SetDecided(ctx, req.ID, models.RequestDenied); err != nil {
			return nil, err
		}
		req.Status = models.RequestDenied

		if err := audit.Record(ctx, auditRepo, actor, models.AuditReleaseDenied,
			"release_request", req.ID, map[string]string{"denials": fmt.Sprintf("%d", denials)}); err != nil {
			return nil, err
		}
	}

	return &Result{Request: req, Tally: tally}, nil
}

// Get reports the request's current state and tally.
func (s *Service) Get(ctx context.Context, requestID string) (*Result, error) {
	requestRepo := s.repomanager.Requests(s.db)

	req, err := requestRepo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	plan, err := s.repomanager.Plans(s.db).Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	approvals, denials, err := requestRepo.TallyVotes(ctx, requestID)
	if err != nil {
		return nil, err
	}
	accepted, err := s.repomanager.Verifiers(s.db).CountAccepted(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	return &Result{
		Request: req,
		Tally: models.Tally{
			Approvals: approvals,
			Denials:   denials,
			Threshold: plan.ApprovalThreshold,
			Accepted:  accepted,
		},
	}, nil
}

// notifyVerifiers tells the plan's other accepted verifiers that a request
// was opened, and copies the operator address when configured. Best-effort,
// after commit.
func (s *Service) notifyVerifiers(ctx context.Context, req *models.ReleaseRequest) {
	verifiers, err := s.repomanager.Verifiers(s.db).ListAccepted(ctx, req.PlanID)
	if err != nil {
		return
	}

	data := map[string]string{"plan_id": req.PlanID, "request_id": req.ID}
	for _, v := range verifiers {
		if v.ID == req.InitiatingVerifierID {
			continue
		}
		_ = s.sink.Enqueue(ctx, v.Email, notify.KindReleaseRequested, data)
	}
	if s.config.AdminEmail != "" {
		_ = s.sink.Enqueue(ctx, s.config.AdminEmail, notify.KindReleaseRequested, data)
	}
}
