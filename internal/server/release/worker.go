package release

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/floodyc/AfterLiving/internal/common"
	"github.com/floodyc/AfterLiving/internal/dbx"
	"github.com/floodyc/AfterLiving/internal/keyvault"
	"github.com/floodyc/AfterLiving/internal/logging"
	"github.com/floodyc/AfterLiving/internal/server/audit"
	"github.com/floodyc/AfterLiving/internal/server/config"
	"github.com/floodyc/AfterLiving/internal/server/models"
	"github.com/floodyc/AfterLiving/internal/server/notify"
	"github.com/floodyc/AfterLiving/internal/server/repositories/repomanager"
	"github.com/floodyc/AfterLiving/internal/tokens"
)

// workerActor identifies pipeline-originated audit rows.
var workerActor = models.ActorInfo{Actor: "release-worker"}

// staleJobLease bounds how long a claimed job may sit in running. A worker
// that dies mid-job leaves the row behind; the next drain pass requeues it
// once the lease is over.
const staleJobLease = 5 * time.Minute

// Worker drains the release job queue. Jobs are claimed with FOR UPDATE SKIP
// LOCKED, so multiple workers can run against the same database.
type Worker struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *config.Config
	vault       *keyvault.Vault
	sink        notify.Sink
	logger      logging.Logger
}

func NewWorker(db *sql.DB, repomanager repomanager.RepositoryManager, config *config.Config,
	vault *keyvault.Vault, sink notify.Sink, logger logging.Logger) *Worker {
	return &Worker{
		db:          db,
		repomanager: repomanager,
		config:      config,
		vault:       vault,
		sink:        sink,
		logger:      logger,
	}
}

// Run polls for runnable jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.WorkerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	n, err := w.repomanager.Jobs(w.db).RequeueStale(ctx, time.Now().Add(-staleJobLease))
	if err != nil {
		w.logger.Error(ctx, "requeueing stale release jobs", "error", err)
	} else if n > 0 {
		w.logger.Warn(ctx, "requeued stale release jobs", "count", n)
	}

	for {
		job, err := w.claim(ctx)
		if err != nil {
			if !errors.Is(err, common.ErrorNotFound) {
				w.logger.Error(ctx, "claiming release job", "error", err)
			}
			return
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) claim(ctx context.Context) (*models.ReleaseJob, error) {
	var job *models.ReleaseJob
	err := dbx.WithTx(ctx, w.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		job, err = w.repomanager.Jobs(tx).ClaimNext(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// handle runs one job, retrying transient failures in-process before falling
// back to a rescheduled attempt. A job that exhausts its attempt budget is
// parked dead, never dropped. An envelope authentication failure parks the
// job immediately: no number of redeliveries can make a tampered or
// wrongly-keyed envelope unwrap.
func (w *Worker) handle(ctx context.Context, job *models.ReleaseJob) {
	w.logger.Info(ctx, "release job claimed", "job_id", job.ID, "request_id", job.RequestID, "attempt", job.Attempts)

	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := w.process(ctx, job); err != nil {
			if errors.Is(err, common.ErrAuthenticationFailed) {
				// Tampered or wrongly-keyed envelope. Retrying cannot help.
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		if err := w.repomanager.Jobs(w.db).MarkDone(ctx, job.ID); err != nil {
			w.logger.Error(ctx, "marking release job done", "job_id", job.ID, "error", err)
		}
		return
	}

	if errors.Is(err, common.ErrAuthenticationFailed) || job.Attempts >= w.config.WorkerMaxAttempts {
		w.logger.Error(ctx, "release job dead", "job_id", job.ID, "request_id", job.RequestID, "error", err)
		deadErr := dbx.WithTx(ctx, w.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := w.repomanager.Jobs(tx).MarkDead(ctx, job.ID, err.Error()); err != nil {
				return err
			}
			return audit.Record(ctx, w.repomanager.Audit(tx), workerActor, models.AuditReleaseJobDead,
				"release_request", job.RequestID, map[string]string{"job_id": job.ID, "error": err.Error()})
		})
		if deadErr != nil {
			w.logger.Error(ctx, "parking release job", "job_id", job.ID, "error", deadErr)
		}
		return
	}

	next := time.Now().Add(backoffDelay(job.Attempts))
	w.logger.Warn(ctx, "release job rescheduled", "job_id", job.ID, "attempt", job.Attempts, "next_run_at", next, "error", err)
	if err := w.repomanager.Jobs(w.db).Reschedule(ctx, job.ID, err.Error(), next); err != nil {
		w.logger.Error(ctx, "rescheduling release job", "job_id", job.ID, "error", err)
	}
}

func backoffDelay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// process executes the release for one job. Every step is idempotent, so a
// redelivered or retried job converges instead of double-releasing: already
// RELEASED messages are only revisited for recipients that still lack a live
// grant.
func (w *Worker) process(ctx context.Context, job *models.ReleaseJob) error {
	req, err := w.repomanager.Requests(w.db).Get(ctx, job.RequestID)
	if err != nil {
		return err
	}
	if req.Status != models.RequestApproved || req.ProcessedAt != nil {
		// Duplicate delivery. Nothing to do.
		return nil
	}

	msgs, err := w.repomanager.Messages(w.db).ListReleasable(ctx, job.PlanID)
	if err != nil {
		return err
	}

	released := 0
	var firstErr error
	for _, m := range msgs {
		if err := w.releaseMessage(ctx, m); err != nil {
			w.logger.Error(ctx, "releasing message", "message_id", m.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		released++
	}
	if firstErr != nil {
		return fmt.Errorf("released %d of %d messages: %w", released, len(msgs), firstErr)
	}

	return dbx.WithTx(ctx, w.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := w.repomanager.Plans(tx).UpdateStatus(ctx, job.PlanID, models.PlanCompleted); err != nil {
			return err
		}
		if err := w.repomanager.Requests(tx).MarkProcessed(ctx, job.RequestID); err != nil {
			return err
		}
		return audit.Record(ctx, w.repomanager.Audit(tx), workerActor, models.AuditReleaseFinalized,
			"legacy_plan", job.PlanID, map[string]string{
				"request_id": job.RequestID,
				"released":   fmt.Sprintf("%d", released),
			})
	})
}

// releaseMessage flips one message to RELEASED and grants access to each of
// its recipients. Per-recipient failures do not block the others.
func (w *Worker) releaseMessage(ctx context.Context, m *models.VideoMessage) error {
	// The wrapped data key must still unwrap before anyone is told the
	// message is available.
	dek, err := w.vault.Unwrap(m.EncryptedDataKey)
	if err != nil {
		if errors.Is(err, common.ErrAuthenticationFailed) {
			w.logger.Error(ctx, "key envelope failed authentication", "message_id", m.ID)
		}
		return err
	}
	common.WipeByteArray(dek)

	if m.Status == models.MessageReady {
		err := dbx.WithTx(ctx, w.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := w.repomanager.Messages(tx).MarkReleased(ctx, m.ID); err != nil {
				return err
			}
			return audit.Record(ctx, w.repomanager.Audit(tx), workerActor, models.AuditMessageReleased,
				"video_message", m.ID, map[string]string{"plan_id": m.PlanID})
		})
		if err != nil {
			return err
		}
	}

	rcpts, err := w.repomanager.Messages(w.db).ListRecipients(ctx, m.ID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, rcp := range rcpts {
		if err := w.grantAndNotify(ctx, m, rcp); err != nil {
			w.logger.Error(ctx, "granting recipient access", "message_id", m.ID, "recipient_id", rcp.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// grantAndNotify mints (or reuses) the recipient's access grant and sends
// the view link. A live unexpired grant is reused verbatim; an expired one
// is revoked and replaced.
func (w *Worker) grantAndNotify(ctx context.Context, m *models.VideoMessage, rcp *models.Recipient) error {
	now := time.Now()

	var grantToken string

	existing, err := w.repomanager.Access(w.db).GetLive(ctx, m.ID, rcp.ID)
	switch {
	case err == nil && existing.Live(now):
		grantToken = existing.Token
	case err == nil || errors.Is(err, common.ErrorNotFound):
		token, err := tokens.GenerateAccessToken(m.ID, rcp.ID, []byte(w.config.TokenSecret), w.config.AccessGrantTTL)
		if err != nil {
			return err
		}
		grantToken = token

		err = dbx.WithTx(ctx, w.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			accessRepo := w.repomanager.Access(tx)
			if existing != nil {
				// Expired but not revoked; retire it before minting.
				if err := accessRepo.Revoke(ctx, existing.ID); err != nil {
					return err
				}
			}
			_, err := accessRepo.Create(ctx, &models.RecipientAccess{
				MessageID:   m.ID,
				RecipientID: rcp.ID,
				Token:       grantToken,
				ExpiresAt:   now.Add(w.config.AccessGrantTTL),
			})
			return err
		})
		if err != nil {
			return err
		}
	default:
		return err
	}

	viewURL := fmt.Sprintf("%s?token=%s", w.config.BaseViewURL, grantToken)
	if err := w.sink.Enqueue(ctx, rcp.Email, notify.KindRecipientAccess, map[string]string{
		"message_id": m.ID,
		"view_url":   viewURL,
	}); err != nil {
		return err
	}

	if rcp.Status == models.RecipientNotified {
		return nil
	}

	return dbx.WithTx(ctx, w.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := w.repomanager.Messages(tx).MarkRecipientNotified(ctx, rcp.ID); err != nil {
			return err
		}
		return audit.Record(ctx, w.repomanager.Audit(tx), workerActor, models.AuditRecipientNotified,
			"recipient", rcp.ID, map[string]string{"message_id": m.ID})
	})
}
