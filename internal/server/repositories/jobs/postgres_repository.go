package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/floodyc/AfterLiving/internal/common"
	"github.com/floodyc/AfterLiving/internal/dbx"
	"github.com/floodyc/AfterLiving/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Enqueue(ctx context.Context, requestID, planID string) error {
	query :=
		`INSERT INTO release_jobs (request_id, plan_id)
		 VALUES ($1, $2)
		 ON CONFLICT (request_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, requestID, planID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ClaimNext(ctx context.Context) (*models.ReleaseJob, error) {
	query :=
		`UPDATE release_jobs SET status = $1, attempts = attempts + 1, updated_at = now()
		 WHERE id = (
		   SELECT id FROM release_jobs
		   WHERE status = $2 AND next_run_at <= now()
		   ORDER BY next_run_at
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1
		 )
		 RETURNING id, request_id, plan_id, status, attempts, last_error, next_run_at, created_at, updated_at`

	job := &models.ReleaseJob{}
	err := r.db.QueryRowContext(ctx, query, models.JobRunning, models.JobQueued).
		Scan(&job.ID, &job.RequestID, &job.PlanID, &job.Status, &job.Attempts,
			&job.LastError, &job.NextRunAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return job, nil
}

func (r *PostgresRepository) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE release_jobs SET status = $1, updated_at = now() WHERE status = $2 AND updated_at < $3`

	res, err := r.db.ExecContext(ctx, query, models.JobQueued, models.JobRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) MarkDone(ctx context.Context, id string) error {
	query := `UPDATE release_jobs SET status = $2, updated_at = now() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, models.JobDone); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Reschedule(ctx context.Context, id string, lastError string, nextRunAt time.Time) error {
	query := `UPDATE release_jobs SET status = $2, last_error = $3, next_run_at = $4, updated_at = now() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, models.JobQueued, lastError, nextRunAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkDead(ctx context.Context, id string, lastError string) error {
	query := `UPDATE release_jobs SET status = $2, last_error = $3, updated_at = now() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, models.JobDead, lastError); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
