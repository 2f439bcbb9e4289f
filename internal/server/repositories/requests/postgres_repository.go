package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

const requestColumns = `id, plan_id, initiating_verifier_id, note, status, created_at, decided_at, processed_at`

func scanRequest(row *sql.Row) (*models.ReleaseRequest, error) {
	req := &models.ReleaseRequest{}
	err := row.Scan(&req.ID, &req.PlanID, &req.InitiatingVerifierID, &req.Note, &req.Status,
		&req.CreatedAt, &req.DecidedAt, &req.ProcessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return req, nil
}

func (r *PostgresRepository) Create(ctx context.Context, req *models.ReleaseRequest) (*models.ReleaseRequest, error) {
	query :=
		`INSERT INTO release_requests (plan_id, initiating_verifier_id, note, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		req.PlanID, req.InitiatingVerifierID, req.Note, req.Status).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return req, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.ReleaseRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM release_requests WHERE id = $1`
	return scanRequest(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.ReleaseRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM release_requests WHERE id = $1 FOR UPDATE`
	return scanRequest(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) PendingExists(ctx context.Context, planID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM release_requests WHERE plan_id = $1 AND status = $2)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, planID, models.RequestPending).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) SetDecided(ctx context.Context, id string, status string) error {
	query := `UPDATE release_requests SET status = $2, decided_at = now() WHERE id = $1 AND status = $3`

	res, err := r.db.ExecContext(ctx, query, id, status, models.RequestPending)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrInvalidStatus
	}
	return nil
}

func (r *PostgresRepository) MarkProcessed(ctx context.Context, id string) error {
	query := `UPDATE release_requests SET processed_at = now() WHERE id = $1 AND processed_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrInvalidStatus
	}
	return nil
}

func (r *PostgresRepository) InsertApproval(ctx context.Context, a *models.ReleaseApproval) (*models.ReleaseApproval, error) {
	query :=
		`INSERT INTO release_approvals (request_id, verifier_id, approved, note)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		a.RequestID, a.VerifierID, a.Approved, a.Note).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return a, nil
}

func (r *PostgresRepository) ApprovalExists(ctx context.Context, requestID, verifierID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM release_approvals WHERE request_id = $1 AND verifier_id = $2)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, requestID, verifierID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) TallyVotes(ctx context.Context, requestID string) (int, int, error) {
	query :=
		`SELECT
		   COUNT(*) FILTER (WHERE approved),
		   COUNT(*) FILTER (WHERE NOT approved)
		 FROM release_approvals WHERE request_id = $1`

	var approvals, denials int
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(&approvals, &denials)
	if err != nil {
		return 0, 0, fmt.Errorf("db error: %w", err)
	}
	return approvals, denials, nil
}
