package verifiers

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

const verifierColumns = `id, plan_id, email, display_name, status, token, invited_at, responded_at, revoked_at`

func scanVerifier(row *sql.Row) (*models.Verifier, error) {
	v := &models.Verifier{}
	err := row.Scan(&v.ID, &v.PlanID, &v.Email, &v.DisplayName, &v.Status, &v.Token,
		&v.InvitedAt, &v.RespondedAt, &v.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) Create(ctx context.Context, v *models.Verifier) (*models.Verifier, error) {
	query :=
		`INSERT INTO verifiers (plan_id, email, display_name, status, token)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, invited_at`

	err := r.db.QueryRowContext(ctx, query,
		v.PlanID, v.Email, v.DisplayName, v.Status, v.Token).Scan(&v.ID, &v.InvitedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return v, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Verifier, error) {
	query := `SELECT ` + verifierColumns + ` FROM verifiers WHERE id = $1`
	return scanVerifier(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*models.Verifier, error) {
	query := `SELECT ` + verifierColumns + ` FROM verifiers WHERE token = $1`
	return scanVerifier(r.db.QueryRowContext(ctx, query, token))
}

func (r *PostgresRepository) ExistsNonRevoked(ctx context.Context, planID, email string) (bool, error) {
	query :=
		`SELECT EXISTS (
		   SELECT 1 FROM verifiers
		   WHERE plan_id = $1 AND lower(email) = lower($2) AND status <> $3
		 )`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, planID, email, models.VerifierRevoked).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) CountNonRevoked(ctx context.Context, planID string) (int, error) {
	query := `SELECT COUNT(*) FROM verifiers WHERE plan_id = $1 AND status <> $2`

	var n int
	err := r.db.QueryRowContext(ctx, query, planID, models.VerifierRevoked).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountAccepted(ctx context.Context, planID string) (int, error) {
	query := `SELECT COUNT(*) FROM verifiers WHERE plan_id = $1 AND status = $2`

	var n int
	err := r.db.QueryRowContext(ctx, query, planID, models.VerifierAccepted).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListAccepted(ctx context.Context, planID string) ([]*models.Verifier, error) {
	query := `SELECT ` + verifierColumns + ` FROM verifiers WHERE plan_id = $1 AND status = $2 ORDER BY invited_at`

	rows, err := r.db.QueryContext(ctx, query, planID, models.VerifierAccepted)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Verifier
	for rows.Next() {
		v := &models.Verifier{}
		err := rows.Scan(&v.ID, &v.PlanID, &v.Email, &v.DisplayName, &v.Status, &v.Token,
			&v.InvitedAt, &v.RespondedAt, &v.RevokedAt)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) MarkResponded(ctx context.Context, id string, status string) error {
	query := `UPDATE verifiers SET status = $2, responded_at = now() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) MarkRevoked(ctx context.Context, id string) error {
	query := `UPDATE verifiers SET status = $2, revoked_at = now() WHERE id = $1 AND status <> $2`

	res, err := r.db.ExecContext(ctx, query, id, models.VerifierRevoked)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
