package plans

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

const planColumns = `id, owner_id, approval_threshold, total_verifiers, status, created_at`

func (r *PostgresRepository) scanPlan(row *sql.Row) (*models.LegacyPlan, error) {
	p := &models.LegacyPlan{}
	err := row.Scan(&p.ID, &p.OwnerID, &p.ApprovalThreshold, &p.TotalVerifiers, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.LegacyPlan, error) {
	query := `SELECT ` + planColumns + ` FROM legacy_plans WHERE id = $1`
	return r.scanPlan(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.LegacyPlan, error) {
	query := `SELECT ` + planColumns + ` FROM legacy_plans WHERE id = $1 FOR UPDATE`
	return r.scanPlan(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	query := `UPDATE legacy_plans SET status = $2 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
