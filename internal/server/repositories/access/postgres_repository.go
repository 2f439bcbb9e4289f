package access

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

const grantColumns = `id, message_id, recipient_id, token, expires_at, revoked_at, created_at`

func scanGrant(row *sql.Row) (*models.RecipientAccess, error) {
	g := &models.RecipientAccess{}
	err := row.Scan(&g.ID, &g.MessageID, &g.RecipientID, &g.Token, &g.ExpiresAt, &g.RevokedAt, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}

func (r *PostgresRepository) Create(ctx context.Context, grant *models.RecipientAccess) (*models.RecipientAccess, error) {
	query :=
		`INSERT INTO recipient_access (message_id, recipient_id, token, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		grant.MessageID, grant.RecipientID, grant.Token, grant.ExpiresAt).
		Scan(&grant.ID, &grant.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return grant, nil
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*models.RecipientAccess, error) {
	query := `SELECT ` + grantColumns + ` FROM recipient_access WHERE token = $1`
	return scanGrant(r.db.QueryRowContext(ctx, query, token))
}

func (r *PostgresRepository) GetLive(ctx context.Context, messageID, recipientID string) (*models.RecipientAccess, error) {
	query := `SELECT ` + grantColumns + ` FROM recipient_access WHERE message_id = $1 AND recipient_id = $2 AND revoked_at IS NULL`
	return scanGrant(r.db.QueryRowContext(ctx, query, messageID, recipientID))
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	query := `UPDATE recipient_access SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
