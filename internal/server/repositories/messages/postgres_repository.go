package messages

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

const messageColumns = `id, plan_id, title, status, storage_key, content_type, size_bytes, encrypted_data_key, created_at, released_at`

func scanMessage(row *sql.Row) (*models.VideoMessage, error) {
	m := &models.VideoMessage{}
	err := row.Scan(&m.ID, &m.PlanID, &m.Title, &m.Status, &m.StorageKey, &m.ContentType,
		&m.SizeBytes, &m.EncryptedDataKey, &m.CreatedAt, &m.ReleasedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) Create(ctx context.Context, m *models.VideoMessage) (*models.VideoMessage, error) {
	query :=
		`INSERT INTO video_messages (plan_id, title, status, storage_key, content_type, size_bytes, encrypted_data_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		m.PlanID, m.Title, m.Status, m.StorageKey, m.ContentType, m.SizeBytes, m.EncryptedDataKey).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return m, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.VideoMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM video_messages WHERE id = $1`
	return scanMessage(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) ListReleasable(ctx context.Context, planID string) ([]*models.VideoMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM video_messages WHERE plan_id = $1 AND status IN ($2, $3) ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, planID, models.MessageReady, models.MessageReleased)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.VideoMessage
	for rows.Next() {
		m := &models.VideoMessage{}
		err := rows.Scan(&m.ID, &m.PlanID, &m.Title, &m.Status, &m.StorageKey, &m.ContentType,
			&m.SizeBytes, &m.EncryptedDataKey, &m.CreatedAt, &m.ReleasedAt)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to string) error {
	query := `UPDATE video_messages SET status = $3 WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrInvalidStatus
	}
	return nil
}

func (r *PostgresRepository) MarkReleased(ctx context.Context, id string) error {
	query := `UPDATE video_messages SET status = $3, released_at = now() WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query, id, models.MessageReady, models.MessageReleased)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrInvalidStatus
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM video_messages WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) AddRecipient(ctx context.Context, rcp *models.Recipient) (*models.Recipient, error) {
	query :=
		`INSERT INTO recipients (message_id, email, name, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		rcp.MessageID, rcp.Email, rcp.Name, rcp.Status).Scan(&rcp.ID, &rcp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return rcp, nil
}

func (r *PostgresRepository) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	query := `SELECT id, message_id, email, name, status, created_at FROM recipients WHERE id = $1`

	rcp := &models.Recipient{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&rcp.ID, &rcp.MessageID, &rcp.Email, &rcp.Name, &rcp.Status, &rcp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rcp, nil
}

func (r *PostgresRepository) ListRecipients(ctx context.Context, messageID string) ([]*models.Recipient, error) {
	query := `SELECT id, message_id, email, name, status, created_at FROM recipients WHERE message_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Recipient
	for rows.Next() {
		rcp := &models.Recipient{}
		err := rows.Scan(&rcp.ID, &rcp.MessageID, &rcp.Email, &rcp.Name, &rcp.Status, &rcp.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, rcp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) MarkRecipientNotified(ctx context.Context, id string) error {
	query := `UPDATE recipients SET status = $2 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, models.RecipientNotified)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
