// Package messages implements the video message lifecycle around release:
// upload initialization with envelope encryption, upload finalization,
// deletion, recipient management and the recipient view flow.
//
// The service never sees plaintext video. Clients encrypt locally with a
// per-message data key; the service stores only the wrapped key and issues
// presigned URLs against object storage.
package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/floodyc/AfterLiving/internal/common"
	"github.com/floodyc/AfterLiving/internal/dbx"
	"github.com/floodyc/AfterLiving/internal/keyvault"
	"github.com/floodyc/AfterLiving/internal/server/audit"
	"github.com/floodyc/AfterLiving/internal/server/blob"
	"github.com/floodyc/AfterLiving/internal/server/config"
	"github.com/floodyc/AfterLiving/internal/server/models"
	"github.com/floodyc/AfterLiving/internal/server/repositories/repomanager"
	"github.com/floodyc/AfterLiving/internal/tokens"
)

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *config.Config
	vault       *keyvault.Vault
	store       blob.Store
}

func NewService(db *sql.DB, repomanager repomanager.RepositoryManager, config *config.Config,
	vault *keyvault.Vault, store blob.Store) *Service {
	return &Service{
		db:          db,
		repomanager: repomanager,
		config:      config,
		vault:       vault,
		store:       store,
	}
}

func newStorageKey(planID string) string {
	return fmt.Sprintf("plans/%s/%s", planID, uuid.New())
}

// InitUpload mints a fresh data key, wraps it under the master key, creates
// the PENDING_UPLOAD row and returns a presigned PUT URL for the ciphertext.
// The plaintext data key never leaves this call.
func (s *Service) InitUpload(ctx context.Context, actor models.ActorInfo, planID, title, contentType string, size int64) (*models.VideoMessage, string, error) {
	plan, err := s.repomanager.Plans(s.db).Get(ctx, planID)
	if err != nil {
		return nil, "", err
	}
	if plan.Status != models.PlanActive {
		return nil, "", common.ErrInvalidStatus
	}

	dek, err := s.vault.NewDataKey()
	if err != nil {
		return nil, "", fmt.Errorf("error generating data key: %w", err)
	}
	envelope, err := s.vault.Wrap(dek)
	common.WipeByteArray(dek)
	if err != nil {
		return nil, "", fmt.Errorf("error wrapping data key: %w", err)
	}

	msg := &models.VideoMessage{
		PlanID:           planID,
		Title:            title,
		Status:           models.MessagePendingUpload,
		StorageKey:       newStorageKey(planID),
		ContentType:      contentType,
		SizeBytes:        size,
		EncryptedDataKey: envelope,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		msg, err = s.repomanager.Messages(tx).Create(ctx, msg)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	putURL, err := s.store.PutURL(ctx, msg.StorageKey, s.config.PresignTTL)
	if err != nil {
		return nil, "", fmt.Errorf("error presigning upload: %w", err)
	}

	return msg, putURL, nil
}

// FinalizeUpload confirms the ciphertext landed and flips the message to
// READY. From this point the wrapped data key is immutable.
func (s *Service) FinalizeUpload(ctx context.Context, actor models.ActorInfo, messageID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		msgRepo := s.repomanager.Messages(tx)

		msg, err := msgRepo.Get(ctx, messageID)
		if err != nil {
			return err
		}
		if err := msgRepo.UpdateStatus(ctx, messageID, models.MessagePendingUpload, models.MessageReady); err != nil {
			return err
		}

		return audit.Record(ctx, s.repomanager.Audit(tx), actor, models.AuditMessageUploadFinalized,
			"video_message", messageID, map[string]string{"plan_id": msg.PlanID})
	})
}

// AddRecipient registers an addressee on a message that has not been
// released yet.
func (s *Service) AddRecipient(ctx context.Context, actor models.ActorInfo, messageID, email, name string) (*models.Recipient, error) {
	var rcp *models.Recipient

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		msgRepo := s.repomanager.Messages(tx)

		msg, err := msgRepo.Get(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.Status == models.MessageReleased {
			return common.ErrInvalidStatus
		}

		rcp, err = msgRepo.AddRecipient(ctx, &models.Recipient{
			MessageID: messageID,
			Email:     email,
			Name:      name,
			Status:    models.RecipientPending,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return rcp, nil
}

// Delete removes the message: row and audit first, then the blob. Recipient
// rows and access grants go with it via cascade, so released links die with
// the message. A blob delete that fails after the commit leaves an orphaned
// object under the reported storage key, never a live row pointing at a
// destroyed one.
func (s *Service) Delete(ctx context.Context, actor models.ActorInfo, messageID string) error {
	msg, err := s.repomanager.Messages(s.db).Get(ctx, messageID)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Messages(tx).Delete(ctx, messageID); err != nil {
			return err
		}
		return audit.Record(ctx, s.repomanager.Audit(tx), actor, models.AuditMessageDeleted,
			"video_message", messageID, map[string]string{"plan_id": msg.PlanID})
	})
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, msg.StorageKey); err != nil {
		return fmt.Errorf("error deleting blob %s: %w", msg.StorageKey, err)
	}
	return nil
}

// View is what a recipient gets back for a valid access token.
type View struct {
	Message     *models.VideoMessage
	DownloadURL string
}

// RecipientView exchanges a recipient access token for a presigned download
// URL. The token must verify, the grant must be live, and the message must
// actually be RELEASED. Every verification failure lands in the audit
// ledger.
func (s *Service) RecipientView(ctx context.Context, actor models.ActorInfo, token string) (*View, error) {
	claims, err := tokens.ParseAccessToken(token, []byte(s.config.TokenSecret))
	if err != nil {
		s.auditVerifyFailure(ctx, actor, "", err)
		return nil, err
	}

	grant, err := s.repomanager.Access(s.db).GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.auditVerifyFailure(ctx, actor, claims.MessageID, common.ErrInvalidToken)
			return nil, common.ErrInvalidToken
		}
		return nil, err
	}

	now := time.Now()
	switch {
	case grant.RevokedAt != nil:
		s.auditVerifyFailure(ctx, actor, grant.MessageID, common.ErrTokenRevoked)
		return nil, common.ErrTokenRevoked
	case !grant.Live(now):
		s.auditVerifyFailure(ctx, actor, grant.MessageID, common.ErrTokenExpired)
		return nil, common.ErrTokenExpired
	case grant.MessageID != claims.MessageID || grant.RecipientID != claims.RecipientID:
		// The signed claims and the stored grant disagree. Treat as forgery.
		s.auditVerifyFailure(ctx, actor, grant.MessageID, common.ErrInvalidToken)
		return nil, common.ErrInvalidToken
	}

	msg, err := s.repomanager.Messages(s.db).Get(ctx, grant.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.Status != models.MessageReleased {
		s.auditVerifyFailure(ctx, actor, msg.ID, common.ErrNotAuthorized)
		return nil, common.ErrNotAuthorized
	}

	url, err := s.store.GetURL(ctx, msg.StorageKey, s.config.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("error presigning download: %w", err)
	}

	return &View{Message: msg, DownloadURL: url}, nil
}

// auditVerifyFailure records a failed access-token verification. The
// rejection stands whether or not the append lands.
func (s *Service) auditVerifyFailure(ctx context.Context, actor models.ActorInfo, messageID string, cause error) {
	_ = audit.Record(ctx, s.repomanager.Audit(s.db), actor, models.AuditAccessTokenVerifyFailed,
		"video_message", messageID, map[string]string{"reason": cause.Error()})
}
