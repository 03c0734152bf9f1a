package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lynnbot/assistant-server-go/internal/model"
	"github.com/lynnbot/assistant-server-go/internal/util"
)

type CredentialRepository interface {
	FindByUserID(ctx context.Context, userOpenID string) (*model.CredentialRecord, error)
	Upsert(ctx context.Context, params model.UpsertCredentialParams) error
	Delete(ctx context.Context, userOpenID string) error
	DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type credentialRepo struct {
	db            *sqlx.DB
	encryptionKey string
}

// NewCredentialRepository stores tokens in feishu_tokens. With a non-empty
// hex encryptionKey both tokens are sealed with AES-256-GCM at rest.
func NewCredentialRepository(db *sqlx.DB, encryptionKey string) CredentialRepository {
	return &credentialRepo{db: db, encryptionKey: encryptionKey}
}

func (r *credentialRepo) FindByUserID(ctx context.Context, userOpenID string) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT user_open_id, access_token, refresh_token, expires_in, updated_at
		FROM feishu_tokens
		WHERE user_open_id = $1
	`, userOpenID)
	found, err := HandleNotFound(&rec, err)
	if err != nil || found == nil {
		return found, err
	}

	if r.encryptionKey != "" {
		if found.AccessToken, err = util.Decrypt(r.encryptionKey, found.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if found.RefreshToken, err = util.Decrypt(r.encryptionKey, found.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return found, nil
}

// Upsert replaces all token fields in a single statement so readers never
// observe a half-updated record.
func (r *credentialRepo) Upsert(ctx context.Context, params model.UpsertCredentialParams) error {
	access, refresh := params.AccessToken, params.RefreshToken
	if r.encryptionKey != "" {
		var err error
		if access, err = util.Encrypt(r.encryptionKey, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = util.Encrypt(r.encryptionKey, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feishu_tokens (user_open_id, access_token, refresh_token, expires_in, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_open_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_in = EXCLUDED.expires_in,
			updated_at = EXCLUDED.updated_at
	`, params.UserOpenID, access, refresh, params.ExpiresIn, params.IssuedAt)
	return err
}

func (r *credentialRepo) Delete(ctx context.Context, userOpenID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM feishu_tokens WHERE user_open_id = $1`, userOpenID)
	return err
}

// DeleteStale removes records not refreshed within olderThan. Their refresh
// tokens have lapsed, so the user has to authorize again anyway.
func (r *credentialRepo) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM feishu_tokens
		WHERE updated_at < NOW() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
