package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/lynnbot/assistant-server-go/internal/config"
	apperrors "github.com/lynnbot/assistant-server-go/internal/errors"
	"github.com/lynnbot/assistant-server-go/internal/feishu"
	"github.com/lynnbot/assistant-server-go/internal/model"
	"github.com/lynnbot/assistant-server-go/internal/repository"
)

// ErrNoCredential means the user has no usable delegated credential. Callers
// degrade to an explanatory message instead of failing.
var ErrNoCredential = errors.New("no credential")

// UserTokenSource hands out valid user access tokens.
type UserTokenSource interface {
	GetUserToken(ctx context.Context, userID string) (string, error)
}

// AppTokenSource hands out valid application (tenant) access tokens.
type AppTokenSource interface {
	GetApplicationToken(ctx context.Context) (string, error)
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// CredentialVault owns the tenant token cache and the user credential
// refresh lifecycle. Concurrent refreshes for one key inside the process are
// coalesced; across processes the last writer wins.
type CredentialVault struct {
	api       *feishu.Client
	repo      repository.CredentialRepository
	appID     string
	appSecret string
	now       func() time.Time

	mu     sync.Mutex
	tenant cachedToken
	group  singleflight.Group
}

type VaultOption func(*CredentialVault)

// WithClock overrides the wall clock used for expiry checks.
func WithClock(now func() time.Time) VaultOption {
	return func(v *CredentialVault) { v.now = now }
}

func NewCredentialVault(api *feishu.Client, repo repository.CredentialRepository, appID, appSecret string, opts ...VaultOption) *CredentialVault {
	v := &CredentialVault{
		api:       api,
		repo:      repo,
		appID:     appID,
		appSecret: appSecret,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *CredentialVault) GetApplicationToken(ctx context.Context) (string, error) {
	v.mu.Lock()
	cached := v.tenant
	v.mu.Unlock()
	if cached.token != "" && v.now().Before(cached.expiresAt) {
		return cached.token, nil
	}

	token, err, _ := v.group.Do("tenant", func() (any, error) {
		tok, err := v.api.TenantAccessToken(ctx, v.appID, v.appSecret)
		if err != nil {
			return "", apperrors.Auth("failed to get tenant access token", err)
		}
		expiresAt := v.now().Add(time.Duration(tok.Expire)*time.Second - config.ApplicationTokenMargin)

		v.mu.Lock()
		v.tenant = cachedToken{token: tok.Token, expiresAt: expiresAt}
		v.mu.Unlock()

		log.Debug().Time("expiresAt", expiresAt).Msg("tenant access token refreshed")
		return tok.Token, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// GetUserToken returns a valid access token for userID, refreshing it first
// when expired. A missing record, a store failure, or a failed refresh all
// yield ErrNoCredential.
func (v *CredentialVault) GetUserToken(ctx context.Context, userID string) (string, error) {
	rec, err := v.repo.FindByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to load user credential")
		return "", ErrNoCredential
	}
	if rec == nil {
		log.Info().Str("userId", userID).Msg("no stored credential for user")
		return "", ErrNoCredential
	}

	if !rec.Expired(v.now(), config.UserTokenMargin) {
		return rec.AccessToken, nil
	}

	log.Info().Str("userId", userID).Msg("user access token expired, refreshing")
	return v.refresh(ctx, rec)
}

// Refresh exchanges the stored refresh token for a new credential and
// persists the whole record.
func (v *CredentialVault) Refresh(ctx context.Context, userID string) (string, error) {
	rec, err := v.repo.FindByUserID(ctx, userID)
	if err != nil || rec == nil {
		if err != nil {
			log.Error().Err(err).Str("userId", userID).Msg("failed to load user credential for refresh")
		}
		return "", ErrNoCredential
	}
	return v.refresh(ctx, rec)
}

func (v *CredentialVault) refresh(ctx context.Context, rec *model.CredentialRecord) (string, error) {
	token, err, shared := v.group.Do("user:"+rec.UserOpenID, func() (any, error) {
		return v.doRefresh(ctx, rec)
	})
	if err != nil {
		log.Warn().Err(err).Str("userId", rec.UserOpenID).Msg("user token refresh failed")
		return "", ErrNoCredential
	}
	if shared {
		log.Debug().Str("userId", rec.UserOpenID).Msg("joined in-flight token refresh")
	}
	return token.(string), nil
}

func (v *CredentialVault) doRefresh(ctx context.Context, rec *model.CredentialRecord) (string, error) {
	tenantToken, err := v.GetApplicationToken(ctx)
	if err != nil {
		return "", err
	}

	issuedAt := v.now()
	tok, err := v.api.RefreshUserToken(ctx, tenantToken, rec.RefreshToken)
	if err != nil {
		return "", apperrors.Auth("failed to refresh user access token", err)
	}
	if tok.AccessToken == "" {
		return "", apperrors.Auth("refresh returned an empty access token", nil)
	}

	err = v.repo.Upsert(ctx, model.UpsertCredentialParams{
		UserOpenID:   rec.UserOpenID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		IssuedAt:     issuedAt,
	})
	if err != nil {
		// The old refresh token is spent; the new access token is still good
		// for this run.
		log.Error().Err(err).Str("userId", rec.UserOpenID).Msg("failed to persist refreshed credential")
	}

	log.Info().Str("userId", rec.UserOpenID).Int64("expiresIn", tok.ExpiresIn).Msg("user access token refreshed")
	return tok.AccessToken, nil
}

// StoreUserToken persists a freshly issued credential, e.g. after the OAuth
// code exchange.
func (v *CredentialVault) StoreUserToken(ctx context.Context, tok *feishu.UserToken) error {
	if tok.OpenID == "" {
		return fmt.Errorf("token response has no open_id")
	}
	return v.repo.Upsert(ctx, model.UpsertCredentialParams{
		UserOpenID:   tok.OpenID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		IssuedAt:     v.now(),
	})
}
