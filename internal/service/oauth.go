package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	apperrors "github.com/lynnbot/assistant-server-go/internal/errors"
	"github.com/lynnbot/assistant-server-go/internal/feishu"
	"github.com/lynnbot/assistant-server-go/internal/util"
)

var ErrInvalidState = errors.New("invalid or expired OAuth state")

const oauthStateTTL = 10 * time.Minute

// OAuthService runs the user authorization code flow that produces the
// credentials the calendar tools use.
type OAuthService struct {
	api         *feishu.Client
	vault       *CredentialVault
	redis       *redis.Client
	appID       string
	redirectURL string
}

func NewOAuthService(api *feishu.Client, vault *CredentialVault, redisClient *redis.Client, appID, redirectURL string) *OAuthService {
	return &OAuthService{
		api:         api,
		vault:       vault,
		redis:       redisClient,
		appID:       appID,
		redirectURL: redirectURL,
	}
}

func stateKey(state string) string {
	return "assistant:oauth_state:" + state
}

// AuthURL builds the consent page URL with a fresh single-use state.
func (s *OAuthService) AuthURL(ctx context.Context) (string, error) {
	state, err := util.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	if err := s.redis.Set(ctx, stateKey(state), "1", oauthStateTTL).Err(); err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}
	return s.api.AuthorizeURL(s.appID, s.redirectURL) + "&state=" + state, nil
}

// HandleCallback exchanges the authorization code and stores the user's
// credential. It returns the authorized user's open_id.
func (s *OAuthService) HandleCallback(ctx context.Context, code, state string) (string, error) {
	if code == "" {
		return "", apperrors.MissingRequired("code")
	}

	deleted, err := s.redis.Del(ctx, stateKey(state)).Result()
	if err != nil {
		return "", fmt.Errorf("consume state: %w", err)
	}
	if state == "" || deleted == 0 {
		return "", ErrInvalidState
	}

	tenantToken, err := s.vault.GetApplicationToken(ctx)
	if err != nil {
		return "", err
	}

	tok, err := s.api.ExchangeCode(ctx, tenantToken, code)
	if err != nil {
		return "", apperrors.Auth("failed to exchange authorization code", err)
	}

	if err := s.vault.StoreUserToken(ctx, tok); err != nil {
		return "", apperrors.Database(err)
	}

	log.Info().Str("userId", tok.OpenID).Msg("user authorized calendar access")
	return tok.OpenID, nil
}
