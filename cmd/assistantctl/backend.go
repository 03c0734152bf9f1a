package main

import (
	"context"
	"fmt"

	"github.com/lynnbot/assistant-server-go/internal/config"
	"github.com/lynnbot/assistant-server-go/internal/database"
	"github.com/lynnbot/assistant-server-go/internal/feishu"
	"github.com/lynnbot/assistant-server-go/internal/redis"
	"github.com/lynnbot/assistant-server-go/internal/repository"
	"github.com/lynnbot/assistant-server-go/internal/service"
)

// backend is what the commands operate on. Connections are opened on first
// use so commands that only need config never dial anything.
type backend interface {
	AuthLink() string
	DirectAuthURL(ctx context.Context) (string, error)
	Migrate(ctx context.Context) ([]int, error)
	ResetHistory(ctx context.Context, openID string) error
	RevokeCredential(ctx context.Context, openID string) error
	AddKnowledge(ctx context.Context, content string) (int64, error)
	Close() error
}

type openFunc func() (backend, error)

type liveBackend struct {
	cfg   *config.Config
	db    *database.DB
	redis *redis.Client
}

func openBackend() (backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &liveBackend{cfg: cfg}, nil
}

func (b *liveBackend) database() (*database.DB, error) {
	if b.db != nil {
		return b.db, nil
	}
	db, err := database.Connect(b.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	b.db = db
	return db, nil
}

func (b *liveBackend) redisClient() (*redis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	rc, err := redis.NewClient(b.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	b.redis = rc
	return rc, nil
}

func (b *liveBackend) AuthLink() string {
	return b.cfg.AuthLinkURL()
}

func (b *liveBackend) DirectAuthURL(ctx context.Context) (string, error) {
	rc, err := b.redisClient()
	if err != nil {
		return "", err
	}
	api := feishu.NewClient(b.cfg.FeishuBaseURL, config.FeishuHTTPTimeout)
	// AuthURL only issues state; the vault is needed by the callback, which
	// the server handles.
	oauth := service.NewOAuthService(api, nil, rc.Client, b.cfg.FeishuAppID, b.cfg.OAuthRedirectURL())
	return oauth.AuthURL(ctx)
}

func (b *liveBackend) Migrate(ctx context.Context) ([]int, error) {
	db, err := b.database()
	if err != nil {
		return nil, err
	}
	return db.Migrate(ctx)
}

func (b *liveBackend) ResetHistory(ctx context.Context, openID string) error {
	db, err := b.database()
	if err != nil {
		return err
	}
	return service.NewMemoryStore(repository.NewTurnRepository(db.DB)).Clear(ctx, openID)
}

func (b *liveBackend) RevokeCredential(ctx context.Context, openID string) error {
	db, err := b.database()
	if err != nil {
		return err
	}
	return repository.NewCredentialRepository(db.DB, b.cfg.TokenEncryptionKey).Delete(ctx, openID)
}

func (b *liveBackend) AddKnowledge(ctx context.Context, content string) (int64, error) {
	db, err := b.database()
	if err != nil {
		return 0, err
	}
	entry, err := repository.NewKnowledgeRepository(db.DB).Create(ctx, content)
	if err != nil {
		return 0, err
	}
	return entry.ID, nil
}

func (b *liveBackend) Close() error {
	if b.redis != nil {
		b.redis.Close()
	}
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
