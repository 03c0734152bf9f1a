package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisutil "github.com/lynnbot/assistant-server-go/internal/redis"
)

// Deduplicator remembers platform message ids so redelivered events are
// processed once.
type Deduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeduplicator(client *redis.Client, ttl time.Duration) *Deduplicator {
	return &Deduplicator{client: client, ttl: ttl}
}

// FirstSeen marks messageID as seen and reports whether this call was the
// first. Redis failures let the event through.
func (d *Deduplicator) FirstSeen(ctx context.Context, messageID string) bool {
	if messageID == "" {
		return true
	}
	ok, err := d.client.SetNX(ctx, redisutil.DedupKey(messageID), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		log.Warn().Err(err).Str("messageId", messageID).Msg("dedup check failed, processing event")
		return true
	}
	return ok
}
