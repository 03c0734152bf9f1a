package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StaleCredentialStore is the part of the credential repository the sweeper
// needs.
type StaleCredentialStore interface {
	DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob periodically deletes credentials whose refresh token can no
// longer be used.
type CleanupJob struct {
	credentials StaleCredentialStore
	maxAge      time.Duration
	interval    time.Duration
	done        chan struct{}
}

func NewCleanupJob(credentials StaleCredentialStore, maxAge, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		credentials: credentials,
		maxAge:      maxAge,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("maxAge", j.maxAge).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "stale credentials", func(ctx context.Context) (int64, error) {
		return j.credentials.DeleteStale(ctx, j.maxAge)
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
