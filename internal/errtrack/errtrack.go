// Package errtrack reports unexpected failures to an external error tracker.
package errtrack

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

type Tracker interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
	Flush(timeout time.Duration)
}

// New returns a Sentry-backed tracker when dsn is set, otherwise a no-op.
func New(dsn, environment string) (Tracker, error) {
	if dsn == "" {
		return Noop{}, nil
	}
	return NewSentry(dsn, environment)
}

type Sentry struct {
	hub *sentry.Hub
}

func NewSentry(dsn, environment string) (*Sentry, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, err
	}
	return &Sentry{hub: sentry.CurrentHub()}, nil
}

func (s *Sentry) CaptureError(ctx context.Context, err error, tags map[string]string) {
	hub := s.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		if userID, ok := tags["userId"]; ok {
			scope.SetUser(sentry.User{ID: userID})
		}
	})
	hub.CaptureException(err)
}

func (s *Sentry) Flush(timeout time.Duration) {
	if !sentry.Flush(timeout) {
		log.Warn().Msg("sentry flush timed out")
	}
}

type Noop struct{}

func (Noop) CaptureError(context.Context, error, map[string]string) {}

func (Noop) Flush(time.Duration) {}
