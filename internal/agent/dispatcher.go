package agent

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/lynnbot/assistant-server-go/internal/model"
)

// EventHandler processes one event to completion.
type EventHandler interface {
	Handle(ctx context.Context, event *model.Event)
}

// Dispatcher runs each submitted event in its own goroutine, detached from
// the request that delivered it. Runs are not cancelled; Wait exists for
// shutdown.
type Dispatcher struct {
	handler  EventHandler
	ctx      context.Context
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewDispatcher binds runs to ctx, which should live as long as the process.
func NewDispatcher(ctx context.Context, handler EventHandler) *Dispatcher {
	return &Dispatcher{handler: handler, ctx: context.WithoutCancel(ctx)}
}

func (d *Dispatcher) Submit(event *model.Event) {
	d.wg.Add(1)
	d.inFlight.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("eventId", event.Header.EventID).
					Str("stack", string(debug.Stack())).
					Msg("event handler panicked")
			}
		}()
		d.handler.Handle(d.ctx, event)
	}()
}

// InFlight reports the number of runs not yet finished.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Wait blocks until all submitted runs finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		log.Warn().Int64("inFlight", d.InFlight()).Msg("shutdown timed out waiting for agent runs")
		return ctx.Err()
	}
}
