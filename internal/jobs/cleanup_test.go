package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeCredentialStore struct {
	mu    sync.Mutex
	calls []time.Duration
	count int64
	err   error
	swept chan struct{}
}

func newFakeCredentialStore(count int64, err error) *fakeCredentialStore {
	return &fakeCredentialStore{count: count, err: err, swept: make(chan struct{}, 16)}
}

func (f *fakeCredentialStore) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, olderThan)
	f.mu.Unlock()
	select {
	case f.swept <- struct{}{}:
	default:
	}
	return f.count, f.err
}

func (f *fakeCredentialStore) recorded() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.calls...)
}

func TestCleanupJob_Cleanup(t *testing.T) {
	t.Run("passes max age to the store", func(t *testing.T) {
		store := newFakeCredentialStore(3, nil)
		job := NewCleanupJob(store, 30*24*time.Hour, time.Hour)

		job.cleanup()

		assert.Equal(t, []time.Duration{30 * 24 * time.Hour}, store.recorded())
	})

	t.Run("store error does not panic", func(t *testing.T) {
		store := newFakeCredentialStore(0, errors.New("db down"))
		job := NewCleanupJob(store, time.Hour, time.Hour)

		assert.NotPanics(t, job.cleanup)
		assert.Len(t, store.recorded(), 1)
	})
}

func TestCleanupJob_StartStop(t *testing.T) {
	store := newFakeCredentialStore(0, nil)
	job := NewCleanupJob(store, time.Hour, 10*time.Millisecond)

	job.Start()
	for i := 0; i < 2; i++ {
		select {
		case <-store.swept:
		case <-time.After(2 * time.Second):
			t.Fatal("cleanup did not run")
		}
	}
	job.Stop()

	assert.GreaterOrEqual(t, len(store.recorded()), 2)
}
