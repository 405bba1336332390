package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/parcelguard/internal/logger"
	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/service/registry"
)

// Allow to use a function as event sink
type sinkFunc func(ctx context.Context, event models.VerificationEvent) error

func (f sinkFunc) RecordVerification(ctx context.Context, event models.VerificationEvent) error {
	return f(ctx, event)
}

type recorder struct {
	mu     sync.Mutex
	events []models.VerificationEvent
}

func (r *recorder) RecordVerification(_ context.Context, event models.VerificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newEvent() models.VerificationEvent {
	return models.VerificationEvent{TokenID: uuid.New(), TokenType: models.TokenTypePermanent}
}

func TestDispatcher(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		d := New(Config{}, &recorder{}, nil, logger.NewNoOpLogger())

		require.Equal(t, defaultCountWorkers, d.countWorkers)
		require.Equal(t, defaultQueueSize, cap(d.queue))
	})

	t.Run("deliver events", func(t *testing.T) {
		sink := &recorder{}
		d := New(Config{Workers: 2}, sink, nil, logger.NewNoOpLogger())
		ctx, cancel := context.WithCancel(t.Context())
		stopped := d.Run(ctx)

		for range 10 {
			require.True(t, d.Enqueue(newEvent()))
		}

		require.Eventually(t, func() bool { return sink.count() == 10 }, time.Second, 10*time.Millisecond)
		cancel()
		<-stopped
	})

	t.Run("full queue drops events without blocking", func(t *testing.T) {
		d := New(Config{Workers: 1, QueueSize: 2}, &recorder{}, nil, logger.NewNoOpLogger())

		require.True(t, d.Enqueue(newEvent()))
		require.True(t, d.Enqueue(newEvent()))
		require.False(t, d.Enqueue(newEvent()), "third event must be dropped, nobody reads the queue")
	})

	t.Run("throttled workers wait and retry", func(t *testing.T) {
		var mu sync.Mutex
		calls := 0
		var delivered time.Time
		start := time.Now()

		sink := sinkFunc(func(_ context.Context, _ models.VerificationEvent) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return registry.NewError(registry.CodeRetryAfter, 200*time.Millisecond, errors.New("slow down"))
			}
			delivered = time.Now()
			return nil
		})

		d := New(Config{Workers: 1}, sink, nil, logger.NewNoOpLogger())
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		d.Run(ctx)

		d.Enqueue(newEvent())

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return calls == 2
		}, 2*time.Second, 10*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		require.GreaterOrEqual(t, delivered.Sub(start), 200*time.Millisecond, "event must be retried after rate limit passed")
	})

	t.Run("stop while waiting for rate limit", func(t *testing.T) {
		d := New(Config{Workers: 3}, &recorder{}, nil, logger.NewNoOpLogger())
		d.waitUntil.Store(time.Now().Add(time.Hour).UnixMilli())
		ctx, cancel := context.WithCancel(t.Context())

		stopped := d.Run(ctx)
		cancel()

		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("dispatcher has to stop on context cancel")
		}
	})
}
