// Package audit delivers verification events to the parcel registry in background.
package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkiryanov/parcelguard/internal/logger"
	"github.com/nkiryanov/parcelguard/internal/metrics"
	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/service/registry"
)

const (
	defaultCountWorkers = 4
	defaultQueueSize    = 1024
	defaultSendTimeout  = 5 * time.Second
)

type eventSink interface {
	RecordVerification(ctx context.Context, event models.VerificationEvent) error
}

type Config struct {
	// Number of workers delivering events
	Workers int

	// Events waiting for delivery, new events are dropped when the queue is full
	QueueSize int
}

type Dispatcher struct {
	countWorkers int
	queue        chan models.VerificationEvent

	// Registry may throttle delivery
	// If so, workers wait until the time is up
	waitUntil atomic.Int64

	sink    eventSink
	metrics *metrics.Metrics
	logger  logger.Logger
}

func New(cfg Config, sink eventSink, m *metrics.Metrics, l logger.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultCountWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Dispatcher{
		countWorkers: cfg.Workers,
		queue:        make(chan models.VerificationEvent, cfg.QueueSize),
		sink:         sink,
		metrics:      m,
		logger:       l.WithGroup("audit"),
	}
}

// Enqueue schedules event delivery, never blocks
func (d *Dispatcher) Enqueue(event models.VerificationEvent) bool {
	select {
	case d.queue <- event:
		return true
	default:
		d.logger.Warn("Audit queue is full, event dropped", "token_id", event.TokenID)
		d.metrics.AuditDropped()
		return false
	}
}

// Run starts workers. Returned channel is closed when all workers stopped.
func (d *Dispatcher) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range d.countWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		d.logger.Debug("Audit dispatcher stopped", "undelivered", len(d.queue))
	}()

	return idleStopped
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		// Wait until rate limit is passed or context is done
		waitUntil := time.UnixMilli(d.waitUntil.Load())
		if waitUntil.After(time.Now()) {
			d.logger.Debug("Worker is waiting for rate limit to reset", "wait_until", waitUntil)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case event := <-d.queue:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event models.VerificationEvent) {
	ctx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	err := d.sink.RecordVerification(ctx, event)
	var regErr *registry.Error

	switch {
	case err == nil:
		d.logger.Debug("Verification event delivered", "token_id", event.TokenID)

	case errors.As(err, &regErr) && regErr.Code == registry.CodeRetryAfter:
		d.logger.Info("Registry rate limit exceeded, waiting", "retry_after", regErr.RetryAfter)
		d.waitUntil.Store(time.Now().Add(regErr.RetryAfter).UnixMilli())
		d.Enqueue(event)

	default:
		d.logger.Error("Failed to deliver verification event", "error", err, "token_id", event.TokenID)
		d.metrics.AuditDropped()
	}
}
