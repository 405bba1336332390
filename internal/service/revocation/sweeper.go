package revocation

import (
	"context"
	"time"

	"github.com/nkiryanov/parcelguard/internal/logger"
)

const DefaultSweepInterval = 3 * time.Hour

type sweepService interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Sweeper calls SweepExpired periodically
type Sweeper struct {
	interval time.Duration
	service  sweepService
	logger   logger.Logger
}

func NewSweeper(interval time.Duration, service sweepService, l logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Sweeper{
		interval: interval,
		service:  service,
		logger:   l.WithGroup("sweeper"),
	}
}

// Run starts the sweep loop. Returned channel is closed when the loop stopped.
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				n, err := s.service.SweepExpired(ctx)
				if err != nil {
					s.logger.Error("Failed to sweep expired tokens", "error", err)
					continue
				}
				s.logger.Debug("Sweeper tick done", "deleted", n)
			}
		}
	}()

	return idleStopped
}
