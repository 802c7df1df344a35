package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/acarlson/user-account-service/internal/observability"
)

// Sweeper drops expired sessions from a MemoryStore on an interval. The
// memcached backend expires server-side and does not need one.
type Sweeper struct {
	store  *MemoryStore
	logger *zap.Logger
}

// NewSweeper creates a Sweeper over the given store.
func NewSweeper(store *MemoryStore, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: store, logger: logger}
}

// Run sweeps once immediately, then at the given interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	s.sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	start := time.Now()
	dropped := s.store.Sweep()
	remaining := s.store.Len()
	observability.SessionSweepsTotal.Inc()
	observability.SessionsExpiredTotal.Add(float64(dropped))
	observability.ActiveSessionsGauge.Set(float64(remaining))
	if s.logger != nil && dropped > 0 {
		s.logger.Info("session sweep complete",
			zap.Int("expired", dropped),
			zap.Int("active", remaining),
			zap.Duration("duration", time.Since(start)))
	}
}
