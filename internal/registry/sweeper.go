package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/ademmoe/jads/internal/db"
)

const DefaultSweepInterval = time.Minute

// Sweeper periodically retires expired files and stale sessions. One
// goroutine, one clock read per cycle.
type Sweeper struct {
	reg      *Registry
	store    *db.Store
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(reg *Registry, store *db.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{reg: reg, store: store, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping every interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("expiry sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle against a single clock reading so a file cannot
// flip back to unexpired mid-cycle.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	if n := s.reg.SweepExpired(ctx, now); n > 0 {
		s.logger.Info("expiry sweep complete", "removed", n)
	}
	if err := s.store.PurgeExpiredSessions(now); err != nil {
		s.logger.Warn("session purge failed", "error", err)
	}
}
