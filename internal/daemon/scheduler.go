package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rewardline/entitle/internal/app/maintenance"
)

// ─── Sweep Scheduler ────────────────────────────────────────────────────────

// Sweeper runs one full maintenance sweep.
type Sweeper interface {
	Sweep(ctx context.Context, allocationID string) (maintenance.BatchResult, error)
}

// Scheduler triggers a full sweep every interval.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler. Nil logger is replaced by a no-op.
func NewScheduler(s Sweeper, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{sweeper: s, interval: interval, logger: logger.Named("scheduler")}
}

// Run blocks until ctx is cancelled. A sweep that has started runs to the
// end even if ctx is cancelled meanwhile.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(context.WithoutCancel(ctx))
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.sweeper.Sweep(ctx, "")
	if err != nil {
		s.logger.Error("scheduled sweep failed", zap.Error(err))
		return
	}
	if res.Failed > 0 {
		s.logger.Warn("scheduled sweep had failures",
			zap.Int("failed", res.Failed),
			zap.Int("processed", res.Processed))
	}
}
