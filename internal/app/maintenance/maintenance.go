// Package maintenance keeps allocations conditional on continued
// qualification.
//
// A sweep walks open allocations and, per allocation:
//  1. Completes it when the maintenance period has elapsed (always first)
//  2. Otherwise re-checks the member against the original requirement
//  3. Marks it MAINTAINED on pass, or hands the failed check to the
//     violation processor, which warns or forfeits
//
// Every transition of an allocation and its asset is one atomic unit, and the
// lifecycle event describing it is written to the outbox in the same unit.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rewardline/entitle/internal/domain"
)

// Config controls maintenance behavior.
type Config struct {
	ViolationThreshold    int // Logged violations in the window that trigger forfeiture (default: 2)
	ViolationWindowMonths int // Trailing window for counting violations (default: 3)
	Workers               int // Concurrent allocations per sweep (default: 4)
}

// DefaultConfig returns the standard maintenance policy.
func DefaultConfig() Config {
	return Config{
		ViolationThreshold:    2,
		ViolationWindowMonths: 3,
		Workers:               4,
	}
}

// Validate rejects settings the processors cannot run with.
func (c Config) Validate() error {
	if c.ViolationThreshold < 1 {
		return fmt.Errorf("violation threshold must be >= 1, got %d", c.ViolationThreshold)
	}
	if c.ViolationWindowMonths < 1 {
		return fmt.Errorf("violation window must be >= 1 month, got %d", c.ViolationWindowMonths)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	return nil
}

// Outcome is the result of processing one allocation.
type Outcome string

const (
	OutcomeMaintained Outcome = "maintained"
	OutcomeViolated   Outcome = "violated"
	OutcomeForfeited  Outcome = "forfeited"
	OutcomeCompleted  Outcome = "completed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// ─── Options ────────────────────────────────────────────────────────────────

// Option configures the monitor and its processors.
type Option func(*base)

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithEvents sets the lifecycle event sink.
func WithEvents(s domain.EventSink) Option {
	return func(b *base) {
		if s != nil {
			b.events = s
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// base holds the collaborators shared by every processor.
type base struct {
	store  domain.AllocationStore
	events domain.EventSink
	logger *zap.Logger
	now    func() time.Time
}

func newBase(store domain.AllocationStore, opts []Option) base {
	b := base{
		store:  store,
		events: domain.NopSink{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func lifecycleEvent(a domain.Allocation, kind domain.EventKind, at time.Time, reason string) domain.Event {
	return domain.Event{
		Kind:         kind,
		AllocationID: a.ID,
		UserID:       a.UserID,
		AssetType:    a.AssetType,
		At:           at,
		Reason:       reason,
	}
}

// record writes an event that has no transition of its own to the outbox,
// then hands it to the live sinks.
func (b *base) record(ctx context.Context, e domain.Event) {
	err := b.store.Atomically(ctx, func(tx domain.Tx) error {
		return tx.RecordEvent(ctx, e)
	})
	if err != nil {
		b.logger.Warn("outbox write failed",
			zap.String("kind", string(e.Kind)),
			zap.String("allocation_id", e.AllocationID),
			zap.Error(err))
	}
	b.events.Emit(ctx, e)
}

func allocationFields(a domain.Allocation) []zap.Field {
	return []zap.Field{
		zap.String("allocation_id", a.ID),
		zap.String("user_id", a.UserID),
		zap.String("asset_type", string(a.AssetType)),
	}
}
