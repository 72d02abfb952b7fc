// Package events implements the live domain.EventSink adapters (structured
// logging, Prometheus counters and the SSE hub) and the dispatcher that
// delivers outbox rows downstream. The outbox itself is written by the engine
// inside each transition's transaction. Sinks never fail the caller.
package events

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rewardline/entitle/internal/domain"
	"github.com/rewardline/entitle/internal/infra/observability"
)

// ─── Multi ──────────────────────────────────────────────────────────────────

// Multi fans one event out to several sinks in order.
type Multi []domain.EventSink

// Emit implements domain.EventSink.
func (m Multi) Emit(ctx context.Context, e domain.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// ─── Log ────────────────────────────────────────────────────────────────────

// LogSink writes one structured line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("lifecycle")}
}

// Emit implements domain.EventSink.
func (s *LogSink) Emit(_ context.Context, e domain.Event) {
	fields := []zap.Field{
		zap.String("kind", string(e.Kind)),
		zap.String("user_id", e.UserID),
		zap.Time("at", e.At),
	}
	if e.AllocationID != "" {
		fields = append(fields, zap.String("allocation_id", e.AllocationID))
	}
	if e.AssetType != "" {
		fields = append(fields, zap.String("asset_type", string(e.AssetType)))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if ce := s.logger.Check(levelFor(e.Kind), "lifecycle event"); ce != nil {
		ce.Write(fields...)
	}
}

func levelFor(kind domain.EventKind) zapcore.Level {
	switch kind {
	case domain.EventSweepFailed:
		return zapcore.ErrorLevel
	case domain.EventViolated, domain.EventForfeited, domain.EventInventoryShortage:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// ─── Metrics ────────────────────────────────────────────────────────────────

// MetricsSink counts events by kind and asset type.
type MetricsSink struct{}

// Emit implements domain.EventSink.
func (MetricsSink) Emit(_ context.Context, e domain.Event) {
	observability.LifecycleEvents.WithLabelValues(string(e.Kind), string(e.AssetType)).Inc()
}
