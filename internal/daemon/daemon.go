// Package daemon assembles the entitlement engine from configuration: the
// SQLite store, the requirement catalog, event sinks, the allocation engine,
// the maintenance monitor and the periodic sweep scheduler.
package daemon

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rewardline/entitle/internal/app/allocation"
	"github.com/rewardline/entitle/internal/app/eligibility"
	"github.com/rewardline/entitle/internal/app/maintenance"
	"github.com/rewardline/entitle/internal/infra/catalog"
	"github.com/rewardline/entitle/internal/infra/events"
	"github.com/rewardline/entitle/internal/infra/observability"
	"github.com/rewardline/entitle/internal/infra/sqlite"
)

// Daemon holds every wired component.
type Daemon struct {
	Config    Config
	Logger    *zap.Logger
	DB        *sqlite.DB
	Catalog   *catalog.Catalog
	Hub       *events.Hub
	Allocator *allocation.Engine
	Monitor   *maintenance.Monitor
	Outbox    *events.Dispatcher
}

// New opens the database under cfg.DataDir() and wires the engine.
func New(cfg Config, logger *zap.Logger) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cat, err := cfg.BuildCatalog()
	if err != nil {
		return nil, err
	}
	db, err := sqlite.Open(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	hub := events.NewHub()
	sink := events.Multi{
		events.NewLogSink(logger),
		events.MetricsSink{},
		hub,
	}

	publish := events.LogPublisher(logger)
	if cfg.Notify.WebhookURL != "" {
		publish = events.WebhookPublisher(nil, cfg.Notify.WebhookURL)
	}

	d := &Daemon{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Catalog: cat,
		Hub:     hub,
		Allocator: allocation.New(cat, db, db,
			allocation.WithLogger(logger.Named("allocation")),
			allocation.WithEvents(sink)),
		Monitor: maintenance.NewMonitor(cfg.MaintenancePolicy(), cat, db, db,
			maintenance.WithLogger(logger.Named("maintenance")),
			maintenance.WithEvents(sink)),
		Outbox: events.NewDispatcher(db, publish, cfg.Notify.BatchSize, logger),
	}
	logger.Info("engine ready",
		zap.String("data_dir", cfg.DataDir()),
		zap.Int("asset_types", len(cat.Types())))
	return d, nil
}

// Close releases the database.
func (d *Daemon) Close() error {
	return d.DB.Close()
}

// Allocate runs the allocation engine for one member and records the run.
func (d *Daemon) Allocate(ctx context.Context, userID string) ([]allocation.Result, error) {
	results, err := d.Allocator.Allocate(ctx, userID)
	if err != nil {
		observability.AllocationRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.AllocationRuns.WithLabelValues("ok").Inc()
	return results, nil
}

// Sweep runs the maintenance monitor and records the sweep.
func (d *Daemon) Sweep(ctx context.Context, allocationID string) (maintenance.BatchResult, error) {
	res, err := d.Monitor.Sweep(ctx, allocationID)
	if err != nil {
		return res, err
	}
	observability.ObserveSweep(res.Duration, res.Counts())
	return res, nil
}

// Evaluate reports eligibility of one member without allocating.
func (d *Daemon) Evaluate(ctx context.Context, userID string) ([]eligibility.Decision, error) {
	return d.Allocator.Evaluate(ctx, userID)
}

// Status is the member-facing maintenance view.
func (d *Daemon) Status(ctx context.Context, userID string) ([]maintenance.StatusView, error) {
	return d.Monitor.Status(ctx, userID)
}
