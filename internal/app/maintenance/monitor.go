package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rewardline/entitle/internal/app/eligibility"
	"github.com/rewardline/entitle/internal/domain"
)

// Detail is the per-allocation line of a sweep.
type Detail struct {
	AllocationID string           `json:"allocation_id"`
	UserID       string           `json:"user_id"`
	AssetType    domain.AssetType `json:"asset_type"`
	Outcome      Outcome          `json:"outcome"`
	Error        string           `json:"error,omitempty"`
}

// BatchResult summarizes a sweep. Processed counts allocations that reached
// a decision; Failed ones did not and are retried by the next sweep.
type BatchResult struct {
	Processed  int           `json:"processed"`
	Maintained int           `json:"maintained"`
	Violated   int           `json:"violated"`
	Completed  int           `json:"completed"`
	Forfeited  int           `json:"forfeited"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration_ns"`
	Details    []Detail      `json:"details"`
}

// Counts returns the per-outcome tallies keyed by outcome name.
func (r BatchResult) Counts() map[string]int {
	return map[string]int{
		string(OutcomeMaintained): r.Maintained,
		string(OutcomeViolated):   r.Violated,
		string(OutcomeCompleted):  r.Completed,
		string(OutcomeForfeited):  r.Forfeited,
		string(OutcomeSkipped):    r.Skipped,
		string(OutcomeFailed):     r.Failed,
	}
}

// Monitor sweeps open allocations.
type Monitor struct {
	base
	cfg        Config
	catalog    domain.RequirementCatalog
	users      domain.UserDirectory
	violations *ViolationProcessor
	transfers  *TransferProcessor
}

// NewMonitor creates a maintenance monitor and its processors.
func NewMonitor(cfg Config, catalog domain.RequirementCatalog, users domain.UserDirectory, store domain.AllocationStore, opts ...Option) *Monitor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Monitor{
		base:       newBase(store, opts),
		cfg:        cfg,
		catalog:    catalog,
		users:      users,
		violations: NewViolationProcessor(store, cfg, opts...),
		transfers:  NewTransferProcessor(store, opts...),
	}
}

// Sweep processes one allocation by id, or every PENDING/ACTIVE allocation
// when allocationID is empty. The set is fixed when the sweep starts and is
// processed to the end even if ctx is cancelled afterwards. A failure on one
// allocation is logged and counted without stopping the rest. Only a failure
// to load the set is returned as an error.
func (m *Monitor) Sweep(ctx context.Context, allocationID string) (BatchResult, error) {
	start := time.Now()

	var targets []domain.Allocation
	if allocationID != "" {
		a, err := m.store.GetAllocation(ctx, allocationID)
		if err != nil {
			return BatchResult{}, err
		}
		targets = []domain.Allocation{*a}
	} else {
		open, err := m.store.ListOpenAllocations(ctx)
		if err != nil {
			return BatchResult{}, fmt.Errorf("list open allocations: %w", err)
		}
		targets = open
	}

	// Once the set is fixed the sweep runs to completion; a caller going
	// away must not abandon the remaining allocations half way.
	ctx = context.WithoutCancel(ctx)

	details := make([]Detail, len(targets))
	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	for i, a := range targets {
		g.Go(func() error {
			details[i] = m.process(ctx, a)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	result := BatchResult{Details: details, Duration: time.Since(start)}
	for _, d := range details {
		switch d.Outcome {
		case OutcomeMaintained:
			result.Maintained++
		case OutcomeViolated:
			result.Violated++
		case OutcomeCompleted:
			result.Completed++
		case OutcomeForfeited:
			result.Forfeited++
		case OutcomeSkipped:
			result.Skipped++
			continue
		case OutcomeFailed:
			result.Failed++
			continue
		}
		result.Processed++
	}

	m.logger.Info("maintenance sweep finished",
		zap.Int("allocations", len(targets)),
		zap.Int("processed", result.Processed),
		zap.Int("maintained", result.Maintained),
		zap.Int("violated", result.Violated),
		zap.Int("completed", result.Completed),
		zap.Int("forfeited", result.Forfeited),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// process decides one allocation and reports failures in the returned detail.
func (m *Monitor) process(ctx context.Context, a domain.Allocation) Detail {
	d := Detail{AllocationID: a.ID, UserID: a.UserID, AssetType: a.AssetType}

	outcome, err := m.decide(ctx, a)
	if err != nil {
		m.logger.Error("maintenance check failed", append(allocationFields(a), zap.Error(err))...)
		m.record(ctx, lifecycleEvent(a, domain.EventSweepFailed, m.now(), err.Error()))
		d.Outcome = OutcomeFailed
		d.Error = err.Error()
		return d
	}
	d.Outcome = outcome
	return d
}

func (m *Monitor) decide(ctx context.Context, a domain.Allocation) (Outcome, error) {
	if a.Status.Terminal() {
		return OutcomeSkipped, nil
	}

	now := m.now()
	if a.PeriodElapsed(now) {
		return m.transfers.Complete(ctx, a)
	}

	req, err := m.catalog.Requirement(a.AssetType)
	if err != nil {
		return OutcomeFailed, err
	}
	// A member who lost their tier record (nil snapshot) fails every rule.
	snap, err := m.users.Snapshot(ctx, a.UserID)
	if err != nil && !errors.Is(err, domain.ErrNoSnapshot) {
		return OutcomeFailed, fmt.Errorf("snapshot %s: %w", a.UserID, err)
	}

	check := eligibility.CheckMaintenance(snap, req)
	if !check.Passed() {
		return m.violations.HandleViolation(ctx, a, check)
	}
	return m.maintain(ctx, a, now)
}

func (m *Monitor) maintain(ctx context.Context, a domain.Allocation, now time.Time) (Outcome, error) {
	from := a.Status
	a.Status = domain.AllocationActive
	a.MaintenanceStatus = domain.MaintenanceMaintained
	a.LastMaintenanceCheck = &now
	evt := lifecycleEvent(a, domain.EventMaintained, now, "")

	err := m.store.Atomically(ctx, func(tx domain.Tx) error {
		if err := tx.UpdateAllocation(ctx, a, from); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, evt)
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("maintain %s: %w", a.ID, err)
	}
	m.logger.Debug("allocation maintained", allocationFields(a)...)
	m.events.Emit(ctx, evt)
	return OutcomeMaintained, nil
}
