// Package allocation reserves physical inventory for members who qualify for
// an asset type and records the resulting grant.
//
// One Allocate run:
//  1. Reads the member's snapshot and current allocations
//  2. Evaluates every catalog asset type against that state
//  3. For each eligible type, claims one AVAILABLE unit and inserts a PENDING
//     allocation in a single atomic unit
//  4. Records allocated or inventory_shortage events in the outbox, the
//     former in the same atomic unit as the claim
package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rewardline/entitle/internal/app/eligibility"
	"github.com/rewardline/entitle/internal/domain"
)

// Outcome describes what happened to one eligible asset type.
type Outcome string

const (
	OutcomeAllocated Outcome = "allocated"
	OutcomeSkipped   Outcome = "skipped"
)

// Skip reasons.
const (
	SkipNoInventory = "no_inventory"
	SkipConcurrent  = "existing_allocation"
)

// Result is the per-type outcome of an Allocate run.
type Result struct {
	AssetType  domain.AssetType   `json:"asset_type"`
	Outcome    Outcome            `json:"outcome"`
	Allocation *domain.Allocation `json:"allocation,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEvents sets the lifecycle event sink.
func WithEvents(s domain.EventSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.events = s
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine grants allocations.
type Engine struct {
	catalog domain.RequirementCatalog
	users   domain.UserDirectory
	store   domain.AllocationStore
	events  domain.EventSink
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an allocation engine.
func New(catalog domain.RequirementCatalog, users domain.UserDirectory, store domain.AllocationStore, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		users:   users,
		store:   store,
		events:  domain.NopSink{},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns the eligibility decision for every asset type without
// reserving anything.
func (e *Engine) Evaluate(ctx context.Context, userID string) ([]eligibility.Decision, error) {
	snap, live, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	var decisions []eligibility.Decision
	for _, t := range e.catalog.Types() {
		req, err := e.catalog.Requirement(t)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, eligibility.Evaluate(snap, req, live[t]))
	}
	return decisions, nil
}

// Allocate grants every asset type the member is currently eligible for and
// has no live allocation of. Ineligible types produce no result. Only store
// and directory faults are returned as errors; a member without a snapshot
// gets an empty result.
func (e *Engine) Allocate(ctx context.Context, userID string) ([]Result, error) {
	snap, live, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		e.logger.Debug("no snapshot, nothing to allocate", zap.String("user_id", userID))
		return nil, nil
	}

	var results []Result
	for _, t := range e.catalog.Types() {
		req, err := e.catalog.Requirement(t)
		if err != nil {
			return results, err
		}
		decision := eligibility.Evaluate(snap, req, live[t])
		if !decision.Eligible {
			e.logger.Debug("not eligible",
				zap.String("user_id", userID),
				zap.String("asset_type", string(t)),
				zap.Stringer("decision", decision))
			continue
		}

		alloc, err := e.reserve(ctx, userID, snap, req)
		switch {
		case errors.Is(err, domain.ErrNoInventory):
			e.record(ctx, domain.Event{
				Kind:      domain.EventInventoryShortage,
				UserID:    userID,
				AssetType: t,
				At:        e.now(),
				Reason:    req.TierName,
			})
			results = append(results, Result{AssetType: t, Outcome: OutcomeSkipped, Reason: SkipNoInventory})
		case errors.Is(err, domain.ErrDuplicateAllocation):
			// A concurrent run granted this type first.
			results = append(results, Result{AssetType: t, Outcome: OutcomeSkipped, Reason: SkipConcurrent})
		case err != nil:
			return results, fmt.Errorf("allocate %s to %s: %w", t, userID, err)
		default:
			e.events.Emit(ctx, allocatedEvent(*alloc))
			results = append(results, Result{AssetType: t, Outcome: OutcomeAllocated, Allocation: alloc})
		}
	}
	return results, nil
}

// load reads the snapshot and the set of asset types the member already
// holds a live allocation for. A missing snapshot is returned as nil.
func (e *Engine) load(ctx context.Context, userID string) (*domain.UserSnapshot, map[domain.AssetType]bool, error) {
	snap, err := e.users.Snapshot(ctx, userID)
	if errors.Is(err, domain.ErrNoSnapshot) {
		snap = nil
	} else if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", userID, err)
	}

	existing, err := e.store.ListAllocationsByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("list allocations of %s: %w", userID, err)
	}
	live := make(map[domain.AssetType]bool, len(existing))
	for _, a := range existing {
		if a.Status != domain.AllocationForfeited {
			live[a.AssetType] = true
		}
	}
	return snap, live, nil
}

// reserve claims one unit and records the PENDING allocation atomically.
func (e *Engine) reserve(ctx context.Context, userID string, snap *domain.UserSnapshot, req domain.AssetRequirement) (*domain.Allocation, error) {
	var alloc domain.Allocation
	err := e.store.Atomically(ctx, func(tx domain.Tx) error {
		asset, err := tx.ClaimAsset(ctx, req.AssetType, req.TierName)
		if err != nil {
			return err
		}
		alloc = domain.Allocation{
			ID:                      uuid.NewString(),
			UserID:                  userID,
			AssetID:                 asset.ID,
			AssetType:               req.AssetType,
			TierID:                  req.TierName,
			QualifyingTeamVolume:    snap.MonthlyTeamVolume,
			MaintenancePeriodMonths: req.MaintenancePeriodMonths,
			Status:                  domain.AllocationPending,
			AllocatedAt:             e.now(),
		}
		if err := tx.InsertAllocation(ctx, alloc); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, allocatedEvent(alloc))
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("allocation created",
		zap.String("allocation_id", alloc.ID),
		zap.String("user_id", alloc.UserID),
		zap.String("asset_id", alloc.AssetID),
		zap.String("asset_type", string(alloc.AssetType)))
	return &alloc, nil
}

func allocatedEvent(a domain.Allocation) domain.Event {
	return domain.Event{
		Kind:         domain.EventAllocated,
		AllocationID: a.ID,
		UserID:       a.UserID,
		AssetType:    a.AssetType,
		At:           a.AllocatedAt,
	}
}

// record writes an event with no transition of its own to the outbox, then
// hands it to the live sinks.
func (e *Engine) record(ctx context.Context, evt domain.Event) {
	err := e.store.Atomically(ctx, func(tx domain.Tx) error {
		return tx.RecordEvent(ctx, evt)
	})
	if err != nil {
		e.logger.Warn("outbox write failed",
			zap.String("kind", string(evt.Kind)),
			zap.String("user_id", evt.UserID),
			zap.Error(err))
	}
	e.events.Emit(ctx, evt)
}
