package maintenance

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rewardline/entitle/internal/app/eligibility"
	"github.com/rewardline/entitle/internal/domain"
)

// ViolationProcessor records failed maintenance checks and forfeits
// allocations that keep failing.
type ViolationProcessor struct {
	base
	threshold int
	window    int
}

// NewViolationProcessor creates a violation processor with the threshold and
// window taken from cfg.
func NewViolationProcessor(store domain.AllocationStore, cfg Config, opts ...Option) *ViolationProcessor {
	return &ViolationProcessor{
		base:      newBase(store, opts),
		threshold: cfg.ViolationThreshold,
		window:    cfg.ViolationWindowMonths,
	}
}

// HandleViolation logs the failed check and decides between a warning and
// forfeiture. Violations already in the log within the trailing window are
// counted; once that count has reached the threshold the allocation is
// forfeited and its asset returns to inventory. Otherwise the allocation is
// marked VIOLATED with its status unchanged.
//
// The count, the decision and the writes share one atomic unit, so two
// sweeps racing on the same allocation see each other's violation.
//
// Handling a violation for an already forfeited allocation is a no-op.
func (p *ViolationProcessor) HandleViolation(ctx context.Context, a domain.Allocation, check eligibility.MaintenanceCheck) (Outcome, error) {
	if a.Status == domain.AllocationForfeited {
		return OutcomeSkipped, nil
	}
	if !a.Status.Open() {
		return OutcomeFailed, fmt.Errorf("%w: %s %s → %s",
			domain.ErrInvalidTransition, a.ID, a.Status, domain.AllocationForfeited)
	}

	now := p.now()
	details := check.Details()
	failed := failedRules(check)
	record := domain.ViolationRecord{
		ID:           uuid.NewString(),
		AllocationID: a.ID,
		UserID:       a.UserID,
		DetectedAt:   now,
		Details:      details,
	}

	var (
		prior   int
		forfeit bool
		evt     domain.Event
	)
	from := a.Status
	err := p.store.Atomically(ctx, func(tx domain.Tx) error {
		var err error
		prior, err = tx.CountViolationsSince(ctx, a.ID, now.AddDate(0, -p.window, 0))
		if err != nil {
			return err
		}
		forfeit = prior >= p.threshold

		next := a
		next.LastMaintenanceCheck = &now
		next.ViolationDetails = details
		if forfeit {
			next.Status = domain.AllocationForfeited
			next.MaintenanceStatus = domain.MaintenanceForfeited
			next.ForfeitedAt = &now
			evt = lifecycleEvent(next, domain.EventForfeited, now,
				fmt.Sprintf("%d violations within %d months: %s", prior+1, p.window, failed))
		} else {
			next.MaintenanceStatus = domain.MaintenanceViolated
			evt = lifecycleEvent(next, domain.EventViolated, now, failed)
		}

		if err := tx.AppendViolation(ctx, record); err != nil {
			return err
		}
		if err := tx.UpdateAllocation(ctx, next, from); err != nil {
			return err
		}
		if forfeit {
			if err := tx.ReleaseAsset(ctx, a.AssetID); err != nil {
				return err
			}
		}
		return tx.RecordEvent(ctx, evt)
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("record violation of %s: %w", a.ID, err)
	}

	fields := append(allocationFields(a),
		zap.Int("violations", prior+1),
		zap.String("failed", failed))
	p.events.Emit(ctx, evt)
	if forfeit {
		p.logger.Warn("allocation forfeited", fields...)
		return OutcomeForfeited, nil
	}
	p.logger.Info("maintenance violation recorded", fields...)
	return OutcomeViolated, nil
}

func failedRules(check eligibility.MaintenanceCheck) string {
	reasons := check.Failed()
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
