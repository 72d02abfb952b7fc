package maintenance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rewardline/entitle/internal/domain"
)

// TransferProcessor finalizes allocations whose maintenance period is over.
type TransferProcessor struct {
	base
}

// NewTransferProcessor creates an ownership transfer processor.
func NewTransferProcessor(store domain.AllocationStore, opts ...Option) *TransferProcessor {
	return &TransferProcessor{base: newBase(store, opts)}
}

// Complete marks the allocation COMPLETED and transfers its asset to the
// member. Completing an already completed allocation is a no-op.
func (p *TransferProcessor) Complete(ctx context.Context, a domain.Allocation) (Outcome, error) {
	if a.Status == domain.AllocationCompleted {
		return OutcomeSkipped, nil
	}
	if !a.Status.CanTransition(domain.AllocationCompleted) {
		return OutcomeFailed, fmt.Errorf("%w: %s %s → %s",
			domain.ErrInvalidTransition, a.ID, a.Status, domain.AllocationCompleted)
	}

	now := p.now()
	from := a.Status
	a.Status = domain.AllocationCompleted
	a.MaintenanceStatus = domain.MaintenanceCompleted
	a.CompletedAt = &now
	evt := lifecycleEvent(a, domain.EventCompleted, now, "")

	err := p.store.Atomically(ctx, func(tx domain.Tx) error {
		if err := tx.UpdateAllocation(ctx, a, from); err != nil {
			return err
		}
		if err := tx.TransferAsset(ctx, a.AssetID, a.UserID); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, evt)
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("complete %s: %w", a.ID, err)
	}

	p.logger.Info("ownership transferred", append(allocationFields(a), zap.String("asset_id", a.AssetID))...)
	p.events.Emit(ctx, evt)
	return OutcomeCompleted, nil
}
