package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/rewardline/entitle/internal/domain"
)

// StatusView is the member-facing projection of one allocation.
type StatusView struct {
	AllocationID      string                   `json:"allocation_id"`
	AssetID           string                   `json:"asset_id"`
	AssetType         domain.AssetType         `json:"asset_type"`
	Status            domain.AllocationStatus  `json:"status"`
	MaintenanceStatus domain.MaintenanceStatus `json:"maintenance_status"`
	AllocatedAt       time.Time                `json:"allocated_at"`
	MonthsRemaining   int                      `json:"months_remaining"`
	LastCheck         *time.Time               `json:"last_check,omitempty"`
	ViolationDetails  string                   `json:"violation_details,omitempty"`
}

// Status lists every allocation of a member with the whole months left in
// its maintenance period. Terminal allocations report zero.
func (m *Monitor) Status(ctx context.Context, userID string) ([]StatusView, error) {
	allocs, err := m.store.ListAllocationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list allocations of %s: %w", userID, err)
	}

	now := m.now()
	views := make([]StatusView, 0, len(allocs))
	for _, a := range allocs {
		views = append(views, StatusView{
			AllocationID:      a.ID,
			AssetID:           a.AssetID,
			AssetType:         a.AssetType,
			Status:            a.Status,
			MaintenanceStatus: a.MaintenanceStatus,
			AllocatedAt:       a.AllocatedAt,
			MonthsRemaining:   a.MonthsRemaining(now),
			LastCheck:         a.LastMaintenanceCheck,
			ViolationDetails:  a.ViolationDetails,
		})
	}
	return views, nil
}
