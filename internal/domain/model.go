// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring: the entitlement engine and every adapter depend
// on it, it depends on nothing but value libraries.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Asset Types ────────────────────────────────────────────────────────────

// AssetType is the closed set of physical reward kinds.
// Adding a value here must be matched by a case in every switch over it;
// catalog tests fail if a type has no requirement.
type AssetType string

const (
	AssetStarterKit AssetType = "STARTER_KIT"
	AssetSmartphone AssetType = "SMARTPHONE"
	AssetTablet     AssetType = "TABLET"
	AssetMotorbike  AssetType = "MOTORBIKE"
	AssetCar        AssetType = "CAR"
	AssetProperty   AssetType = "PROPERTY"
)

// AssetTypes returns every asset type in catalog order.
func AssetTypes() []AssetType {
	return []AssetType{
		AssetStarterKit,
		AssetSmartphone,
		AssetTablet,
		AssetMotorbike,
		AssetCar,
		AssetProperty,
	}
}

// Valid reports whether t is a member of the closed set.
func (t AssetType) Valid() bool {
	switch t {
	case AssetStarterKit, AssetSmartphone, AssetTablet, AssetMotorbike, AssetCar, AssetProperty:
		return true
	default:
		return false
	}
}

// ParseAssetType converts a string to an AssetType.
func ParseAssetType(s string) (AssetType, error) {
	t := AssetType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAssetType, s)
	}
	return t, nil
}

// ─── Requirements ───────────────────────────────────────────────────────────

// ValueRange is the expected value band of units of one asset type.
type ValueRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// Contains reports whether v lies inside the range (inclusive).
func (r ValueRange) Contains(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(r.Min) && v.LessThanOrEqual(r.Max)
}

// AssetRequirement is the immutable qualification record for one asset type.
type AssetRequirement struct {
	AssetType               AssetType       `json:"asset_type"`
	TierName                string          `json:"tier_name"`
	MonthsRequired          int             `json:"months_required"`
	MinReferrals            int             `json:"min_referrals"`
	MinTeamVolume           decimal.Decimal `json:"min_team_volume"`
	ValueRange              ValueRange      `json:"value_range"`
	MaintenancePeriodMonths int             `json:"maintenance_period_months"`
}

// ─── Members ────────────────────────────────────────────────────────────────

// UserSnapshot is the read-only qualification state of a member.
type UserSnapshot struct {
	UserID              string          `json:"user_id"`
	TierName            string          `json:"tier_name"`
	MonthsAtTier        int             `json:"months_at_tier"`
	ActiveReferralCount int             `json:"active_referral_count"`
	MonthlyTeamVolume   decimal.Decimal `json:"monthly_team_volume"`
}

// ─── Inventory ──────────────────────────────────────────────────────────────

// AssetStatus is the inventory state of a physical unit.
type AssetStatus string

const (
	AssetAvailable   AssetStatus = "AVAILABLE"
	AssetAllocated   AssetStatus = "ALLOCATED"
	AssetTransferred AssetStatus = "TRANSFERRED"
)

// PhysicalReward is one inventory unit.
type PhysicalReward struct {
	ID              string          `json:"id"`
	Type            AssetType       `json:"type"`
	TierRequirement string          `json:"tier_requirement"`
	Value           decimal.Decimal `json:"value"`
	Status          AssetStatus     `json:"status"`
	OwnerID         *string         `json:"owner_id,omitempty"`
}

// ─── Allocations ────────────────────────────────────────────────────────────

// AllocationStatus is the grant lifecycle state.
type AllocationStatus string

const (
	AllocationPending   AllocationStatus = "PENDING"
	AllocationActive    AllocationStatus = "ACTIVE"
	AllocationCompleted AllocationStatus = "COMPLETED"
	AllocationForfeited AllocationStatus = "FORFEITED"
)

// Open reports whether the allocation still holds its asset under maintenance.
func (s AllocationStatus) Open() bool {
	return s == AllocationPending || s == AllocationActive
}

// Terminal reports whether no further transition is possible.
func (s AllocationStatus) Terminal() bool {
	return s == AllocationCompleted || s == AllocationForfeited
}

// CanTransition validates a status change against the allocation state machine.
//
//	PENDING → ACTIVE | COMPLETED | FORFEITED | PENDING
//	ACTIVE  → ACTIVE | COMPLETED | FORFEITED
//	COMPLETED, FORFEITED are terminal
func (s AllocationStatus) CanTransition(to AllocationStatus) bool {
	switch s {
	case AllocationPending:
		return to == AllocationPending || to == AllocationActive ||
			to == AllocationCompleted || to == AllocationForfeited
	case AllocationActive:
		return to == AllocationActive || to == AllocationCompleted || to == AllocationForfeited
	default:
		return false
	}
}

// MaintenanceStatus is the outcome of the latest maintenance decision.
type MaintenanceStatus string

const (
	MaintenanceNone       MaintenanceStatus = ""
	MaintenanceMaintained MaintenanceStatus = "MAINTAINED"
	MaintenanceViolated   MaintenanceStatus = "VIOLATED"
	MaintenanceCompleted  MaintenanceStatus = "COMPLETED"
	MaintenanceForfeited  MaintenanceStatus = "FORFEITED"
)

// Allocation links one member to one physical unit for a maintenance period.
type Allocation struct {
	ID                      string            `json:"id"`
	UserID                  string            `json:"user_id"`
	AssetID                 string            `json:"asset_id"`
	AssetType               AssetType         `json:"asset_type"`
	TierID                  string            `json:"tier_id"`
	QualifyingTeamVolume    decimal.Decimal   `json:"qualifying_team_volume"`
	MaintenancePeriodMonths int               `json:"maintenance_period_months"`
	Status                  AllocationStatus  `json:"status"`
	MaintenanceStatus       MaintenanceStatus `json:"maintenance_status"`
	AllocatedAt             time.Time         `json:"allocated_at"`
	LastMaintenanceCheck    *time.Time        `json:"last_maintenance_check,omitempty"`
	ViolationDetails        string            `json:"violation_details,omitempty"`
	CompletedAt             *time.Time        `json:"completed_at,omitempty"`
	ForfeitedAt             *time.Time        `json:"forfeited_at,omitempty"`
}

// PeriodElapsed reports whether the maintenance period is over at now.
func (a *Allocation) PeriodElapsed(now time.Time) bool {
	return MonthsBetween(a.AllocatedAt, now) >= a.MaintenancePeriodMonths
}

// MonthsRemaining returns the whole months left in the maintenance period.
// Terminal allocations have none.
func (a *Allocation) MonthsRemaining(now time.Time) int {
	if a.Status.Terminal() {
		return 0
	}
	left := a.MaintenancePeriodMonths - MonthsBetween(a.AllocatedAt, now)
	if left < 0 {
		return 0
	}
	return left
}

// ViolationRecord is one failed maintenance check in the append-only log.
type ViolationRecord struct {
	ID           string    `json:"id"`
	AllocationID string    `json:"allocation_id"`
	UserID       string    `json:"user_id"`
	DetectedAt   time.Time `json:"detected_at"`
	Details      string    `json:"details"`
}

// ─── Utilities ──────────────────────────────────────────────────────────────

// MonthsBetween returns the number of whole calendar months from start to end.
// A month counts once the same day-of-month and clock time is reached, so
// Jan 15 → Feb 15 is 1 and Jan 31 → Feb 28 is 0. Negative spans yield 0.
func MonthsBetween(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	end = end.In(start.Location())
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if offsetInMonth(end) < offsetInMonth(start) {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

func offsetInMonth(t time.Time) time.Duration {
	return time.Duration(t.Day()-1)*24*time.Hour +
		time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}
