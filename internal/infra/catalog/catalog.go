// Package catalog holds the asset requirement table.
//
// Every domain.AssetType maps to exactly one requirement. Defaults come from
// an exhaustive switch; deployments may override thresholds per type through
// config, but can never add a type the domain does not know.
package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rewardline/entitle/internal/domain"
)

// Tier names used by the default table.
const (
	TierBronze   = "Bronze Member"
	TierSilver   = "Silver Member"
	TierGold     = "Gold Member"
	TierPlatinum = "Platinum Member"
	TierDiamond  = "Diamond Member"
)

// Catalog is an immutable asset type → requirement table.
type Catalog struct {
	reqs map[domain.AssetType]domain.AssetRequirement
}

// Default returns the built-in requirement table.
func Default() *Catalog {
	c := &Catalog{reqs: make(map[domain.AssetType]domain.AssetRequirement, len(domain.AssetTypes()))}
	for _, t := range domain.AssetTypes() {
		req, err := defaultRequirement(t)
		if err != nil {
			// AssetTypes and defaultRequirement must stay in lockstep.
			panic(err)
		}
		c.reqs[t] = req
	}
	return c
}

// Lookup returns the default requirement for an asset type, or nil if unknown.
func Lookup(t domain.AssetType) *domain.AssetRequirement {
	req, err := defaultRequirement(t)
	if err != nil {
		return nil
	}
	return &req
}

// Requirement returns the requirement for an asset type.
func (c *Catalog) Requirement(t domain.AssetType) (domain.AssetRequirement, error) {
	req, ok := c.reqs[t]
	if !ok {
		return domain.AssetRequirement{}, fmt.Errorf("%w: %q", domain.ErrUnknownAssetType, t)
	}
	return req, nil
}

// Types returns the asset types in catalog order.
func (c *Catalog) Types() []domain.AssetType {
	return domain.AssetTypes()
}

// Override describes a partial change to one requirement. Nil fields keep
// the current value.
type Override struct {
	TierName                *string
	MonthsRequired          *int
	MinReferrals            *int
	MinTeamVolume           *decimal.Decimal
	ValueMin                *decimal.Decimal
	ValueMax                *decimal.Decimal
	MaintenancePeriodMonths *int
}

// WithOverrides returns a copy of c with the given overrides applied.
// Keys are asset type names; unknown names are rejected.
func (c *Catalog) WithOverrides(overrides map[string]Override) (*Catalog, error) {
	out := &Catalog{reqs: make(map[domain.AssetType]domain.AssetRequirement, len(c.reqs))}
	for t, req := range c.reqs {
		out.reqs[t] = req
	}
	for name, o := range overrides {
		t, err := domain.ParseAssetType(name)
		if err != nil {
			return nil, fmt.Errorf("catalog override: %w", err)
		}
		req := out.reqs[t]
		if o.TierName != nil {
			req.TierName = *o.TierName
		}
		if o.MonthsRequired != nil {
			req.MonthsRequired = *o.MonthsRequired
		}
		if o.MinReferrals != nil {
			req.MinReferrals = *o.MinReferrals
		}
		if o.MinTeamVolume != nil {
			req.MinTeamVolume = *o.MinTeamVolume
		}
		if o.ValueMin != nil {
			req.ValueRange.Min = *o.ValueMin
		}
		if o.ValueMax != nil {
			req.ValueRange.Max = *o.ValueMax
		}
		if o.MaintenancePeriodMonths != nil {
			req.MaintenancePeriodMonths = *o.MaintenancePeriodMonths
		}
		if err := validate(req); err != nil {
			return nil, fmt.Errorf("catalog override %s: %w", name, err)
		}
		out.reqs[t] = req
	}
	return out, nil
}

func validate(req domain.AssetRequirement) error {
	switch {
	case req.TierName == "":
		return fmt.Errorf("tier name is required")
	case req.MonthsRequired < 0 || req.MinReferrals < 0:
		return fmt.Errorf("months and referrals must be non-negative")
	case req.MinTeamVolume.IsNegative():
		return fmt.Errorf("team volume must be non-negative")
	case req.ValueRange.Max.LessThan(req.ValueRange.Min):
		return fmt.Errorf("value range max %s below min %s", req.ValueRange.Max, req.ValueRange.Min)
	case req.MaintenancePeriodMonths <= 0:
		return fmt.Errorf("maintenance period must be positive")
	}
	return nil
}

func defaultRequirement(t domain.AssetType) (domain.AssetRequirement, error) {
	switch t {
	case domain.AssetStarterKit:
		return requirement(t, TierBronze, 1, 1, 1_000, 50, 150, 6), nil
	case domain.AssetSmartphone:
		return requirement(t, TierSilver, 3, 3, 15_000, 300, 1_200, 12), nil
	case domain.AssetTablet:
		return requirement(t, TierSilver, 3, 3, 15_000, 250, 900, 12), nil
	case domain.AssetMotorbike:
		return requirement(t, TierGold, 6, 10, 75_000, 2_000, 6_000, 18), nil
	case domain.AssetCar:
		return requirement(t, TierPlatinum, 12, 25, 300_000, 15_000, 60_000, 24), nil
	case domain.AssetProperty:
		return requirement(t, TierDiamond, 24, 50, 1_000_000, 100_000, 500_000, 36), nil
	default:
		return domain.AssetRequirement{}, fmt.Errorf("%w: %q", domain.ErrUnknownAssetType, t)
	}
}

func requirement(t domain.AssetType, tier string, months, referrals int, volume, minValue, maxValue int64, period int) domain.AssetRequirement {
	return domain.AssetRequirement{
		AssetType:      t,
		TierName:       tier,
		MonthsRequired: months,
		MinReferrals:   referrals,
		MinTeamVolume:  decimal.NewFromInt(volume),
		ValueRange: domain.ValueRange{
			Min: decimal.NewFromInt(minValue),
			Max: decimal.NewFromInt(maxValue),
		},
		MaintenancePeriodMonths: period,
	}
}
