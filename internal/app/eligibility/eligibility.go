// Package eligibility decides whether a member qualifies for an asset.
//
// Both entry points are pure: same inputs, same decision, no I/O.
//   - Evaluate gates a new allocation (tier, tenure, referrals, volume, no live grant)
//   - CheckMaintenance re-tests a held allocation (tier, referrals, volume)
package eligibility

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rewardline/entitle/internal/domain"
)

// Reason identifies a failed rule.
type Reason string

const (
	ReasonNoSnapshot         Reason = "no_snapshot"
	ReasonTierMismatch       Reason = "tier_mismatch"
	ReasonTenure             Reason = "insufficient_tenure"
	ReasonReferrals          Reason = "insufficient_referrals"
	ReasonTeamVolume         Reason = "insufficient_team_volume"
	ReasonExistingAllocation Reason = "existing_allocation"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	AssetType domain.AssetType `json:"asset_type"`
	Eligible  bool             `json:"eligible"`
	Reasons   []Reason         `json:"reasons,omitempty"`
}

// String renders the failed reasons for logs and skip results.
func (d Decision) String() string {
	if d.Eligible {
		return "eligible"
	}
	return fmt.Sprintf("ineligible %v", d.Reasons)
}

// Evaluate applies the allocation rules. A nil snapshot means the member has
// no tier qualification record: tenure counts as zero and no tier matches.
func Evaluate(snapshot *domain.UserSnapshot, req domain.AssetRequirement, hasExistingAllocation bool) Decision {
	d := Decision{AssetType: req.AssetType}

	if snapshot == nil {
		d.Reasons = append(d.Reasons, ReasonNoSnapshot, ReasonTierMismatch)
		if req.MonthsRequired > 0 {
			d.Reasons = append(d.Reasons, ReasonTenure)
		}
		if hasExistingAllocation {
			d.Reasons = append(d.Reasons, ReasonExistingAllocation)
		}
		return d
	}

	if snapshot.TierName != req.TierName {
		d.Reasons = append(d.Reasons, ReasonTierMismatch)
	}
	if snapshot.MonthsAtTier < req.MonthsRequired {
		d.Reasons = append(d.Reasons, ReasonTenure)
	}
	if snapshot.ActiveReferralCount < req.MinReferrals {
		d.Reasons = append(d.Reasons, ReasonReferrals)
	}
	if snapshot.MonthlyTeamVolume.LessThan(req.MinTeamVolume) {
		d.Reasons = append(d.Reasons, ReasonTeamVolume)
	}
	if hasExistingAllocation {
		d.Reasons = append(d.Reasons, ReasonExistingAllocation)
	}

	d.Eligible = len(d.Reasons) == 0
	return d
}

// MaintenanceCheck is the per-rule breakdown of a maintenance re-evaluation.
// It is stored verbatim as an allocation's violation details.
type MaintenanceCheck struct {
	TierMatches       bool            `json:"tier_matches"`
	ReferralsMet      bool            `json:"referrals_met"`
	VolumeMet         bool            `json:"volume_met"`
	CurrentTier       string          `json:"current_tier"`
	RequiredTier      string          `json:"required_tier"`
	CurrentReferrals  int             `json:"current_referrals"`
	RequiredReferrals int             `json:"required_referrals"`
	CurrentVolume     decimal.Decimal `json:"current_volume"`
	RequiredVolume    decimal.Decimal `json:"required_volume"`
}

// Passed reports whether every maintenance rule holds.
func (c MaintenanceCheck) Passed() bool {
	return c.TierMatches && c.ReferralsMet && c.VolumeMet
}

// Failed lists the maintenance rules that do not hold.
func (c MaintenanceCheck) Failed() []Reason {
	var out []Reason
	if !c.TierMatches {
		out = append(out, ReasonTierMismatch)
	}
	if !c.ReferralsMet {
		out = append(out, ReasonReferrals)
	}
	if !c.VolumeMet {
		out = append(out, ReasonTeamVolume)
	}
	return out
}

// Details serialises the check for storage.
func (c MaintenanceCheck) Details() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%+v", c)
	}
	return string(b)
}

// CheckMaintenance compares a fresh snapshot against the original requirement
// of the allocated asset type. Tenure is not re-checked.
func CheckMaintenance(snapshot *domain.UserSnapshot, req domain.AssetRequirement) MaintenanceCheck {
	c := MaintenanceCheck{
		RequiredTier:      req.TierName,
		RequiredReferrals: req.MinReferrals,
		RequiredVolume:    req.MinTeamVolume,
		CurrentVolume:     decimal.Zero,
	}
	if snapshot == nil {
		return c
	}
	c.CurrentTier = snapshot.TierName
	c.CurrentReferrals = snapshot.ActiveReferralCount
	c.CurrentVolume = snapshot.MonthlyTeamVolume

	c.TierMatches = snapshot.TierName == req.TierName
	c.ReferralsMet = snapshot.ActiveReferralCount >= req.MinReferrals
	c.VolumeMet = snapshot.MonthlyTeamVolume.GreaterThanOrEqual(req.MinTeamVolume)
	return c
}
