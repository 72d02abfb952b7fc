package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewardline/entitle/internal/domain"
)

// ─── Member Operations ──────────────────────────────────────────────────────

// Member is the stored qualification record of one member.
type Member struct {
	UserID            string
	TierName          string
	TierQualifiedAt   *time.Time
	ActiveReferrals   int
	MonthlyTeamVolume decimal.Decimal
}

// UpsertMember inserts or replaces a member's qualification record.
func (db *DB) UpsertMember(ctx context.Context, m Member) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO members (user_id, tier_name, tier_qualified_at, active_referrals, monthly_team_volume, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			tier_name           = excluded.tier_name,
			tier_qualified_at   = excluded.tier_qualified_at,
			active_referrals    = excluded.active_referrals,
			monthly_team_volume = excluded.monthly_team_volume,
			updated_at          = excluded.updated_at
	`, m.UserID, m.TierName, formatTimePtr(m.TierQualifiedAt), m.ActiveReferrals,
		m.MonthlyTeamVolume.String(), formatTime(db.now()))
	return err
}

// Snapshot implements domain.UserDirectory. Tenure is derived from the tier
// qualification timestamp; a missing timestamp counts as zero months.
func (db *DB) Snapshot(ctx context.Context, userID string) (*domain.UserSnapshot, error) {
	var (
		tier        string
		qualifiedAt sql.NullString
		referrals   int
		volumeStr   string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT tier_name, tier_qualified_at, active_referrals, monthly_team_volume
		FROM members WHERE user_id = ?
	`, userID).Scan(&tier, &qualifiedAt, &referrals, &volumeStr)
	if isNoRows(err) {
		return nil, domain.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("query member %s: %w", userID, err)
	}

	volume, err := decimal.NewFromString(volumeStr)
	if err != nil {
		return nil, fmt.Errorf("member %s volume %q: %w", userID, volumeStr, err)
	}
	since, err := parseNullTime(qualifiedAt)
	if err != nil {
		return nil, fmt.Errorf("member %s tier_qualified_at: %w", userID, err)
	}

	months := 0
	if since != nil {
		months = domain.MonthsBetween(*since, db.now())
	}

	return &domain.UserSnapshot{
		UserID:              userID,
		TierName:            tier,
		MonthsAtTier:        months,
		ActiveReferralCount: referrals,
		MonthlyTeamVolume:   volume,
	}, nil
}
