package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rewardline/entitle/internal/domain"
)

// ─── Inventory Operations ───────────────────────────────────────────────────

const rewardColumns = `id, type, tier_requirement, value, status, owner_id`

// AddAsset inserts a new inventory unit. Status defaults to AVAILABLE.
func (db *DB) AddAsset(ctx context.Context, a domain.PhysicalReward) error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownAssetType, a.Type)
	}
	if a.Status == "" {
		a.Status = domain.AssetAvailable
	}
	now := formatTime(db.now())
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO physical_rewards (id, type, tier_requirement, value, status, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Type), a.TierRequirement, a.Value.String(), string(a.Status), a.OwnerID, now, now)
	if err != nil {
		return fmt.Errorf("insert asset %s: %w", a.ID, err)
	}
	return nil
}

// GetAsset returns one inventory unit.
func (db *DB) GetAsset(ctx context.Context, id string) (*domain.PhysicalReward, error) {
	return getAsset(ctx, db.db, id)
}

func getAsset(ctx context.Context, q execer, id string) (*domain.PhysicalReward, error) {
	row := q.QueryRowContext(ctx, `SELECT `+rewardColumns+` FROM physical_rewards WHERE id = ?`, id)
	a, err := scanAsset(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query asset %s: %w", id, err)
	}
	return a, nil
}

// ListAssets returns units matching the filter, oldest first.
func (db *DB) ListAssets(ctx context.Context, filter domain.AssetFilter) ([]domain.PhysicalReward, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + rewardColumns + ` FROM physical_rewards`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PhysicalReward
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func scanAsset(s scanner) (*domain.PhysicalReward, error) {
	var (
		a        domain.PhysicalReward
		typ      string
		status   string
		valueStr string
		owner    sql.NullString
	)
	if err := s.Scan(&a.ID, &typ, &a.TierRequirement, &valueStr, &status, &owner); err != nil {
		return nil, err
	}
	a.Type = domain.AssetType(typ)
	a.Status = domain.AssetStatus(status)
	v, err := decimal.NewFromString(valueStr)
	if err != nil {
		return nil, fmt.Errorf("asset %s value %q: %w", a.ID, valueStr, err)
	}
	a.Value = v
	if owner.Valid {
		o := owner.String
		a.OwnerID = &o
	}
	return &a, nil
}
