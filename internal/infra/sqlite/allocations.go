package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewardline/entitle/internal/domain"
)

// ─── Allocation Queries ─────────────────────────────────────────────────────

const allocationColumns = `id, user_id, asset_id, asset_type, tier_id, qualifying_team_volume,
	maintenance_period_months, status, maintenance_status, allocated_at,
	last_maintenance_check, violation_details, completed_at, forfeited_at`

// GetAllocation returns one allocation.
func (db *DB) GetAllocation(ctx context.Context, id string) (*domain.Allocation, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE id = ?`, id)
	a, err := scanAllocation(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAllocationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query allocation %s: %w", id, err)
	}
	return a, nil
}

// ListOpenAllocations returns every PENDING or ACTIVE allocation, oldest first.
func (db *DB) ListOpenAllocations(ctx context.Context) ([]domain.Allocation, error) {
	return db.listAllocations(ctx, `
		SELECT `+allocationColumns+` FROM allocations
		WHERE status IN ('PENDING', 'ACTIVE')
		ORDER BY allocated_at, id
	`)
}

// ListAllocationsByUser returns all allocations of a member, oldest first.
func (db *DB) ListAllocationsByUser(ctx context.Context, userID string) ([]domain.Allocation, error) {
	return db.listAllocations(ctx, `
		SELECT `+allocationColumns+` FROM allocations
		WHERE user_id = ?
		ORDER BY allocated_at, id
	`, userID)
}

func (db *DB) listAllocations(ctx context.Context, query string, args ...any) ([]domain.Allocation, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// CountViolationsSince counts logged violations of an allocation detected
// strictly after since.
func (db *DB) CountViolationsSince(ctx context.Context, allocationID string, since time.Time) (int, error) {
	return countViolationsSince(ctx, db.db, allocationID, since)
}

func countViolationsSince(ctx context.Context, q execer, allocationID string, since time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM violation_log
		WHERE allocation_id = ? AND detected_at > ?
	`, allocationID, formatTime(since)).Scan(&count)
	return count, err
}

// ListViolations returns the violation log of an allocation, oldest first.
func (db *DB) ListViolations(ctx context.Context, allocationID string) ([]domain.ViolationRecord, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, allocation_id, user_id, detected_at, details
		FROM violation_log WHERE allocation_id = ?
		ORDER BY detected_at, id
	`, allocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ViolationRecord
	for rows.Next() {
		var (
			v  domain.ViolationRecord
			at string
		)
		if err := rows.Scan(&v.ID, &v.AllocationID, &v.UserID, &at, &v.Details); err != nil {
			return nil, err
		}
		if v.DetectedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func scanAllocation(s scanner) (*domain.Allocation, error) {
	var (
		a           domain.Allocation
		assetType   string
		volumeStr   string
		status      string
		maintStatus string
		allocatedAt string
		lastCheck   sql.NullString
		details     sql.NullString
		completedAt sql.NullString
		forfeitedAt sql.NullString
	)
	err := s.Scan(&a.ID, &a.UserID, &a.AssetID, &assetType, &a.TierID, &volumeStr,
		&a.MaintenancePeriodMonths, &status, &maintStatus, &allocatedAt,
		&lastCheck, &details, &completedAt, &forfeitedAt)
	if err != nil {
		return nil, err
	}

	a.AssetType = domain.AssetType(assetType)
	a.Status = domain.AllocationStatus(status)
	a.MaintenanceStatus = domain.MaintenanceStatus(maintStatus)
	a.ViolationDetails = details.String

	if a.QualifyingTeamVolume, err = decimal.NewFromString(volumeStr); err != nil {
		return nil, fmt.Errorf("allocation %s volume: %w", a.ID, err)
	}
	if a.AllocatedAt, err = parseTime(allocatedAt); err != nil {
		return nil, fmt.Errorf("allocation %s allocated_at: %w", a.ID, err)
	}
	if a.LastMaintenanceCheck, err = parseNullTime(lastCheck); err != nil {
		return nil, err
	}
	if a.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if a.ForfeitedAt, err = parseNullTime(forfeitedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// ─── Transactional Unit ─────────────────────────────────────────────────────

// Atomically implements domain.AllocationStore. The transaction begins
// IMMEDIATE (see the DSN in Open), so the write lock is held from the first
// statement and the claim's read-then-update cannot interleave with another
// writer.
func (db *DB) Atomically(ctx context.Context, fn func(tx domain.Tx) error) error {
	sqlTx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(&tx{tx: sqlTx, now: db.now}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type tx struct {
	tx  *sql.Tx
	now func() time.Time
}

// ClaimAsset performs the AVAILABLE → ALLOCATED compare-and-set on the
// oldest matching unit.
func (t *tx) ClaimAsset(ctx context.Context, assetType domain.AssetType, tier string) (*domain.PhysicalReward, error) {
	row := t.tx.QueryRowContext(ctx, `
		UPDATE physical_rewards
		SET status = 'ALLOCATED', updated_at = ?
		WHERE id = (
			SELECT id FROM physical_rewards
			WHERE type = ? AND tier_requirement = ? AND status = 'AVAILABLE'
			ORDER BY created_at, id
			LIMIT 1
		) AND status = 'AVAILABLE'
		RETURNING `+rewardColumns,
		formatTime(t.now()), string(assetType), tier)

	a, err := scanAsset(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrNoInventory, assetType, tier)
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", assetType, err)
	}
	return a, nil
}

// ReleaseAsset performs ALLOCATED → AVAILABLE and clears the owner.
func (t *tx) ReleaseAsset(ctx context.Context, assetID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE physical_rewards
		SET status = 'AVAILABLE', owner_id = NULL, updated_at = ?
		WHERE id = ? AND status = 'ALLOCATED'
	`, formatTime(t.now()), assetID)
	if err != nil {
		return fmt.Errorf("release asset %s: %w", assetID, err)
	}
	return t.expectOne(ctx, res, assetID)
}

// TransferAsset performs ALLOCATED → TRANSFERRED with an owner.
func (t *tx) TransferAsset(ctx context.Context, assetID, ownerID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE physical_rewards
		SET status = 'TRANSFERRED', owner_id = ?, updated_at = ?
		WHERE id = ? AND status = 'ALLOCATED'
	`, ownerID, formatTime(t.now()), assetID)
	if err != nil {
		return fmt.Errorf("transfer asset %s: %w", assetID, err)
	}
	return t.expectOne(ctx, res, assetID)
}

// expectOne distinguishes a missing unit from one whose status moved on.
func (t *tx) expectOne(ctx context.Context, res sql.Result, assetID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := getAsset(ctx, t.tx, assetID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", domain.ErrAssetConflict, assetID)
}

// InsertAllocation stores a new allocation. A second live allocation for the
// same member and requirement violates the partial unique index.
func (t *tx) InsertAllocation(ctx context.Context, a domain.Allocation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO allocations (
			id, user_id, asset_id, asset_type, tier_id, qualifying_team_volume,
			maintenance_period_months, status, maintenance_status, allocated_at,
			last_maintenance_check, violation_details, completed_at, forfeited_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.AssetID, string(a.AssetType), a.TierID, a.QualifyingTeamVolume.String(),
		a.MaintenancePeriodMonths, string(a.Status), string(a.MaintenanceStatus), formatTime(a.AllocatedAt),
		formatTimePtr(a.LastMaintenanceCheck), nullString(a.ViolationDetails),
		formatTimePtr(a.CompletedAt), formatTimePtr(a.ForfeitedAt), formatTime(t.now()))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: user %s %s", domain.ErrDuplicateAllocation, a.UserID, a.AssetType)
	}
	if err != nil {
		return fmt.Errorf("insert allocation %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAllocation writes the mutable lifecycle columns of an allocation,
// guarded on the status the caller read.
func (t *tx) UpdateAllocation(ctx context.Context, a domain.Allocation, from domain.AllocationStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE allocations SET
			status                 = ?,
			maintenance_status     = ?,
			last_maintenance_check = ?,
			violation_details      = ?,
			completed_at           = ?,
			forfeited_at           = ?,
			updated_at             = ?
		WHERE id = ? AND status = ?
	`, string(a.Status), string(a.MaintenanceStatus), formatTimePtr(a.LastMaintenanceCheck),
		nullString(a.ViolationDetails), formatTimePtr(a.CompletedAt), formatTimePtr(a.ForfeitedAt),
		formatTime(t.now()), a.ID, string(from))
	if err != nil {
		return fmt.Errorf("update allocation %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current string
	err = t.tx.QueryRowContext(ctx, `SELECT status FROM allocations WHERE id = ?`, a.ID).Scan(&current)
	if isNoRows(err) {
		return fmt.Errorf("%w: %s", domain.ErrAllocationNotFound, a.ID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrAllocationConflict, a.ID, current, from)
}

// AppendViolation adds one row to the violation log.
func (t *tx) AppendViolation(ctx context.Context, v domain.ViolationRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO violation_log (id, allocation_id, user_id, detected_at, details)
		VALUES (?, ?, ?, ?, ?)
	`, v.ID, v.AllocationID, v.UserID, formatTime(v.DetectedAt), v.Details)
	if err != nil {
		return fmt.Errorf("append violation for %s: %w", v.AllocationID, err)
	}
	return nil
}

// CountViolationsSince counts violations under the transaction's lock.
func (t *tx) CountViolationsSince(ctx context.Context, allocationID string, since time.Time) (int, error) {
	count, err := countViolationsSince(ctx, t.tx, allocationID, since)
	if err != nil {
		return 0, fmt.Errorf("count violations of %s: %w", allocationID, err)
	}
	return count, nil
}

// RecordEvent appends e to the outbox inside the transaction.
func (t *tx) RecordEvent(ctx context.Context, e domain.Event) error {
	return insertEvent(ctx, t.tx, e)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
