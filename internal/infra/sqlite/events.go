package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rewardline/entitle/internal/domain"
)

// ─── Lifecycle Event Outbox ─────────────────────────────────────────────────

// StoredEvent is an outbox row.
type StoredEvent struct {
	ID        int64        `json:"id"`
	Event     domain.Event `json:"event"`
	Published bool         `json:"published"`
}

// Events are written through the transactional unit (see tx.RecordEvent) so
// an outbox row exists exactly when the transition it describes committed.
func insertEvent(ctx context.Context, q execer, e domain.Event) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO lifecycle_events (kind, allocation_id, user_id, asset_type, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(e.Kind), nullString(e.AllocationID), e.UserID, nullString(string(e.AssetType)),
		nullString(e.Reason), formatTime(e.At))
	if err != nil {
		return fmt.Errorf("insert %s event: %w", e.Kind, err)
	}
	return nil
}

// ListEvents returns the most recent events, newest first.
func (db *DB) ListEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryEvents(ctx, `
		SELECT id, kind, allocation_id, user_id, asset_type, reason, occurred_at, published
		FROM lifecycle_events ORDER BY id DESC LIMIT ?
	`, limit)
}

// PendingEvents returns unpublished events, oldest first.
func (db *DB) PendingEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryEvents(ctx, `
		SELECT id, kind, allocation_id, user_id, asset_type, reason, occurred_at, published
		FROM lifecycle_events WHERE published = 0 ORDER BY id LIMIT ?
	`, limit)
}

// MarkEventsPublished flags events as delivered downstream.
func (db *DB) MarkEventsPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := db.db.ExecContext(ctx,
		`UPDATE lifecycle_events SET published = 1 WHERE id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

func (db *DB) queryEvents(ctx context.Context, query string, args ...any) ([]StoredEvent, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StoredEvent
	for rows.Next() {
		var (
			se        StoredEvent
			kind      string
			allocID   sql.NullString
			assetType sql.NullString
			reason    sql.NullString
			at        string
			published int
		)
		if err := rows.Scan(&se.ID, &kind, &allocID, &se.Event.UserID, &assetType, &reason, &at, &published); err != nil {
			return nil, err
		}
		se.Event.Kind = domain.EventKind(kind)
		se.Event.AllocationID = allocID.String
		se.Event.AssetType = domain.AssetType(assetType.String)
		se.Event.Reason = reason.String
		if se.Event.At, err = parseTime(at); err != nil {
			return nil, err
		}
		se.Published = published == 1
		result = append(result, se)
	}
	return result, rows.Err()
}
