package sqlite

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements applied by Open.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Member qualification state (UserDirectory backing)
		`CREATE TABLE IF NOT EXISTS members (
			user_id             TEXT PRIMARY KEY,
			tier_name           TEXT NOT NULL,
			tier_qualified_at   TEXT,
			active_referrals    INTEGER NOT NULL DEFAULT 0,
			monthly_team_volume TEXT NOT NULL DEFAULT '0',
			updated_at          TEXT NOT NULL
		)`,

		// Physical inventory units
		`CREATE TABLE IF NOT EXISTS physical_rewards (
			id               TEXT PRIMARY KEY,
			type             TEXT NOT NULL,
			tier_requirement TEXT NOT NULL,
			value            TEXT NOT NULL DEFAULT '0',
			status           TEXT NOT NULL DEFAULT 'AVAILABLE'
			                 CHECK(status IN ('AVAILABLE', 'ALLOCATED', 'TRANSFERRED')),
			owner_id         TEXT,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,
			CHECK(status != 'TRANSFERRED' OR owner_id IS NOT NULL)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rewards_claim ON physical_rewards(type, tier_requirement, status)`,

		// Allocations
		`CREATE TABLE IF NOT EXISTS allocations (
			id                        TEXT PRIMARY KEY,
			user_id                   TEXT NOT NULL,
			asset_id                  TEXT NOT NULL REFERENCES physical_rewards(id),
			asset_type                TEXT NOT NULL,
			tier_id                   TEXT NOT NULL,
			qualifying_team_volume    TEXT NOT NULL DEFAULT '0',
			maintenance_period_months INTEGER NOT NULL,
			status                    TEXT NOT NULL
			                          CHECK(status IN ('PENDING', 'ACTIVE', 'COMPLETED', 'FORFEITED')),
			maintenance_status        TEXT NOT NULL DEFAULT '',
			allocated_at              TEXT NOT NULL,
			last_maintenance_check    TEXT,
			violation_details         TEXT,
			completed_at              TEXT,
			forfeited_at              TEXT,
			updated_at                TEXT NOT NULL
		)`,
		// One live grant per member per requirement
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_alloc_live_requirement
			ON allocations(user_id, asset_type) WHERE status != 'FORFEITED'`,
		// One open grant per unit
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_alloc_open_asset
			ON allocations(asset_id) WHERE status IN ('PENDING', 'ACTIVE')`,
		`CREATE INDEX IF NOT EXISTS idx_alloc_status ON allocations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_alloc_user ON allocations(user_id)`,

		// Append-only violation log (one row per failed maintenance check)
		`CREATE TABLE IF NOT EXISTS violation_log (
			id            TEXT PRIMARY KEY,
			allocation_id TEXT NOT NULL REFERENCES allocations(id),
			user_id       TEXT NOT NULL,
			detected_at   TEXT NOT NULL,
			details       TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_violation_alloc ON violation_log(allocation_id, detected_at)`,

		// Lifecycle event outbox
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			kind          TEXT NOT NULL,
			allocation_id TEXT,
			user_id       TEXT NOT NULL,
			asset_type    TEXT,
			reason        TEXT,
			occurred_at   TEXT NOT NULL,
			published     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON lifecycle_events(published, id)`,
	}
}
