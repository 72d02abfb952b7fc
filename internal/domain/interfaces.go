package domain

import (
	"context"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the application layer depends on them.

// RequirementCatalog resolves the requirement record of each asset type.
type RequirementCatalog interface {
	Types() []AssetType
	Requirement(t AssetType) (AssetRequirement, error)
}

// UserDirectory supplies member qualification snapshots.
type UserDirectory interface {
	// Snapshot returns ErrNoSnapshot when the member has no tier record.
	Snapshot(ctx context.Context, userID string) (*UserSnapshot, error)
}

// AssetFilter narrows inventory listings. Zero values match everything.
type AssetFilter struct {
	Type   AssetType
	Status AssetStatus
}

// InventoryStore manages physical reward units.
type InventoryStore interface {
	AddAsset(ctx context.Context, asset PhysicalReward) error
	GetAsset(ctx context.Context, id string) (*PhysicalReward, error)
	ListAssets(ctx context.Context, filter AssetFilter) ([]PhysicalReward, error)
}

// AllocationStore persists allocations and applies related mutations atomically.
type AllocationStore interface {
	GetAllocation(ctx context.Context, id string) (*Allocation, error)
	ListOpenAllocations(ctx context.Context) ([]Allocation, error)
	ListAllocationsByUser(ctx context.Context, userID string) ([]Allocation, error)

	// Atomically runs fn in one transactional unit. Any error returned by fn
	// rolls back every mutation made through tx.
	Atomically(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of mutations the engine may group into one atomic unit.
type Tx interface {
	// ClaimAsset moves one AVAILABLE unit of the given type and tier to
	// ALLOCATED by compare-and-set. Returns ErrNoInventory when none is left.
	ClaimAsset(ctx context.Context, assetType AssetType, tier string) (*PhysicalReward, error)
	// ReleaseAsset moves an ALLOCATED unit back to AVAILABLE and clears its owner.
	ReleaseAsset(ctx context.Context, assetID string) error
	// TransferAsset moves an ALLOCATED unit to TRANSFERRED owned by ownerID.
	TransferAsset(ctx context.Context, assetID, ownerID string) error

	InsertAllocation(ctx context.Context, a Allocation) error
	// UpdateAllocation writes a's lifecycle fields only if the stored status
	// still equals from. Returns ErrAllocationConflict otherwise.
	UpdateAllocation(ctx context.Context, a Allocation, from AllocationStatus) error
	AppendViolation(ctx context.Context, v ViolationRecord) error
	// CountViolationsSince counts logged violations of an allocation detected
	// strictly after since. Read inside the unit, it sees every violation
	// committed before the unit began.
	CountViolationsSince(ctx context.Context, allocationID string, since time.Time) (int, error)

	// RecordEvent appends a lifecycle event to the outbox. It commits or
	// rolls back with the transition that produced it.
	RecordEvent(ctx context.Context, e Event) error
}

// EventSink receives lifecycle events after they are recorded. Implementations
// must not block the engine.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}
