package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Member errors
	ErrNoSnapshot = errors.New("no qualification snapshot for member")

	// Inventory errors
	ErrNoInventory      = errors.New("no available inventory for asset type")
	ErrAssetNotFound    = errors.New("physical reward not found")
	ErrAssetConflict    = errors.New("physical reward status changed concurrently")
	ErrUnknownAssetType = errors.New("unknown asset type")

	// Allocation errors
	ErrAllocationNotFound  = errors.New("allocation not found")
	ErrAllocationConflict  = errors.New("allocation status changed concurrently")
	ErrDuplicateAllocation = errors.New("member already holds a live allocation for this requirement")
	ErrInvalidTransition   = errors.New("invalid allocation status transition")
)
