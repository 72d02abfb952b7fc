package domain

import (
	"context"
	"time"
)

// EventKind names a lifecycle point of an allocation.
type EventKind string

const (
	EventAllocated         EventKind = "allocated"
	EventMaintained        EventKind = "maintained"
	EventViolated          EventKind = "violated"
	EventForfeited         EventKind = "forfeited"
	EventCompleted         EventKind = "completed"
	EventInventoryShortage EventKind = "inventory_shortage"
	EventSweepFailed       EventKind = "sweep_failed"
)

// Event is a structured lifecycle notification.
type Event struct {
	Kind         EventKind `json:"kind"`
	AllocationID string    `json:"allocation_id,omitempty"`
	UserID       string    `json:"user_id"`
	AssetType    AssetType `json:"asset_type,omitempty"`
	At           time.Time `json:"at"`
	Reason       string    `json:"reason,omitempty"`
}

// NopSink discards events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(_ context.Context, _ Event) {}
