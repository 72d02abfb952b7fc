package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewardline/entitle/internal/domain"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	db.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { db.Close() })
	return db
}

func addUnit(t *testing.T, db *DB, id string, typ domain.AssetType, tier string) {
	t.Helper()
	err := db.AddAsset(context.Background(), domain.PhysicalReward{
		ID:              id,
		Type:            typ,
		TierRequirement: tier,
		Value:           decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("AddAsset(%s) error: %v", id, err)
	}
}

func pendingAllocation(id, user, asset string, typ domain.AssetType) domain.Allocation {
	return domain.Allocation{
		ID:                      id,
		UserID:                  user,
		AssetID:                 asset,
		AssetType:               typ,
		TierID:                  "Silver Member",
		QualifyingTeamVolume:    decimal.NewFromInt(15000),
		MaintenancePeriodMonths: 12,
		Status:                  domain.AllocationPending,
		AllocatedAt:             testNow,
	}
}

// claimAndInsert runs the allocation unit the way the engine does.
func claimAndInsert(t *testing.T, db *DB, allocID, user string, typ domain.AssetType) (*domain.PhysicalReward, error) {
	t.Helper()
	var claimed *domain.PhysicalReward
	err := db.Atomically(context.Background(), func(tx domain.Tx) error {
		asset, err := tx.ClaimAsset(context.Background(), typ, "Silver Member")
		if err != nil {
			return err
		}
		claimed = asset
		return tx.InsertAllocation(context.Background(), pendingAllocation(allocID, user, asset.ID, typ))
	})
	return claimed, err
}

// ─── Open ───────────────────────────────────────────────────────────────────

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

// ─── Members ────────────────────────────────────────────────────────────────

func TestSnapshot_UnknownMember(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Snapshot(context.Background(), "nobody")
	if !errors.Is(err, domain.ErrNoSnapshot) {
		t.Fatalf("Snapshot() error = %v, want ErrNoSnapshot", err)
	}
}

func TestSnapshot_Tenure(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		since *time.Time
		want  int
	}{
		{"five full months", ptr(time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)), 5},
		{"one day short", ptr(time.Date(2025, 1, 16, 12, 0, 0, 0, time.UTC)), 4},
		{"never qualified", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.UpsertMember(ctx, Member{
				UserID:            "u1",
				TierName:          "Silver Member",
				TierQualifiedAt:   tt.since,
				ActiveReferrals:   4,
				MonthlyTeamVolume: decimal.RequireFromString("15000.50"),
			})
			if err != nil {
				t.Fatalf("UpsertMember() error: %v", err)
			}
			snap, err := db.Snapshot(ctx, "u1")
			if err != nil {
				t.Fatalf("Snapshot() error: %v", err)
			}
			if snap.MonthsAtTier != tt.want {
				t.Errorf("MonthsAtTier = %d, want %d", snap.MonthsAtTier, tt.want)
			}
			if snap.ActiveReferralCount != 4 {
				t.Errorf("ActiveReferralCount = %d, want 4", snap.ActiveReferralCount)
			}
			if !snap.MonthlyTeamVolume.Equal(decimal.RequireFromString("15000.5")) {
				t.Errorf("MonthlyTeamVolume = %s, want 15000.5", snap.MonthlyTeamVolume)
			}
		})
	}
}

// ─── Inventory ──────────────────────────────────────────────────────────────

func TestAddAsset_UnknownType(t *testing.T) {
	db := newTestDB(t)
	err := db.AddAsset(context.Background(), domain.PhysicalReward{ID: "x", Type: "YACHT"})
	if !errors.Is(err, domain.ErrUnknownAssetType) {
		t.Fatalf("AddAsset() error = %v, want ErrUnknownAssetType", err)
	}
}

func TestListAssets_Filter(t *testing.T) {
	db := newTestDB(t)
	addUnit(t, db, "phone-1", domain.AssetSmartphone, "Silver Member")
	addUnit(t, db, "phone-2", domain.AssetSmartphone, "Silver Member")
	addUnit(t, db, "tab-1", domain.AssetTablet, "Silver Member")

	all, err := db.ListAssets(context.Background(), domain.AssetFilter{})
	if err != nil {
		t.Fatalf("ListAssets() error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}

	phones, err := db.ListAssets(context.Background(), domain.AssetFilter{Type: domain.AssetSmartphone})
	if err != nil {
		t.Fatalf("ListAssets() error: %v", err)
	}
	if len(phones) != 2 {
		t.Errorf("len(phones) = %d, want 2", len(phones))
	}

	allocated, err := db.ListAssets(context.Background(), domain.AssetFilter{Status: domain.AssetAllocated})
	if err != nil {
		t.Fatalf("ListAssets() error: %v", err)
	}
	if len(allocated) != 0 {
		t.Errorf("len(allocated) = %d, want 0", len(allocated))
	}
}

func TestGetAsset_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetAsset(context.Background(), "missing")
	if !errors.Is(err, domain.ErrAssetNotFound) {
		t.Fatalf("GetAsset() error = %v, want ErrAssetNotFound", err)
	}
}

// ─── Claim / Release / Transfer ─────────────────────────────────────────────

func TestClaimAsset_OldestFirst(t *testing.T) {
	db := newTestDB(t)
	addUnit(t, db, "phone-a", domain.AssetSmartphone, "Silver Member")
	addUnit(t, db, "phone-b", domain.AssetSmartphone, "Silver Member")

	asset, err := claimAndInsert(t, db, "alloc-1", "u1", domain.AssetSmartphone)
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if asset.ID != "phone-a" {
		t.Errorf("claimed %s, want phone-a", asset.ID)
	}
	if asset.Status != domain.AssetAllocated {
		t.Errorf("status = %s, want ALLOCATED", asset.Status)
	}

	stored, _ := db.GetAsset(context.Background(), "phone-b")
	if stored.Status != domain.AssetAvailable {
		t.Errorf("phone-b status = %s, want AVAILABLE", stored.Status)
	}
}

func TestClaimAsset_NoInventory(t *testing.T) {
	db := newTestDB(t)
	addUnit(t, db, "phone-gold", domain.AssetSmartphone, "Gold Member")

	_, err := claimAndInsert(t, db, "alloc-1", "u1", domain.AssetSmartphone)
	if !errors.Is(err, domain.ErrNoInventory) {
		t.Fatalf("claim error = %v, want ErrNoInventory", err)
	}
}

func TestAtomically_RollbackReleasesClaim(t *testing.T) {
	db := newTestDB(t)
	addUnit(t, db, "phone-1", domain.AssetSmartphone, "Silver Member")
	boom := errors.New("boom")

	err := db.Atomically(context.Background(), func(tx domain.Tx) error {
		if _, err := tx.ClaimAsset(context.Background(), domain.AssetSmartphone, "Silver Member"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomically() error = %v, want boom", err)
	}

	asset, _ := db.GetAsset(context.Background(), "phone-1")
	if asset.Status != domain.AssetAvailable {
		t.Errorf("status after rollback = %s, want AVAILABLE", asset.Status)
	}
}

func TestClaimAsset_Concurrent(t *testing.T) {
	db := newTestDB(t)
	for _, id := range []string{"p1", "p2", "p3"} {
		addUnit(t, db, id, domain.AssetSmartphone, "Silver Member")
	}

	const claimers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[string]int{}
		misses  int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "user-" + string(rune('a'+i))
			asset, err := claimAndInsert(t, db, "alloc-"+user, user, domain.AssetSmartphone)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, domain.ErrNoInventory) {
				misses++
				return
			}
			if err != nil {
				t.Errorf("claim error: %v", err)
				return
			}
			claimed[asset.ID]++
		}(i)
	}
	wg.Wait()

	if len(claimed) != 3 {
		t.Errorf("distinct units claimed = %d, want 3", len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("unit %s claimed %d times, want 1", id, n)
		}
	}
	if misses != claimers-3 {
		t.Errorf("misses = %d, want %d", misses, claimers-3)
	}
}

func TestReleaseAndTransfer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	addUnit(t, db, "phone-1", domain.AssetSmartphone, "Silver Member")
	if _, err := claimAndInsert(t, db, "alloc-1", "u1", domain.AssetSmartphone); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	err := db.Atomically(ctx, func(tx domain.Tx) error {
		return tx.TransferAsset(ctx, "phone-1", "u1")
	})
	if err != nil {
		t.Fatalf("TransferAsset() error: %v", err)
	}
	asset, _ := db.GetAsset(ctx, "phone-1")
	if asset.Status != domain.AssetTransferred {
		t.Errorf("status = %s, want TRANSFERRED", asset.Status)
	}
	if asset.OwnerID == nil || *asset.OwnerID != "u1" {
		t.Errorf("owner = %v, want u1", asset.OwnerID)
	}

	// A transferred unit can no longer be released.
	err = db.Atomically(ctx, func(tx domain.Tx) error {
		return tx.ReleaseAsset(ctx, "phone-1")
	})
	if !errors.Is(err, domain.ErrAssetConflict) {
		t.Fatalf("ReleaseAsset() error = %v, want ErrAssetConflict", err)
	}

	err = db.Atomically(ctx, func(tx domain.Tx) error {
		return tx.ReleaseAsset(ctx, "missing")
	})
	if !errors.Is(err, domain.ErrAssetNotFound) {
		t.Fatalf("ReleaseAsset(missing) error = %v, want ErrAssetNotFound", err)
	}
}

// ─── Allocations ────────────────────────────────────────────────────────────

func TestInsertAllocation_DuplicateLive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	addUnit(t, db, "phone-1", domain.AssetSmartphone, "Silver Member")
	addUnit(t, db, "phone-2", domain.AssetSmartphone, "Silver Member")

	if _, err := claimAndInsert(t, db, "alloc-1", "u1", domain.AssetSmartphone); err != nil {
		t.Fatalf("first claim error: %v", err)
	}
	_, err := claimAndInsert(t, db, "alloc-2", "u1", domain.AssetSmartphone)
	if !errors.Is(err, domain.ErrDuplicateAllocation) {
		t.Fatalf("second claim error = %v, want ErrDuplicateAllocation", err)
	}
	// The rolled back claim leaves the second unit on the shelf.
	if a, _ := db.GetAsset(ctx, "phone-2"); a.Status != domain.AssetAvailable {
		t.Errorf("phone-2 status = %s, want AVAILABLE", a.Status)
	}

	// Once forfeited, the requirement can be granted again.
	alloc, err := db.GetAllocation(ctx, "alloc-1")
	if err != nil {
		t.Fatalf("GetAllocation() error: %v", err)
	}
	forfeitedAt := testNow
	alloc.Status = domain.AllocationForfeited
	alloc.MaintenanceStatus = domain.MaintenanceForfeited
	alloc.ForfeitedAt = &forfeitedAt
	err = db.Atomically(ctx, func(tx domain.Tx) error {
		if err := tx.UpdateAllocation(ctx, *alloc, domain.AllocationPending); err != nil {
			return err
		}
		return tx.ReleaseAsset(ctx, alloc.AssetID)
	})
	if err != nil {
		t.Fatalf("forfeit error: %v", err)
	}
	if _, err := claimAndInsert(t, db, "alloc-3", "u1", domain.AssetSmartphone); err != nil {
		t.Fatalf("claim after forfeit error: %v", err)
	}
}

func TestAllocationRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	addUnit(t, db, "phone-1", domain.AssetSmartphone, "Silver Member")
	if _, err := claimAndInsert(t, db, "alloc-1", "u1", domain.AssetSmartphone); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	alloc, err := db.GetAllocation(ctx, "alloc-1")
	if err != nil {
		t.Fatalf("GetAllocation() error: %v", err)
	}
	if alloc.Status != domain.AllocationPending {
		t.Errorf("Status = %s, want PENDING", alloc.Status)
	}
	if !alloc.AllocatedAt.Equal(testNow) {
		t.Errorf("AllocatedAt = %v, want %v", alloc.AllocatedAt, testNow)
	}
	if alloc.LastMaintenanceCheck != nil {
		t.Errorf("LastMaintenanceCheck = %v, want nil", alloc.LastMaintenanceCheck)
	}
	if !alloc.QualifyingTeamVolume.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("QualifyingTeamVolume = %s, want 15000", alloc.QualifyingTeamVolume)
	}

	checked := testNow.Add(time.Hour)
	alloc.Status = domain.AllocationActive
	alloc.MaintenanceStatus = domain.MaintenanceViolated
	alloc.LastMaintenanceCheck = &checked
	alloc.ViolationDetails = `{"tier_matches":false}`
	if err := db.Atomically(ctx, func(tx domain.Tx) error {
		return tx.UpdateAllocation(ctx, *alloc, domain.AllocationPending)
	}); err != nil {
		t.Fatalf("UpdateAllocation() error: %v", err)
	}

	// A writer still holding the PENDING read loses.
	err = db.Atomically(ctx, func(tx domain.Tx) error {
		return tx.UpdateAllocation(ctx, *alloc, domain.AllocationPending)
	})
	if !errors.Is(err, domain.ErrAllocationConflict) {
		t.Fatalf("stale UpdateAllocation() error = %v, want ErrAllocationConflict", err)
	}

	got, _ := db.GetAllocation(ctx, "alloc-1")
	if got.MaintenanceStatus != domain.MaintenanceViolated {
		t.Errorf("MaintenanceStatus = %s, want VIOLATED", got.MaintenanceStatus)
	}
	if got.LastMaintenanceCheck == nil || !got.LastMaintenanceCheck.Equal(checked) {
		t.Errorf("LastMaintenanceCheck = %v, want %v", got.LastMaintenanceCheck, checked)
	}
	if got.ViolationDetails != `{"tier_matches":false}` {
		t.Errorf("ViolationDetails = %q", got.ViolationDetails)
	}

	open, err := db.ListOpenAllocations(ctx)
	if err != nil {
		t.Fatalf("ListOpenAllocations() error: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("len(open) = %d, want 1", len(open))
	}
	byUser, err := db.ListAllocationsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListAllocationsByUser() error: %v", err)
	}
	if len(byUser) != 1 {
		t.Errorf("len(byUser) = %d, want 1", len(byUser))
	}
}

func TestGetAllocation_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetAllocation(context.Background(), "missing")
	if !errors.Is(err, domain.ErrAllocationNotFound) {
		t.Fatalf("GetAllocation() error = %v, want ErrAllocationNotFound", err)
	}
}

func TestUpdateAllocation_NotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	err := db.Atomically(ctx, func(tx domain.Tx) error {
		return tx.UpdateAllocation(ctx, domain.Allocation{ID: "missing", Status: domain.AllocationActive}, domain.AllocationPending)
	})
	if !errors.Is(err, domain.ErrAllocationNotFound) {
		t.Fatalf("UpdateAllocation() error = %v, want ErrAllocationNotFound", err)
	}
}

// ─── Violation Log ──────────────────────────────────────────────────────────

func TestCountViolationsSince(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	addUnit(t, db, "phone-1", domain.AssetSmartphone, "Silver Member")
	if _, err := claimAndInsert(t, db, "alloc-1", "u1", domain.AssetSmartphone); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	for i, at := range []time.Time{
		testNow.AddDate(0, -5, 0),
		testNow.AddDate(0, -2, 0),
		testNow.AddDate(0, 0, -1),
	} {
		v := domain.ViolationRecord{
			ID:           "v" + string(rune('0'+i)),
			AllocationID: "alloc-1",
			UserID:       "u1",
			DetectedAt:   at,
			Details:      "{}",
		}
		if err := db.Atomically(ctx, func(tx domain.Tx) error { return tx.AppendViolation(ctx, v) }); err != nil {
			t.Fatalf("AppendViolation() error: %v", err)
		}
	}

	count, err := db.CountViolationsSince(ctx, "alloc-1", testNow.AddDate(0, -3, 0))
	if err != nil {
		t.Fatalf("CountViolationsSince() error: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	log, err := db.ListViolations(ctx, "alloc-1")
	if err != nil {
		t.Fatalf("ListViolations() error: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("len(log) = %d, want 3", len(log))
	}
	if !log[0].DetectedAt.Before(log[2].DetectedAt) {
		t.Error("violation log should be oldest first")
	}
}

// ─── Event Outbox ───────────────────────────────────────────────────────────

func TestEventOutbox(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, kind := range []domain.EventKind{domain.EventAllocated, domain.EventViolated, domain.EventForfeited} {
		err := db.Atomically(ctx, func(tx domain.Tx) error {
			return tx.RecordEvent(ctx, domain.Event{
				Kind:         kind,
				AllocationID: "alloc-1",
				UserID:       "u1",
				AssetType:    domain.AssetSmartphone,
				At:           testNow,
			})
		})
		if err != nil {
			t.Fatalf("RecordEvent() error: %v", err)
		}
	}

	recent, err := db.ListEvents(ctx, 2)
	if err != nil {
		t.Fatalf("ListEvents() error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].Event.Kind != domain.EventForfeited {
		t.Errorf("newest kind = %s, want forfeited", recent[0].Event.Kind)
	}

	pending, err := db.PendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("PendingEvents() error: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("len(pending) = %d, want 3", len(pending))
	}
	if pending[0].Event.Kind != domain.EventAllocated {
		t.Errorf("oldest kind = %s, want allocated", pending[0].Event.Kind)
	}

	if err := db.MarkEventsPublished(ctx, []int64{pending[0].ID, pending[1].ID}); err != nil {
		t.Fatalf("MarkEventsPublished() error: %v", err)
	}
	pending, _ = db.PendingEvents(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("len(pending) after publish = %d, want 1", len(pending))
	}
}

func TestRecordEvent_RollsBackWithUnit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.Atomically(ctx, func(tx domain.Tx) error {
		if err := tx.RecordEvent(ctx, domain.Event{Kind: domain.EventCompleted, UserID: "u1", At: testNow}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomically() error = %v, want boom", err)
	}
	if stored, _ := db.ListEvents(ctx, 10); len(stored) != 0 {
		t.Errorf("len(events) = %d, want 0 after rollback", len(stored))
	}
}

func TestCountViolationsSince_InsideUnit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	addUnit(t, db, "phone-1", domain.AssetSmartphone, "Silver Member")
	if _, err := claimAndInsert(t, db, "alloc-1", "u1", domain.AssetSmartphone); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	err := db.Atomically(ctx, func(tx domain.Tx) error {
		if err := tx.AppendViolation(ctx, domain.ViolationRecord{
			ID: "v1", AllocationID: "alloc-1", UserID: "u1", DetectedAt: testNow, Details: "{}",
		}); err != nil {
			return err
		}
		n, err := tx.CountViolationsSince(ctx, "alloc-1", testNow.AddDate(0, -3, 0))
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("count inside unit = %d, want 1", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomically() error: %v", err)
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func TestIsUniqueViolation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	addUnit(t, db, "phone-1", domain.AssetSmartphone, "Silver Member")

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO physical_rewards (id, type, tier_requirement, value, status, created_at, updated_at)
		VALUES ('phone-1', 'SMARTPHONE', 'Silver Member', '850', 'AVAILABLE', 'x', 'x')`)
	if err == nil {
		t.Fatal("duplicate primary key insert should fail")
	}
	if isUniqueViolation(err) {
		t.Error("primary key conflict must not read as a unique index violation")
	}
	if isUniqueViolation(errors.New("UNIQUE constraint failed: fake")) {
		t.Error("plain error text must not match")
	}
	if isUniqueViolation(nil) {
		t.Error("nil is not a violation")
	}
}

func ptr[T any](v T) *T { return &v }
