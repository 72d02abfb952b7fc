package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewardline/entitle/internal/domain"
	"github.com/rewardline/entitle/internal/infra/catalog"
	"github.com/rewardline/entitle/internal/infra/sqlite"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// fakeDirectory serves fixed snapshots.
type fakeDirectory struct {
	snapshots map[string]domain.UserSnapshot
	err       error
}

func (f *fakeDirectory) Snapshot(_ context.Context, userID string) (*domain.UserSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.snapshots[userID]
	if !ok {
		return nil, domain.ErrNoSnapshot
	}
	s.UserID = userID
	return &s, nil
}

// recordingSink captures emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Emit(_ context.Context, e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	db.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { db.Close() })
	return db
}

func addUnits(t *testing.T, db *sqlite.DB, typ domain.AssetType, n int) {
	t.Helper()
	req := catalog.Lookup(typ)
	require.NotNil(t, req)
	for i := 0; i < n; i++ {
		require.NoError(t, db.AddAsset(context.Background(), domain.PhysicalReward{
			ID:              fmt.Sprintf("%s-%d", typ, i),
			Type:            typ,
			TierRequirement: req.TierName,
			Value:           req.ValueRange.Min,
		}))
	}
}

func silverSnapshot() domain.UserSnapshot {
	return domain.UserSnapshot{
		TierName:            catalog.TierSilver,
		MonthsAtTier:        4,
		ActiveReferralCount: 3,
		MonthlyTeamVolume:   decimal.NewFromInt(20000),
	}
}

func newTestEngine(t *testing.T, db *sqlite.DB, dir domain.UserDirectory, sink domain.EventSink) *Engine {
	t.Helper()
	return New(catalog.Default(), dir, db,
		WithEvents(sink),
		WithClock(func() time.Time { return testNow }))
}

func allocatedTypes(results []Result) []domain.AssetType {
	var out []domain.AssetType
	for _, r := range results {
		if r.Outcome == OutcomeAllocated {
			out = append(out, r.AssetType)
		}
	}
	return out
}

// ─── Allocate ───────────────────────────────────────────────────────────────

func TestAllocate_SilverMemberGetsPhoneAndTablet(t *testing.T) {
	db := newTestDB(t)
	addUnits(t, db, domain.AssetSmartphone, 2)
	addUnits(t, db, domain.AssetTablet, 2)
	sink := &recordingSink{}
	dir := &fakeDirectory{snapshots: map[string]domain.UserSnapshot{"u1": silverSnapshot()}}
	engine := newTestEngine(t, db, dir, sink)

	results, err := engine.Allocate(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ElementsMatch(t, []domain.AssetType{domain.AssetSmartphone, domain.AssetTablet}, allocatedTypes(results))

	for _, r := range results {
		a := r.Allocation
		require.NotNil(t, a)
		assert.Equal(t, domain.AllocationPending, a.Status)
		assert.Equal(t, domain.MaintenanceNone, a.MaintenanceStatus)
		assert.Equal(t, "u1", a.UserID)
		assert.Equal(t, catalog.TierSilver, a.TierID)
		assert.Equal(t, 12, a.MaintenancePeriodMonths)
		assert.True(t, a.QualifyingTeamVolume.Equal(decimal.NewFromInt(20000)))
		assert.True(t, a.AllocatedAt.Equal(testNow))

		asset, err := db.GetAsset(context.Background(), a.AssetID)
		require.NoError(t, err)
		assert.Equal(t, domain.AssetAllocated, asset.Status)
		assert.Equal(t, a.AssetType, asset.Type)
	}

	available, err := db.ListAssets(context.Background(), domain.AssetFilter{Status: domain.AssetAvailable})
	require.NoError(t, err)
	assert.Len(t, available, 2)
	assert.Equal(t, []domain.EventKind{domain.EventAllocated, domain.EventAllocated}, sink.kinds())
}

func TestAllocate_IneligibleForEverything(t *testing.T) {
	db := newTestDB(t)
	for _, typ := range domain.AssetTypes() {
		addUnits(t, db, typ, 1)
	}
	dir := &fakeDirectory{snapshots: map[string]domain.UserSnapshot{
		"u1": {TierName: catalog.TierBronze, MonthsAtTier: 0, ActiveReferralCount: 0, MonthlyTeamVolume: decimal.Zero},
	}}
	sink := &recordingSink{}
	engine := newTestEngine(t, db, dir, sink)

	results, err := engine.Allocate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, results)

	allocs, err := db.ListAllocationsByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, allocs)
	assert.Empty(t, sink.kinds())
}

func TestAllocate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	addUnits(t, db, domain.AssetSmartphone, 3)
	addUnits(t, db, domain.AssetTablet, 3)
	dir := &fakeDirectory{snapshots: map[string]domain.UserSnapshot{"u1": silverSnapshot()}}
	engine := newTestEngine(t, db, dir, nil)

	first, err := engine.Allocate(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := engine.Allocate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, second)

	allocs, err := db.ListAllocationsByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, allocs, 2)
}

func TestAllocate_InventoryShortage(t *testing.T) {
	db := newTestDB(t)
	addUnits(t, db, domain.AssetTablet, 1)
	sink := &recordingSink{}
	dir := &fakeDirectory{snapshots: map[string]domain.UserSnapshot{"u1": silverSnapshot()}}
	engine := newTestEngine(t, db, dir, sink)

	results, err := engine.Allocate(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	byType := map[domain.AssetType]Result{}
	for _, r := range results {
		byType[r.AssetType] = r
	}
	phone := byType[domain.AssetSmartphone]
	assert.Equal(t, OutcomeSkipped, phone.Outcome)
	assert.Equal(t, SkipNoInventory, phone.Reason)
	assert.Nil(t, phone.Allocation)
	assert.Equal(t, OutcomeAllocated, byType[domain.AssetTablet].Outcome)

	assert.ElementsMatch(t,
		[]domain.EventKind{domain.EventInventoryShortage, domain.EventAllocated},
		sink.kinds())

	stored, err := db.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	var kinds []domain.EventKind
	for _, e := range stored {
		kinds = append(kinds, e.Event.Kind)
	}
	assert.ElementsMatch(t, []domain.EventKind{domain.EventInventoryShortage, domain.EventAllocated}, kinds)
}

func TestAllocate_WrongTierInventoryNotClaimed(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AddAsset(context.Background(), domain.PhysicalReward{
		ID:              "gold-phone",
		Type:            domain.AssetSmartphone,
		TierRequirement: catalog.TierGold,
		Value:           decimal.NewFromInt(900),
	}))
	dir := &fakeDirectory{snapshots: map[string]domain.UserSnapshot{"u1": silverSnapshot()}}
	engine := newTestEngine(t, db, dir, nil)

	results, err := engine.Allocate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, allocatedTypes(results))

	asset, err := db.GetAsset(context.Background(), "gold-phone")
	require.NoError(t, err)
	assert.Equal(t, domain.AssetAvailable, asset.Status)
}

func TestAllocate_NoSnapshot(t *testing.T) {
	db := newTestDB(t)
	addUnits(t, db, domain.AssetStarterKit, 1)
	engine := newTestEngine(t, db, &fakeDirectory{}, nil)

	results, err := engine.Allocate(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAllocate_DirectoryFailure(t *testing.T) {
	db := newTestDB(t)
	boom := errors.New("directory unavailable")
	engine := newTestEngine(t, db, &fakeDirectory{err: boom}, nil)

	_, err := engine.Allocate(context.Background(), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestAllocate_ReallocatesAfterForfeit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	addUnits(t, db, domain.AssetSmartphone, 2)
	dir := &fakeDirectory{snapshots: map[string]domain.UserSnapshot{"u1": silverSnapshot()}}
	engine := newTestEngine(t, db, dir, nil)

	first, err := engine.Allocate(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, allocatedTypes(first), 1)

	forfeited := *first[0].Allocation
	at := testNow
	forfeited.Status = domain.AllocationForfeited
	forfeited.MaintenanceStatus = domain.MaintenanceForfeited
	forfeited.ForfeitedAt = &at
	require.NoError(t, db.Atomically(ctx, func(tx domain.Tx) error {
		if err := tx.UpdateAllocation(ctx, forfeited, domain.AllocationPending); err != nil {
			return err
		}
		return tx.ReleaseAsset(ctx, forfeited.AssetID)
	}))

	second, err := engine.Allocate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []domain.AssetType{domain.AssetSmartphone}, allocatedTypes(second))
}

func TestAllocate_ConcurrentNoDoubleAllocation(t *testing.T) {
	db := newTestDB(t)
	addUnits(t, db, domain.AssetSmartphone, 2)
	addUnits(t, db, domain.AssetTablet, 2)

	const members = 6
	snapshots := map[string]domain.UserSnapshot{}
	for i := 0; i < members; i++ {
		snapshots[fmt.Sprintf("u%d", i)] = silverSnapshot()
	}
	engine := newTestEngine(t, db, &fakeDirectory{snapshots: snapshots}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, members)
	for user := range snapshots {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			if _, err := engine.Allocate(context.Background(), user); err != nil {
				errs <- err
			}
		}(user)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Allocate() error: %v", err)
	}

	open, err := db.ListOpenAllocations(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 4)

	seen := map[string]bool{}
	for _, a := range open {
		assert.False(t, seen[a.AssetID], "asset %s allocated twice", a.AssetID)
		seen[a.AssetID] = true
	}

	available, err := db.ListAssets(context.Background(), domain.AssetFilter{Status: domain.AssetAvailable})
	require.NoError(t, err)
	assert.Empty(t, available)

	// One outbox row per committed claim, none for the losers.
	stored, err := db.PendingEvents(context.Background(), 100)
	require.NoError(t, err)
	allocated := 0
	for _, e := range stored {
		if e.Event.Kind == domain.EventAllocated {
			allocated++
		}
	}
	assert.Equal(t, len(open), allocated)
}

// ─── Evaluate ───────────────────────────────────────────────────────────────

func TestEvaluate_ReportsEveryType(t *testing.T) {
	db := newTestDB(t)
	dir := &fakeDirectory{snapshots: map[string]domain.UserSnapshot{"u1": silverSnapshot()}}
	engine := newTestEngine(t, db, dir, nil)

	decisions, err := engine.Evaluate(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, decisions, len(domain.AssetTypes()))

	eligible := map[domain.AssetType]bool{}
	for _, d := range decisions {
		eligible[d.AssetType] = d.Eligible
	}
	assert.True(t, eligible[domain.AssetSmartphone])
	assert.True(t, eligible[domain.AssetTablet])
	assert.False(t, eligible[domain.AssetStarterKit])
	assert.False(t, eligible[domain.AssetCar])
}
