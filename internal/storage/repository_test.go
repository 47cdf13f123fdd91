package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floorwatch/internal/domain"
)

func TestStore_NotConfigured(t *testing.T) {
	var store *Store
	_, err := store.LoadFloors(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = NewStore(nil).MarkAlerted(context.Background(), AlertedListing{ListingID: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStore_InvalidInputBeforePool(t *testing.T) {
	store := NewStore(nil)
	assert.ErrorIs(t, store.UpsertFloor(context.Background(), FloorRecord{Rarity: "nope"}), ErrInvalidInput)
	assert.ErrorIs(t, store.MarkAlerted(context.Background(), AlertedListing{}), ErrInvalidInput)
	_, err := store.ListRecentAlerted(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStore_FloorsRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.UpsertFloor(ctx, FloorRecord{Rarity: domain.Epic, Price: decimal.RequireFromString("100.125"), UpdatedAt: t0}))
	require.NoError(t, store.UpsertFloor(ctx, FloorRecord{Rarity: domain.Epic, Price: decimal.NewFromInt(80), UpdatedAt: t0.Add(time.Second)}))

	floors, err := store.LoadFloors(ctx)
	require.NoError(t, err)
	require.Len(t, floors, 1)
	assert.Equal(t, domain.Epic, floors[0].Rarity)
	assert.True(t, floors[0].Price.Equal(decimal.NewFromInt(80)))

	history, err := store.ListFloorHistory(ctx, t0.Add(-time.Minute), t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Price.Equal(decimal.RequireFromString("100.125")))
	assert.True(t, history[1].Price.Equal(decimal.NewFromInt(80)))
}

func TestStore_AlertedSet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)

	require.NoError(t, store.MarkAlerted(ctx, AlertedListing{ListingID: "tok1", Rarity: domain.Rare, Price: decimal.NewFromInt(5), AlertedAt: old}))
	require.NoError(t, store.MarkAlerted(ctx, AlertedListing{ListingID: "tok2", Rarity: domain.Rare, Price: decimal.NewFromInt(6)}))
	// duplicate mark keeps the original row
	require.NoError(t, store.MarkAlerted(ctx, AlertedListing{ListingID: "tok1", Rarity: domain.Rare, Price: decimal.NewFromInt(1)}))

	all, err := store.LoadAlerted(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	recent, err := store.ListRecentAlerted(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "tok2", recent[0].ListingID)

	removed, err := store.DeleteAlertedBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}

func TestStore_ThresholdsAndLock(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertThreshold(ctx, ThresholdRecord{Rarity: domain.Common, DiscountPct: decimal.NewFromInt(35)}))
	records, err := store.LoadThresholds(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].DiscountPct.Equal(decimal.NewFromInt(35)))

	unlock, acquired, err := store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	require.True(t, acquired)

	_, again, err := store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	assert.False(t, again, "second session must not acquire a held lock")

	unlock()
	unlock2, acquired, err := store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	assert.True(t, acquired)
	unlock2()
}
