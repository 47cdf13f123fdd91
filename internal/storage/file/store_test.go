package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floorwatch/internal/dedup"
	"floorwatch/internal/domain"
	"floorwatch/internal/floor"
	"floorwatch/internal/storage"
)

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
	require.NoError(t, err)

	floors, err := store.LoadFloors(context.Background())
	require.NoError(t, err)
	assert.Empty(t, floors)
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	first, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.UpsertFloor(ctx, storage.FloorRecord{Rarity: domain.Legendary, Price: decimal.RequireFromString("1000.5"), UpdatedAt: at}))
	require.NoError(t, first.MarkAlerted(ctx, storage.AlertedListing{ListingID: "POLYGON-0xabc:999", Rarity: domain.Legendary, Price: decimal.NewFromInt(400), AlertedAt: at}))
	require.NoError(t, first.UpsertThreshold(ctx, storage.ThresholdRecord{Rarity: domain.Epic, DiscountPct: decimal.NewFromInt(30), UpdatedAt: at}))

	second, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	floors, err := second.LoadFloors(ctx)
	require.NoError(t, err)
	require.Len(t, floors, 1)
	assert.True(t, floors[0].Price.Equal(decimal.RequireFromString("1000.5")))
	assert.True(t, floors[0].UpdatedAt.Equal(at))

	alerted, err := second.LoadAlerted(ctx)
	require.NoError(t, err)
	require.Len(t, alerted, 1)
	assert.Equal(t, "POLYGON-0xabc:999", alerted[0].ListingID)

	thresholds, err := second.LoadThresholds(ctx)
	require.NoError(t, err)
	require.Len(t, thresholds, 1)
	assert.True(t, thresholds[0].DiscountPct.Equal(decimal.NewFromInt(30)))
}

func TestAlertedSetAndFloorsReloadAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	repo, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	floors := floor.NewStore(repo, zerolog.Nop())
	_, err = floors.Refresh(ctx, []domain.Listing{{ID: "x", Rarity: domain.Epic, Price: decimal.NewFromInt(100)}})
	require.NoError(t, err)
	set := dedup.NewSet(repo, zerolog.Nop())
	require.NoError(t, set.Mark(ctx, domain.Listing{ID: "tok42", Rarity: domain.Epic, Price: decimal.NewFromInt(40)}))

	restarted, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	reloadedFloors := floor.NewStore(restarted, zerolog.Nop())
	require.NoError(t, reloadedFloors.Load(ctx))
	reloadedSet := dedup.NewSet(restarted, zerolog.Nop())
	require.NoError(t, reloadedSet.Load(ctx))

	got, ok := reloadedFloors.Get(domain.Epic)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(100)))
	assert.True(t, reloadedSet.Contains("tok42"))
}

func TestPruneRewritesFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	store, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.MarkAlerted(ctx, storage.AlertedListing{ListingID: "old", Rarity: domain.Rare, Price: decimal.NewFromInt(1), AlertedAt: at}))

	removed, err := store.DeleteAlertedBefore(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	alerted, err := reopened.LoadAlerted(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerted)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "state.json"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.UpsertFloor(context.Background(), storage.FloorRecord{Rarity: domain.Common, Price: decimal.NewFromInt(1)}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestOpenRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o600))
	_, err := Open(corrupt, zerolog.Nop())
	require.ErrorContains(t, err, "decode state file")

	newer := filepath.Join(dir, "newer.json")
	require.NoError(t, os.WriteFile(newer, []byte(`{"version": 99}`), 0o600))
	_, err = Open(newer, zerolog.Nop())
	require.ErrorContains(t, err, "version 99")

	_, err = Open("", zerolog.Nop())
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestOpenSkipsUnknownRarities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	content := `{"version":1,"floors":[{"rarity":"Mythic","price":"5"},{"rarity":"Rare","price":"3"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	floors, err := store.LoadFloors(context.Background())
	require.NoError(t, err)
	require.Len(t, floors, 1)
	assert.Equal(t, domain.Rare, floors[0].Rarity)
}
