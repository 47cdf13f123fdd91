package floor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floorwatch/internal/domain"
	"floorwatch/internal/storage"
	"floorwatch/internal/storage/memory"
)

func obs(id string, r domain.Rarity, price int64) domain.Listing {
	return domain.Listing{ID: id, Rarity: r, Price: decimal.NewFromInt(price)}
}

func assertFloor(t *testing.T, s interface {
	Get(domain.Rarity) (decimal.Decimal, bool)
}, r domain.Rarity, want int64) {
	t.Helper()
	got, ok := s.Get(r)
	require.True(t, ok, "floor for %s should exist", r)
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "floor for %s = %s, want %d", r, got, want)
}

func TestInitializeSeedsOnlyObservedRarities(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewStore(), zerolog.Nop())

	seeded, changes, err := store.Initialize(ctx, []domain.Listing{
		obs("a", domain.Epic, 120), obs("b", domain.Epic, 100), obs("c", domain.Common, 5),
	})
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.Len(t, changes, 2)

	assertFloor(t, store, domain.Epic, 100)
	assertFloor(t, store, domain.Common, 5)
	_, ok := store.Get(domain.Legendary)
	assert.False(t, ok, "rarity without listings must stay absent, not zero")
}

func TestInitializeDoesNotReseedPersistedFloors(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore()
	require.NoError(t, repo.UpsertFloor(ctx, storage.FloorRecord{Rarity: domain.Epic, Price: decimal.NewFromInt(100)}))

	store := NewStore(repo, zerolog.Nop())
	require.NoError(t, store.Load(ctx))

	seeded, _, err := store.Initialize(ctx, []domain.Listing{obs("a", domain.Epic, 300)})
	require.NoError(t, err)
	assert.False(t, seeded)
	assertFloor(t, store, domain.Epic, 100)
}

func TestRefreshRecomputesMinimumAndKeepsMissing(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewStore(), zerolog.Nop())
	_, err := store.Refresh(ctx, []domain.Listing{obs("a", domain.Epic, 100), obs("b", domain.Rare, 40)})
	require.NoError(t, err)

	// Epic's floor listing was delisted: recomputation may raise it. Rare is absent from the batch.
	changes, err := store.Refresh(ctx, []domain.Listing{obs("c", domain.Epic, 130), obs("d", domain.Epic, 150)})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.Epic, changes[0].Rarity)
	assert.True(t, changes[0].Previous.Valid)
	assert.True(t, changes[0].Previous.Decimal.Equal(decimal.NewFromInt(100)))

	assertFloor(t, store, domain.Epic, 130)
	assertFloor(t, store, domain.Rare, 40)
}

func TestRefreshUnchangedProducesNoWrites(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{Store: memory.NewStore()}
	store := NewStore(repo, zerolog.Nop())

	_, err := store.Refresh(ctx, []domain.Listing{obs("a", domain.Epic, 100)})
	require.NoError(t, err)
	changes, err := store.Refresh(ctx, []domain.Listing{obs("b", domain.Epic, 100)})
	require.NoError(t, err)

	assert.Empty(t, changes)
	assert.Equal(t, 1, repo.upserts)
}

func TestLowerNeverRaises(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewStore(), zerolog.Nop())
	_, err := store.Refresh(ctx, []domain.Listing{obs("a", domain.Epic, 100)})
	require.NoError(t, err)

	lowered, err := store.Lower(ctx, domain.Epic, decimal.NewFromInt(120))
	require.NoError(t, err)
	assert.False(t, lowered)
	assertFloor(t, store, domain.Epic, 100)

	lowered, err = store.Lower(ctx, domain.Epic, decimal.NewFromInt(45))
	require.NoError(t, err)
	assert.True(t, lowered)
	assertFloor(t, store, domain.Epic, 45)

	lowered, err = store.Lower(ctx, domain.Legendary, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, lowered)
}

func TestSnapshotIsIsolatedFromLaterRefresh(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewStore(), zerolog.Nop())
	_, err := store.Refresh(ctx, []domain.Listing{obs("a", domain.Epic, 100)})
	require.NoError(t, err)

	snap := store.Snapshot()
	_, err = store.Refresh(ctx, []domain.Listing{obs("b", domain.Epic, 60)})
	require.NoError(t, err)

	assertFloor(t, snap, domain.Epic, 100)
	assertFloor(t, store, domain.Epic, 60)
}

func TestFailedFlushIsRetried(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{Store: memory.NewStore(), fail: true}
	store := NewStore(repo, zerolog.Nop())

	_, err := store.Refresh(ctx, []domain.Listing{obs("a", domain.Epic, 100)})
	require.Error(t, err)
	// the in-memory floor is still usable while the database is down
	assertFloor(t, store, domain.Epic, 100)

	repo.fail = false
	require.NoError(t, store.Flush(ctx))

	persisted, err := repo.LoadFloors(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.True(t, persisted[0].Price.Equal(decimal.NewFromInt(100)))
}

func TestRestartReusesPersistedFloors(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore()

	first := NewStore(repo, zerolog.Nop())
	_, err := first.Refresh(ctx, []domain.Listing{obs("a", domain.Epic, 100)})
	require.NoError(t, err)

	second := NewStore(repo, zerolog.Nop())
	require.NoError(t, second.Load(ctx))
	assertFloor(t, second, domain.Epic, 100)
	assert.Equal(t, first.Records()[0].Price, second.Records()[0].Price)
}

func TestReadersDoNotWaitOnRepositoryWrites(t *testing.T) {
	ctx := context.Background()
	repo := &blockingRepo{Store: memory.NewStore(), entered: make(chan struct{}), release: make(chan struct{})}
	store := NewStore(repo, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := store.Refresh(ctx, []domain.Listing{obs("a", domain.Epic, 100)})
		done <- err
	}()
	<-repo.entered

	read := make(chan struct{})
	go func() {
		assertFloor(t, store, domain.Epic, 100)
		_ = store.Snapshot()
		close(read)
	}()
	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("floor read blocked while the repository write was in flight")
	}

	close(repo.release)
	require.NoError(t, <-done)
	persisted, err := repo.LoadFloors(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
}

func TestLowerDuringFlushIsPersistedLast(t *testing.T) {
	ctx := context.Background()
	repo := &blockingRepo{Store: memory.NewStore(), entered: make(chan struct{}), release: make(chan struct{})}
	store := NewStore(repo, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := store.Refresh(ctx, []domain.Listing{obs("a", domain.Epic, 100)})
		done <- err
	}()
	<-repo.entered

	lowered := make(chan error, 1)
	go func() {
		_, err := store.Lower(ctx, domain.Epic, decimal.NewFromInt(60))
		lowered <- err
	}()
	// the lowered floor is visible before either write completes
	require.Eventually(t, func() bool {
		got, _ := store.Get(domain.Epic)
		return got.Equal(decimal.NewFromInt(60))
	}, time.Second, 5*time.Millisecond)

	close(repo.release)
	require.NoError(t, <-done)
	require.NoError(t, <-lowered)

	persisted, err := repo.LoadFloors(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.True(t, persisted[0].Price.Equal(decimal.NewFromInt(60)))
}

// blockingRepo holds the first UpsertFloor until release is closed.
type blockingRepo struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRepo) UpsertFloor(ctx context.Context, rec storage.FloorRecord) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.Store.UpsertFloor(ctx, rec)
}

type countingRepo struct {
	*memory.Store
	upserts int
	fail    bool
}

func (c *countingRepo) UpsertFloor(ctx context.Context, rec storage.FloorRecord) error {
	if c.fail {
		return errors.New("database unavailable")
	}
	c.upserts++
	return c.Store.UpsertFloor(ctx, rec)
}
