package dedup

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

func listing(id string) domain.Listing {
	return domain.Listing{ID: id, Rarity: domain.Epic, Price: decimal.NewFromInt(40)}
}

func TestMarkSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore()

	first := NewSet(repo, zerolog.Nop())
	require.NoError(t, first.Load(ctx))
	require.NoError(t, first.Mark(ctx, listing("POLYGON:0xabc:1")))
	assert.True(t, first.Contains("POLYGON:0xabc:1"))

	second := NewSet(repo, zerolog.Nop())
	require.NoError(t, second.Load(ctx))
	assert.True(t, second.Contains("POLYGON:0xabc:1"))
	assert.False(t, second.Contains("POLYGON:0xabc:2"))
	assert.Equal(t, 1, second.Len())
}

func TestMarkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	set := NewSet(memory.NewStore(), zerolog.Nop())

	require.NoError(t, set.Mark(ctx, listing("a")))
	require.NoError(t, set.Mark(ctx, listing("a")))
	assert.Equal(t, 1, set.Len())
}

func TestMarkRejectsEmptyID(t *testing.T) {
	set := NewSet(memory.NewStore(), zerolog.Nop())
	err := set.Mark(context.Background(), listing(""))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestFailedPersistKeepsMemoryMarkAndRetries(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{Store: memory.NewStore(), fail: true}
	set := NewSet(repo, zerolog.Nop())

	err := set.Mark(ctx, listing("a"))
	require.Error(t, err)
	assert.True(t, set.Contains("a"), "listing must not be alerted twice in this process")
	assert.Equal(t, 1, set.Pending())

	repo.fail = false
	require.NoError(t, set.Flush(ctx))
	assert.Zero(t, set.Pending())

	persisted, err := repo.LoadAlerted(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "a", persisted[0].ListingID)
}

func TestPruneEvictsOldEntries(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore()
	set := NewSet(repo, zerolog.Nop())

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	set.now = func() time.Time { return base }
	require.NoError(t, set.Mark(ctx, listing("old")))
	set.now = func() time.Time { return base.Add(48 * time.Hour) }
	require.NoError(t, set.Mark(ctx, listing("new")))

	removed, err := set.Prune(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	assert.False(t, set.Contains("old"))
	assert.True(t, set.Contains("new"))
}

func TestContainsDoesNotWaitOnRepositoryWrites(t *testing.T) {
	ctx := context.Background()
	repo := &blockingRepo{Store: memory.NewStore(), entered: make(chan struct{}), release: make(chan struct{})}
	set := NewSet(repo, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- set.Mark(ctx, listing("a")) }()
	<-repo.entered

	read := make(chan bool, 1)
	go func() { read <- set.Contains("a") }()
	select {
	case got := <-read:
		assert.True(t, got)
	case <-time.After(time.Second):
		t.Fatal("Contains blocked while the repository write was in flight")
	}
	assert.Equal(t, 1, set.Pending())

	close(repo.release)
	require.NoError(t, <-done)
	assert.Zero(t, set.Pending())
}

// blockingRepo holds the first MarkAlerted until release is closed.
type blockingRepo struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRepo) MarkAlerted(ctx context.Context, rec storage.AlertedListing) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.Store.MarkAlerted(ctx, rec)
}

type flakyRepo struct {
	*memory.Store
	fail bool
}

func (f *flakyRepo) MarkAlerted(ctx context.Context, rec storage.AlertedListing) error {
	if f.fail {
		return errors.New("connection refused")
	}
	return f.Store.MarkAlerted(ctx, rec)
}
