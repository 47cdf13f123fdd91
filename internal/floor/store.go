// Package floor owns the authoritative per-rarity floor prices and their durable backing.
package floor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"floorwatch/internal/domain"
	"floorwatch/internal/storage"
)

// Change describes one floor update.
type Change struct {
	Rarity   domain.Rarity
	Previous decimal.NullDecimal
	Current  decimal.Decimal
}

// Snapshot is an immutable copy of the floors at one point in time.
type Snapshot map[domain.Rarity]decimal.Decimal

// Get returns the floor of r in the snapshot.
func (s Snapshot) Get(r domain.Rarity) (decimal.Decimal, bool) {
	v, ok := s[r]
	return v, ok
}

// Store keeps the floors in memory behind one lock and flushes every change to the repository.
// Changes that fail to flush stay dirty and are retried on the next mutation.
// Repository writes happen outside mu so readers never wait on storage.
type Store struct {
	mu      sync.RWMutex
	flushMu sync.Mutex
	floors map[domain.Rarity]storage.FloorRecord
	dirty  map[domain.Rarity]struct{}
	repo   storage.FloorRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore builds an empty floor store over repo.
func NewStore(repo storage.FloorRepository, logger zerolog.Logger) *Store {
	return &Store{
		floors: make(map[domain.Rarity]storage.FloorRecord),
		dirty:  make(map[domain.Rarity]struct{}),
		repo:   repo,
		logger: logger.With().Str("component", "floor_store").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Load restores the persisted floors. Existing in-memory floors are replaced.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.repo.LoadFloors(ctx)
	if err != nil {
		return fmt.Errorf("load floors: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.floors = make(map[domain.Rarity]storage.FloorRecord, len(records))
	for _, rec := range records {
		s.floors[rec.Rarity] = rec
	}
	s.dirty = make(map[domain.Rarity]struct{})
	return nil
}

// Len returns how many rarities have a floor.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.floors)
}

// Get returns the floor of r; the bool is false when no floor exists yet.
func (s *Store) Get(r domain.Rarity) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.floors[r]
	return rec.Price, ok
}

// Snapshot copies the current floors.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(Snapshot, len(s.floors))
	for r, rec := range s.floors {
		snap[r] = rec.Price
	}
	return snap
}

// Records returns the floor records in rarity order.
func (s *Store) Records() []storage.FloorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.FloorRecord, 0, len(s.floors))
	for _, r := range domain.Rarities() {
		if rec, ok := s.floors[r]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Initialize seeds the floors from a first full fetch when none exist yet.
// It reports whether seeding happened; persisted floors are never re-seeded.
func (s *Store) Initialize(ctx context.Context, observations []domain.Listing) (bool, []Change, error) {
	if s.Len() > 0 {
		return false, nil, nil
	}
	changes, err := s.Refresh(ctx, observations)
	return true, changes, err
}

// Refresh recomputes every rarity's floor as the minimum price among observations of that rarity.
// Rarities missing from the batch keep their floor. This is the only way a floor can rise.
func (s *Store) Refresh(ctx context.Context, observations []domain.Listing) ([]Change, error) {
	mins := domain.MinPriceByRarity(observations)

	s.mu.Lock()
	var changes []Change
	for _, r := range domain.Rarities() {
		price, ok := mins[r]
		if !ok {
			continue
		}
		if change, applied := s.applyLocked(r, price); applied {
			changes = append(changes, change)
		}
	}
	s.mu.Unlock()

	return changes, s.Flush(ctx)
}

// Lower decreases the floor of r to price when price is below it. It never raises a floor
// and does nothing for rarities without a floor.
func (s *Store) Lower(ctx context.Context, r domain.Rarity, price decimal.Decimal) (bool, error) {
	s.mu.Lock()
	current, ok := s.floors[r]
	if !ok || !price.LessThan(current.Price) {
		s.mu.Unlock()
		return false, nil
	}
	s.applyLocked(r, price)
	s.mu.Unlock()

	return true, s.Flush(ctx)
}

// Flush persists the dirty floors. Flushes are serialized so the last write of a rarity
// always carries its newest record.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var errs []error
	for _, rec := range s.dirtyRecords() {
		if err := s.repo.UpsertFloor(ctx, rec); err != nil {
			s.logger.Warn().Err(err).Str("rarity", rec.Rarity.String()).Msg("floor not persisted, will retry")
			errs = append(errs, fmt.Errorf("persist %s floor: %w", rec.Rarity, err))
			continue
		}
		s.markClean(rec)
	}
	return errors.Join(errs...)
}

func (s *Store) applyLocked(r domain.Rarity, price decimal.Decimal) (Change, bool) {
	prev, existed := s.floors[r]
	if existed && prev.Price.Equal(price) {
		return Change{}, false
	}

	change := Change{Rarity: r, Current: price}
	if existed {
		change.Previous = decimal.NewNullDecimal(prev.Price)
	}
	s.floors[r] = storage.FloorRecord{Rarity: r, Price: price, UpdatedAt: s.now()}
	s.dirty[r] = struct{}{}
	return change, true
}

func (s *Store) dirtyRecords() []storage.FloorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.FloorRecord, 0, len(s.dirty))
	for _, r := range domain.Rarities() {
		if _, ok := s.dirty[r]; ok {
			out = append(out, s.floors[r])
		}
	}
	return out
}

// markClean clears the dirty flag unless rec was superseded while it was being written.
func (s *Store) markClean(rec storage.FloorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.floors[rec.Rarity]
	if current.Price.Equal(rec.Price) && current.UpdatedAt.Equal(rec.UpdatedAt) {
		delete(s.dirty, rec.Rarity)
	}
}
