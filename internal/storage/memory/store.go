// Package memory provides a non-durable implementation of the storage repositories.
// It backs unit tests, the simulate command and the file store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"floorwatch/internal/domain"
	"floorwatch/internal/storage"
)

// Store keeps all repository state in process memory.
type Store struct {
	mu         sync.RWMutex
	floors     map[domain.Rarity]storage.FloorRecord
	history    []storage.FloorPoint
	alerted    map[string]storage.AlertedListing
	thresholds map[domain.Rarity]storage.ThresholdRecord
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		floors:     make(map[domain.Rarity]storage.FloorRecord),
		alerted:    make(map[string]storage.AlertedListing),
		thresholds: make(map[domain.Rarity]storage.ThresholdRecord),
	}
}

// LoadFloors returns the stored floors in rarity order.
func (s *Store) LoadFloors(_ context.Context) ([]storage.FloorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.FloorRecord, 0, len(s.floors))
	for _, r := range domain.Rarities() {
		if rec, ok := s.floors[r]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// UpsertFloor stores the floor and appends it to the history.
func (s *Store) UpsertFloor(_ context.Context, rec storage.FloorRecord) error {
	if !rec.Rarity.Valid() {
		return storage.ErrInvalidInput
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.floors[rec.Rarity] = rec
	s.history = append(s.history, storage.FloorPoint{
		Rarity:     rec.Rarity,
		Price:      rec.Price,
		RecordedAt: rec.UpdatedAt,
	})
	return nil
}

// ListFloorHistory lists history points within [from, to).
func (s *Store) ListFloorHistory(_ context.Context, from, to time.Time) ([]storage.FloorPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := make([]storage.FloorPoint, 0)
	for _, p := range s.history {
		if p.RecordedAt.Before(from) || !p.RecordedAt.Before(to) {
			continue
		}
		points = append(points, p)
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].RecordedAt.Before(points[j].RecordedAt)
	})
	return points, nil
}

// LoadAlerted returns every alerted listing.
func (s *Store) LoadAlerted(_ context.Context) ([]storage.AlertedListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.AlertedListing, 0, len(s.alerted))
	for _, rec := range s.alerted {
		out = append(out, rec)
	}
	return out, nil
}

// MarkAlerted records an alerted listing, keeping the first record for an id.
func (s *Store) MarkAlerted(_ context.Context, rec storage.AlertedListing) error {
	if rec.ListingID == "" {
		return storage.ErrInvalidInput
	}
	if rec.AlertedAt.IsZero() {
		rec.AlertedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerted[rec.ListingID]; !exists {
		s.alerted[rec.ListingID] = rec
	}
	return nil
}

// ListRecentAlerted lists the newest alerts first.
func (s *Store) ListRecentAlerted(ctx context.Context, limit int) ([]storage.AlertedListing, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}
	all, _ := s.LoadAlerted(ctx)
	sort.Slice(all, func(i, j int) bool {
		return all[i].AlertedAt.After(all[j].AlertedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// DeleteAlertedBefore evicts alerted ids recorded before olderThan.
func (s *Store) DeleteAlertedBefore(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, rec := range s.alerted {
		if rec.AlertedAt.Before(olderThan) {
			delete(s.alerted, id)
			removed++
		}
	}
	return removed, nil
}

// LoadThresholds returns the stored threshold overrides in rarity order.
func (s *Store) LoadThresholds(_ context.Context) ([]storage.ThresholdRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.ThresholdRecord, 0, len(s.thresholds))
	for _, r := range domain.Rarities() {
		if rec, ok := s.thresholds[r]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// UpsertThreshold stores a threshold override.
func (s *Store) UpsertThreshold(_ context.Context, rec storage.ThresholdRecord) error {
	if !rec.Rarity.Valid() {
		return storage.ErrInvalidInput
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.thresholds[rec.Rarity] = rec
	return nil
}

// State is a copy of the floors, alerted listings and thresholds. Floor history is not included.
type State struct {
	Floors     []storage.FloorRecord
	Alerted    []storage.AlertedListing
	Thresholds []storage.ThresholdRecord
}

// Dump copies the current state in a stable order.
func (s *Store) Dump() State {
	floors, _ := s.LoadFloors(context.Background())
	thresholds, _ := s.LoadThresholds(context.Background())
	alerted, _ := s.LoadAlerted(context.Background())
	sort.Slice(alerted, func(i, j int) bool {
		if alerted[i].AlertedAt.Equal(alerted[j].AlertedAt) {
			return alerted[i].ListingID < alerted[j].ListingID
		}
		return alerted[i].AlertedAt.Before(alerted[j].AlertedAt)
	})
	return State{Floors: floors, Alerted: alerted, Thresholds: thresholds}
}

// Restore replaces the floors, alerted listings and thresholds with state.
func (s *Store) Restore(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.floors = make(map[domain.Rarity]storage.FloorRecord, len(state.Floors))
	for _, rec := range state.Floors {
		s.floors[rec.Rarity] = rec
	}
	s.alerted = make(map[string]storage.AlertedListing, len(state.Alerted))
	for _, rec := range state.Alerted {
		s.alerted[rec.ListingID] = rec
	}
	s.thresholds = make(map[domain.Rarity]storage.ThresholdRecord, len(state.Thresholds))
	for _, rec := range state.Thresholds {
		s.thresholds[rec.Rarity] = rec
	}
}

var _ storage.Repository = (*Store)(nil)
