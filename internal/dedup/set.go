// Package dedup tracks the listings that have already produced an alert.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"floorwatch/internal/domain"
	"floorwatch/internal/storage"
)

// Set is the durable alerted set. A listing id is alerted at most once.
// Repository writes happen outside mu so lookups never wait on storage.
type Set struct {
	mu      sync.RWMutex
	flushMu sync.Mutex
	ids     map[string]storage.AlertedListing
	pending map[string]storage.AlertedListing
	repo    storage.AlertedRepository
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSet builds an empty alerted set over repo.
func NewSet(repo storage.AlertedRepository, logger zerolog.Logger) *Set {
	return &Set{
		ids:     make(map[string]storage.AlertedListing),
		pending: make(map[string]storage.AlertedListing),
		repo:    repo,
		logger:  logger.With().Str("component", "alerted_set").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Load restores the persisted alerted ids.
func (s *Set) Load(ctx context.Context) error {
	records, err := s.repo.LoadAlerted(ctx)
	if err != nil {
		return fmt.Errorf("load alerted listings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]storage.AlertedListing, len(records))
	for _, rec := range records {
		s.ids[rec.ListingID] = rec
	}
	// ids marked before a failed flush stay pending
	for id, rec := range s.pending {
		s.ids[id] = rec
	}
	return nil
}

// Contains reports whether id was already alerted.
func (s *Set) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of alerted ids.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Mark records listing as alerted. The in-memory mark always succeeds; a failed
// durable write is returned and retried on the next Mark or Flush.
func (s *Set) Mark(ctx context.Context, listing domain.Listing) error {
	if listing.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	if _, ok := s.ids[listing.ID]; !ok {
		rec := storage.AlertedListing{
			ListingID: listing.ID,
			Rarity:    listing.Rarity,
			Price:     listing.Price,
			AlertedAt: s.now(),
		}
		s.ids[listing.ID] = rec
		s.pending[listing.ID] = rec
	}
	s.mu.Unlock()

	return s.Flush(ctx)
}

// Flush persists the marks still waiting for a durable write.
func (s *Set) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	batch := make([]storage.AlertedListing, 0, len(s.pending))
	for _, rec := range s.pending {
		batch = append(batch, rec)
	}
	s.mu.RUnlock()

	var errs []error
	for _, rec := range batch {
		if err := s.repo.MarkAlerted(ctx, rec); err != nil {
			s.logger.Warn().Err(err).Str("listing_id", rec.ListingID).Msg("alerted mark not persisted, will retry")
			errs = append(errs, fmt.Errorf("persist alerted %s: %w", rec.ListingID, err))
			continue
		}
		s.mu.Lock()
		delete(s.pending, rec.ListingID)
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Pending returns how many marks still wait for a durable write.
func (s *Set) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Prune evicts ids alerted before olderThan from memory and storage.
func (s *Set) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	removed, err := s.repo.DeleteAlertedBefore(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune alerted listings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.ids {
		if _, waiting := s.pending[id]; waiting {
			continue
		}
		if rec.AlertedAt.Before(olderThan) {
			delete(s.ids, id)
		}
	}
	return removed, nil
}
