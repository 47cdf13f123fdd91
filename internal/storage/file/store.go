// Package file keeps repository state in a JSON file so runs without a database survive restarts.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"floorwatch/internal/domain"
	"floorwatch/internal/storage"
	"floorwatch/internal/storage/memory"
)

const stateVersion = 1

type stateFile struct {
	Version    int           `json:"version"`
	SavedAt    time.Time     `json:"saved_at"`
	Floors     []floorEntry  `json:"floors"`
	Alerted    []alertEntry  `json:"alerted"`
	Thresholds []threshEntry `json:"thresholds"`
}

type floorEntry struct {
	Rarity    domain.Rarity   `json:"rarity"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type alertEntry struct {
	ListingID string          `json:"listing_id"`
	Rarity    domain.Rarity   `json:"rarity"`
	Price     decimal.Decimal `json:"price"`
	AlertedAt time.Time       `json:"alerted_at"`
}

type threshEntry struct {
	Rarity      domain.Rarity   `json:"rarity"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Store is the in-memory repository mirrored to a JSON file after every mutation.
// The file is replaced atomically, so a crash leaves either the old or the new state.
type Store struct {
	*memory.Store
	path   string
	saveMu sync.Mutex
	logger zerolog.Logger
}

// Open loads path when it exists and returns a store that writes back to it.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, storage.ErrInvalidInput
	}
	s := &Store{
		Store:  memory.NewStore(),
		path:   path,
		logger: logger.With().Str("component", "file_store").Str("path", path).Logger(),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info().Msg("no state file yet, starting empty")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	if state.Version > stateVersion {
		return nil, fmt.Errorf("state file %s has version %d, newest supported is %d", path, state.Version, stateVersion)
	}
	s.Store.Restore(fromFile(state))
	s.logger.Info().
		Int("floors", len(state.Floors)).
		Int("alerted", len(state.Alerted)).
		Int("thresholds", len(state.Thresholds)).
		Msg("state file loaded")
	return s, nil
}

// UpsertFloor stores the floor and rewrites the state file.
func (s *Store) UpsertFloor(ctx context.Context, rec storage.FloorRecord) error {
	if err := s.Store.UpsertFloor(ctx, rec); err != nil {
		return err
	}
	return s.save()
}

// MarkAlerted records the listing and rewrites the state file.
func (s *Store) MarkAlerted(ctx context.Context, rec storage.AlertedListing) error {
	if err := s.Store.MarkAlerted(ctx, rec); err != nil {
		return err
	}
	return s.save()
}

// DeleteAlertedBefore evicts old alerted ids and rewrites the state file when any were removed.
func (s *Store) DeleteAlertedBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	removed, err := s.Store.DeleteAlertedBefore(ctx, olderThan)
	if err != nil || removed == 0 {
		return removed, err
	}
	return removed, s.save()
}

// UpsertThreshold stores the override and rewrites the state file.
func (s *Store) UpsertThreshold(ctx context.Context, rec storage.ThresholdRecord) error {
	if err := s.Store.UpsertThreshold(ctx, rec); err != nil {
		return err
	}
	return s.save()
}

func (s *Store) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	raw, err := json.MarshalIndent(toFile(s.Store.Dump()), "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func toFile(state memory.State) stateFile {
	out := stateFile{
		Version:    stateVersion,
		SavedAt:    time.Now().UTC(),
		Floors:     make([]floorEntry, 0, len(state.Floors)),
		Alerted:    make([]alertEntry, 0, len(state.Alerted)),
		Thresholds: make([]threshEntry, 0, len(state.Thresholds)),
	}
	for _, rec := range state.Floors {
		out.Floors = append(out.Floors, floorEntry(rec))
	}
	for _, rec := range state.Alerted {
		out.Alerted = append(out.Alerted, alertEntry(rec))
	}
	for _, rec := range state.Thresholds {
		out.Thresholds = append(out.Thresholds, threshEntry(rec))
	}
	return out
}

func fromFile(state stateFile) memory.State {
	var out memory.State
	for _, e := range state.Floors {
		if !e.Rarity.Valid() {
			continue
		}
		out.Floors = append(out.Floors, storage.FloorRecord(e))
	}
	for _, e := range state.Alerted {
		if e.ListingID == "" {
			continue
		}
		out.Alerted = append(out.Alerted, storage.AlertedListing(e))
	}
	for _, e := range state.Thresholds {
		if !e.Rarity.Valid() {
			continue
		}
		out.Thresholds = append(out.Thresholds, storage.ThresholdRecord(e))
	}
	return out
}

var _ storage.Repository = (*Store)(nil)
