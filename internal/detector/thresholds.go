package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"floorwatch/internal/domain"
	"floorwatch/internal/storage"
)

// ErrInvalidDiscount is returned for discounts outside (0, 100].
var ErrInvalidDiscount = errors.New("discount must be greater than 0 and at most 100")

// Thresholds holds per-rarity discount overrides on top of a default.
// It implements Policy and is safe for concurrent use.
type Thresholds struct {
	mu        sync.RWMutex
	def       decimal.Decimal
	overrides map[domain.Rarity]decimal.Decimal
	repo      storage.ThresholdRepository
}

// NewThresholds builds a policy with the given default discount. repo may be nil.
func NewThresholds(defaultPct decimal.Decimal, repo storage.ThresholdRepository) *Thresholds {
	return &Thresholds{
		def:       defaultPct,
		overrides: make(map[domain.Rarity]decimal.Decimal),
		repo:      repo,
	}
}

// Load replaces the overrides with the persisted ones.
func (t *Thresholds) Load(ctx context.Context) error {
	if t.repo == nil {
		return nil
	}
	records, err := t.repo.LoadThresholds(ctx)
	if err != nil {
		return fmt.Errorf("load thresholds: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides = make(map[domain.Rarity]decimal.Decimal, len(records))
	for _, rec := range records {
		if validDiscount(rec.DiscountPct) {
			t.overrides[rec.Rarity] = rec.DiscountPct
		}
	}
	return nil
}

// DiscountPct returns the discount for r.
func (t *Thresholds) DiscountPct(r domain.Rarity) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if pct, ok := t.overrides[r]; ok {
		return pct
	}
	return t.def
}

// Set persists and applies a discount for r.
func (t *Thresholds) Set(ctx context.Context, r domain.Rarity, pct decimal.Decimal) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownRarity, r)
	}
	if !validDiscount(pct) {
		return ErrInvalidDiscount
	}
	if t.repo != nil {
		rec := storage.ThresholdRecord{Rarity: r, DiscountPct: pct, UpdatedAt: time.Now().UTC()}
		if err := t.repo.UpsertThreshold(ctx, rec); err != nil {
			return fmt.Errorf("persist threshold: %w", err)
		}
	}

	t.mu.Lock()
	t.overrides[r] = pct
	t.mu.Unlock()
	return nil
}

// All returns the effective discount of every rarity in fixed order.
func (t *Thresholds) All() []storage.ThresholdRecord {
	out := make([]storage.ThresholdRecord, 0, len(domain.Rarities()))
	for _, r := range domain.Rarities() {
		out = append(out, storage.ThresholdRecord{Rarity: r, DiscountPct: t.DiscountPct(r)})
	}
	return out
}

func validDiscount(pct decimal.Decimal) bool {
	return pct.IsPositive() && pct.LessThanOrEqual(hundred)
}

var _ Policy = (*Thresholds)(nil)
