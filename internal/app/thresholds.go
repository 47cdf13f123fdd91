package app

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"floorwatch/internal/alerting"
	"floorwatch/internal/domain"
)

// ListThresholds prints the effective discount threshold of every rarity.
func (a *App) ListThresholds(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx, "list thresholds")
	if err != nil {
		return err
	}
	defer closeStore()

	thresholds := a.newThresholds(store)
	if err := thresholds.Load(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, alerting.RenderThresholds(thresholds.All()))
	return nil
}

// SetThreshold persists a new discount threshold for one rarity.
func (a *App) SetThreshold(ctx context.Context, rarity domain.Rarity, pct decimal.Decimal) error {
	store, closeStore, err := a.requireStore(ctx, "set thresholds")
	if err != nil {
		return err
	}
	defer closeStore()

	thresholds := a.newThresholds(store)
	if err := thresholds.Load(ctx); err != nil {
		return err
	}
	if err := thresholds.Set(ctx, rarity, pct); err != nil {
		return err
	}
	a.Logger.Info().Str("rarity", rarity.String()).Str("discount_pct", pct.String()).Msg("threshold updated")
	return nil
}
