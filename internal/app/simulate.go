package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"floorwatch/internal/dedup"
	"floorwatch/internal/domain"
	"floorwatch/internal/fetcher"
	"floorwatch/internal/floor"
	"floorwatch/internal/service"
	"floorwatch/internal/storage/memory"
)

// SimulateAlert pushes one synthetic listing through a poll cycle against an in-memory floor.
// Nothing is persisted; the configured notifier receives the alert when the listing qualifies.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}
	if !opts.Rarity.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownRarity, opts.Rarity)
	}
	if !opts.Price.IsPositive() || !opts.Floor.IsPositive() {
		return errors.New("--price and --floor must be greater than zero")
	}

	repo := memory.NewStore()
	floors := floor.NewStore(repo, a.Logger)
	seed := domain.Listing{ID: "simulated-floor", Rarity: opts.Rarity, Price: opts.Floor}
	if _, _, err := floors.Initialize(ctx, []domain.Listing{seed}); err != nil {
		return err
	}

	listing := domain.Listing{
		ID:       fmt.Sprintf("simulated-%d", time.Now().UnixNano()),
		TokenID:  "0",
		Name:     "Simulated " + opts.Rarity.String(),
		Rarity:   opts.Rarity,
		Price:    opts.Price,
		Currency: "MATIC",
	}

	svc := service.New(a.Config, service.Dependencies{
		Listings:   &staticListingFetcher{listings: []domain.Listing{listing}},
		Rates:      a.newRateFetcher(),
		Floors:     floors,
		Alerted:    dedup.NewSet(repo, a.Logger),
		Thresholds: a.newThresholds(repo),
		Notifier:   a.newNotifier(),
	}, a.Logger)

	if err := svc.Poll(ctx, time.Now().UTC()); err != nil {
		return err
	}
	a.Logger.Info().
		Str("rarity", opts.Rarity.String()).
		Str("price", opts.Price.String()).
		Str("floor", opts.Floor.String()).
		Msg("simulation finished")
	return nil
}

type staticListingFetcher struct {
	listings []domain.Listing
}

func (s *staticListingFetcher) SearchListings(context.Context, int) ([]domain.Listing, error) {
	return s.listings, nil
}

func (s *staticListingFetcher) CheapestByRarity(_ context.Context, rarity domain.Rarity, size int) ([]domain.Listing, error) {
	var out []domain.Listing
	for _, l := range s.listings {
		if l.Rarity == rarity && len(out) < size {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, fetcher.ErrNoListings
	}
	return out, nil
}

var _ fetcher.ListingFetcher = (*staticListingFetcher)(nil)
