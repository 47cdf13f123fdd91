package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"floorwatch/internal/domain"
	"floorwatch/internal/fetcher"
	"floorwatch/internal/floor"
)

// Seed computes floors from a full listing fetch plus the cheapest listing of every rarity.
// Existing floors are only replaced with Force; DryRun prints the result without writing.
func (a *App) Seed(ctx context.Context, opts SeedOptions) error {
	listings, err := a.newListingFetcher()
	if err != nil {
		return err
	}

	observed, err := a.collectObservations(ctx, listings)
	if err != nil {
		return err
	}
	if len(observed) == 0 {
		return errors.New("no listings observed; nothing to seed")
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("seed dry-run: floors are not persisted")
		return writeFloors(os.Stdout, domain.MinPriceByRarity(observed))
	}

	store, closeStore, err := a.requireStore(ctx, "seed floors")
	if err != nil {
		return err
	}
	defer closeStore()

	floors := floor.NewStore(store, a.Logger)
	if err := floors.Load(ctx); err != nil {
		return err
	}

	var changes []floor.Change
	switch {
	case floors.Len() == 0:
		_, changes, err = floors.Initialize(ctx, observed)
	case opts.Force:
		changes, err = floors.Refresh(ctx, observed)
	default:
		return fmt.Errorf("%d floors already stored; use --force to recompute them", floors.Len())
	}
	if err != nil {
		return err
	}

	a.Logger.Info().Int("listings", len(observed)).Int("changed", len(changes)).Msg("floors seeded")
	return writeFloors(os.Stdout, floors.Snapshot())
}

// collectObservations merges one search pass with a per-rarity cheapest lookup.
// Individual failures are logged; it errors only when nothing could be fetched.
func (a *App) collectObservations(ctx context.Context, listings fetcher.ListingFetcher) ([]domain.Listing, error) {
	var (
		mu       sync.Mutex
		observed []domain.Listing
		failures int
	)
	record := func(batch []domain.Listing, err error, what string) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures++
			if !errors.Is(err, fetcher.ErrNoListings) {
				a.Logger.Warn().Err(err).Str("source", what).Msg("seed fetch failed")
			}
			return
		}
		observed = append(observed, batch...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		batch, err := listings.SearchListings(gctx, a.Config.Marketplace.SearchPages)
		record(batch, err, "search")
		return nil
	})
	for _, r := range domain.Rarities() {
		g.Go(func() error {
			batch, err := listings.CheapestByRarity(gctx, r, a.Config.Marketplace.RefreshSampleSize)
			record(batch, err, r.String())
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if failures == len(domain.Rarities())+1 {
		return nil, errors.New("every seed fetch failed")
	}
	return observed, nil
}

func writeFloors(out io.Writer, floors map[domain.Rarity]decimal.Decimal) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rarity\tFloor")
	for _, r := range domain.Rarities() {
		price := "-"
		if p, ok := floors[r]; ok {
			price = p.String()
		}
		fmt.Fprintf(writer, "%s\t%s\n", r, price)
	}
	return writer.Flush()
}
