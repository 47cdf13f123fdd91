package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"floorwatch/internal/dedup"
)

// Prune forgets alerted listings older than opts.OlderThan.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than must be greater than zero")
	}

	store, closeStore, err := a.requireStore(ctx, "prune alerted listings")
	if err != nil {
		return err
	}
	defer closeStore()

	cutoff := time.Now().UTC().Add(-opts.OlderThan)

	if opts.DryRun {
		records, err := store.LoadAlerted(ctx)
		if err != nil {
			return err
		}
		stale := 0
		for _, rec := range records {
			if rec.AlertedAt.Before(cutoff) {
				stale++
			}
		}
		fmt.Fprintf(os.Stdout, "%d of %d alerted listings older than %s\n", stale, len(records), cutoff.Format(time.RFC3339))
		return nil
	}

	set := dedup.NewSet(store, a.Logger)
	removed, err := set.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	a.Logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("alerted listings pruned")
	fmt.Fprintf(os.Stdout, "removed %d alerted listings\n", removed)
	return nil
}
