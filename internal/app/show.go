package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"floorwatch/internal/domain"
	"floorwatch/internal/storage"
)

// Show prints the current floors, thresholds and the most recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show state")
	if err != nil {
		return err
	}
	defer closeStore()

	floors, err := store.LoadFloors(ctx)
	if err != nil {
		return err
	}
	thresholds := a.newThresholds(store)
	if err := thresholds.Load(ctx); err != nil {
		return err
	}
	alerted, err := store.ListRecentAlerted(ctx, opts.Limit)
	if err != nil {
		return err
	}

	return writeState(os.Stdout, floors, thresholds.All(), alerted)
}

func writeState(out io.Writer, floors []storage.FloorRecord, thresholds []storage.ThresholdRecord, alerted []storage.AlertedListing) error {
	byRarity := make(map[domain.Rarity]storage.FloorRecord, len(floors))
	for _, rec := range floors {
		byRarity[rec.Rarity] = rec
	}
	discounts := make(map[domain.Rarity]string, len(thresholds))
	for _, rec := range thresholds {
		discounts[rec.Rarity] = formatDecimal(rec.DiscountPct, 2)
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rarity\tFloor\tDiscount%\tUpdated (UTC)")
	for _, r := range domain.Rarities() {
		price, updated := "-", "-"
		if rec, ok := byRarity[r]; ok {
			price = rec.Price.String()
			updated = rec.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", r, price, discounts[r], updated)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	if len(alerted) == 0 {
		fmt.Fprintln(out, "no alerts recorded")
		return nil
	}

	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Alerted (UTC)\tRarity\tPrice\tListing")
	for _, rec := range alerted {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			rec.AlertedAt.UTC().Format(time.RFC3339),
			rec.Rarity,
			rec.Price.String(),
			sanitizeInline(rec.ListingID),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
