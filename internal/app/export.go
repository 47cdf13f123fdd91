package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"floorwatch/internal/domain"
	"floorwatch/internal/storage"
)

// Export renders the floor history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireStore(ctx, "export")
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.RefreshInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	points, err := store.ListFloorHistory(ctx, from, to)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Msg("no floor history found for export window")
		return nil
	}

	series := downsampleSeries(filterRarities(groupByRarity(points), opts.Rarities), opts.MaxPoints)
	if len(series) == 0 {
		a.Logger.Info().Msg("no floor history for the selected rarities")
		return nil
	}
	exported := 0
	for _, s := range series {
		exported += len(s)
	}
	a.Logger.Info().Int("total", len(points)).Int("exported", exported).Msg("exporting floor history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, series); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, series); err != nil {
			return err
		}
	}

	return nil
}

func groupByRarity(points []storage.FloorPoint) map[domain.Rarity][]storage.FloorPoint {
	grouped := make(map[domain.Rarity][]storage.FloorPoint)
	for _, p := range points {
		grouped[p.Rarity] = append(grouped[p.Rarity], p)
	}
	return grouped
}

func filterRarities(series map[domain.Rarity][]storage.FloorPoint, keep []domain.Rarity) map[domain.Rarity][]storage.FloorPoint {
	if len(keep) == 0 {
		return series
	}
	out := make(map[domain.Rarity][]storage.FloorPoint, len(keep))
	for _, r := range keep {
		if points, ok := series[r]; ok {
			out[r] = points
		}
	}
	return out
}

// downsampleSeries caps the total number of points, sharing the budget evenly between rarities.
func downsampleSeries(series map[domain.Rarity][]storage.FloorPoint, max int) map[domain.Rarity][]storage.FloorPoint {
	if max <= 0 || len(series) == 0 {
		return series
	}
	perSeries := max / len(series)
	if perSeries < 2 {
		perSeries = 2
	}
	out := make(map[domain.Rarity][]storage.FloorPoint, len(series))
	for r, points := range series {
		out[r] = downsamplePoints(points, perSeries)
	}
	return out
}

func downsamplePoints(points []storage.FloorPoint, max int) []storage.FloorPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]storage.FloorPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, series map[domain.Rarity][]storage.FloorPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"recorded_at", "rarity", "floor"}); err != nil {
		return err
	}

	for _, r := range domain.Rarities() {
		for _, p := range series[r] {
			record := []string{
				p.RecordedAt.UTC().Format(time.RFC3339),
				p.Rarity.String(),
				p.Price.String(),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path string, series map[domain.Rarity][]storage.FloorPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var lines []chart.Series
	for _, r := range domain.Rarities() {
		points := series[r]
		if len(points) == 0 {
			continue
		}
		// a single point cannot be drawn as a line
		if len(points) == 1 {
			points = append(points, storage.FloorPoint{Rarity: r, Price: points[0].Price, RecordedAt: points[0].RecordedAt.Add(time.Second)})
		}
		x := make([]time.Time, len(points))
		y := make([]float64, len(points))
		for i, p := range points {
			x[i] = p.RecordedAt
			y[i] = p.Price.InexactFloat64()
		}
		lines = append(lines, chart.TimeSeries{
			Name:    r.String(),
			XValues: x,
			YValues: y,
		})
	}
	if len(lines) == 0 {
		return errors.New("no floor history to plot")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Floor (native)",
			ValueFormatter: priceFormatter,
		},
		Series: lines,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
