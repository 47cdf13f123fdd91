package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"floorwatch/internal/app"
	"floorwatch/internal/domain"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportRarities  []string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the floor history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		for _, name := range exportRarities {
			r, err := domain.ParseRarity(name)
			if err != nil {
				return err
			}
			opts.Rarities = append(opts.Rarities, r)
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start of the history window (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End of the history window (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
	exportCmd.Flags().StringSliceVar(&exportRarities, "rarity", nil, "Only export these rarities (repeatable or comma separated)")
}
