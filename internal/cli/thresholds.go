package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"floorwatch/internal/domain"
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Inspect or change per-rarity discount thresholds",
}

var thresholdsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the effective threshold of every rarity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListThresholds(cmd.Context())
	},
}

var thresholdsSetCmd = &cobra.Command{
	Use:   "set <rarity> <percent>",
	Short: "Alert when a listing is at least <percent> below its rarity floor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rarity, err := domain.ParseRarity(args[0])
		if err != nil {
			return err
		}
		pct, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("invalid percent %q: %w", args[1], err)
		}
		return getApp().SetThreshold(cmd.Context(), rarity, pct)
	},
}

func init() {
	thresholdsCmd.AddCommand(thresholdsListCmd)
	thresholdsCmd.AddCommand(thresholdsSetCmd)
}
