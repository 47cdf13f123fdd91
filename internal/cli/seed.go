package cli

import (
	"github.com/spf13/cobra"

	"floorwatch/internal/app"
)

var (
	seedForce  bool
	seedDryRun bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Compute the per-rarity floors from current listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Seed(cmd.Context(), app.SeedOptions{
			Force:  seedForce,
			DryRun: seedDryRun,
		})
	},
}

func init() {
	seedCmd.Flags().BoolVar(&seedForce, "force", false, "Recompute floors that are already stored")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Print the computed floors without writing to storage")
}
