package cli

import (
	"time"

	"github.com/spf13/cobra"

	"floorwatch/internal/app"
)

var (
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget alerted listings older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Prune(cmd.Context(), app.PruneOptions{
			OlderThan: pruneOlderThan,
			DryRun:    pruneDryRun,
		})
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Age beyond which alerted listings are removed")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Only count the listings that would be removed")
}
