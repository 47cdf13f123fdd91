package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"floorwatch/internal/app"
	"floorwatch/internal/domain"
)

var (
	simulateRarity string
	simulatePrice  string
	simulateFloor  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run a synthetic listing through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice == "" || simulateFloor == "" {
			return errors.New("--price and --floor must be provided")
		}

		rarity, err := domain.ParseRarity(simulateRarity)
		if err != nil {
			return err
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}
		floor, err := decimal.NewFromString(simulateFloor)
		if err != nil {
			return fmt.Errorf("invalid --floor value: %w", err)
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Rarity: rarity,
			Price:  price,
			Floor:  floor,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateRarity, "rarity", "Legendary", "Rarity of the synthetic listing")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Listing price in the native currency")
	simulateCmd.Flags().StringVar(&simulateFloor, "floor", "", "Floor price of the rarity in the native currency")
}
