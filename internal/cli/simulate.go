package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"mandiwatch/internal/app"
	"mandiwatch/internal/model"
)

var (
	simulateOwner     string
	simulateCommodity string
	simulateMarket    string
	simulateDirection string
	simulateTarget    float64
	simulatePrice     float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one observation against a throwaway alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTarget <= 0 || simulatePrice <= 0 {
			return errors.New("--target and --price must be greater than 0")
		}
		if simulateCommodity == "" || simulateMarket == "" {
			return errors.New("--commodity and --market must be provided")
		}

		direction, err := model.ParseDirection(simulateDirection)
		if err != nil {
			return err
		}

		opts := app.SimulateOptions{
			OwnerID:   simulateOwner,
			Commodity: simulateCommodity,
			Market:    simulateMarket,
			Direction: direction,
			Target:    decimal.NewFromFloat(simulateTarget),
			Price:     decimal.NewFromFloat(simulatePrice),
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOwner, "owner", "simulator", "Owner id for the throwaway alert")
	simulateCmd.Flags().StringVar(&simulateCommodity, "commodity", "", "Commodity to watch")
	simulateCmd.Flags().StringVar(&simulateMarket, "market", "", "Market to watch")
	simulateCmd.Flags().StringVar(&simulateDirection, "direction", "above", "Alert direction (above|below)")
	simulateCmd.Flags().Float64Var(&simulateTarget, "target", 0, "Target price")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Observed price to evaluate")
}
