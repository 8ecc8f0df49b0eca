package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mandiwatch/internal/app"
)

var (
	showCommodity string
	showMarket    string
	showLimit     int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent observations and alert transitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if showCommodity == "" || showMarket == "" {
			return fmt.Errorf("--commodity and --market must be provided")
		}

		opts := app.ShowOptions{
			Commodity: showCommodity,
			Market:    showMarket,
			Limit:     showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showCommodity, "commodity", "", "Commodity to display")
	showCmd.Flags().StringVar(&showMarket, "market", "", "Market to display")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
}
