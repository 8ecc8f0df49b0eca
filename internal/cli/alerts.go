package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"mandiwatch/internal/model"
	"mandiwatch/internal/registry"
)

var (
	alertOwner     string
	alertCommodity string
	alertMarket    string
	alertDirection string
	alertTarget    float64
	alertExpires   string
	alertID        string
	alertListLimit int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage target-price alerts",
}

var alertsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a target-price alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertOwner == "" {
			return errors.New("--owner must be provided")
		}
		if alertTarget <= 0 {
			return errors.New("--target must be greater than 0")
		}

		direction, err := model.ParseDirection(alertDirection)
		if err != nil {
			return err
		}

		params := registry.CreateParams{
			OwnerID:   alertOwner,
			Commodity: alertCommodity,
			Market:    alertMarket,
			Direction: direction,
			Target:    decimal.NewFromFloat(alertTarget),
		}
		if alertExpires != "" {
			expires, err := time.Parse(time.RFC3339, alertExpires)
			if err != nil {
				return fmt.Errorf("invalid --expires value: %w", err)
			}
			params.ExpiresAt = &expires
		}

		return getApp().AlertsCreate(cmd.Context(), params)
	},
}

var alertsCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel an alert you own",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertOwner == "" || alertID == "" {
			return errors.New("--owner and --id must be provided")
		}

		id, err := uuid.Parse(alertID)
		if err != nil {
			return fmt.Errorf("invalid --id value: %w", err)
		}
		return getApp().AlertsCancel(cmd.Context(), id, alertOwner)
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertOwner == "" {
			return errors.New("--owner must be provided")
		}
		if alertListLimit <= 0 {
			return errors.New("--limit must be greater than zero")
		}
		return getApp().AlertsList(cmd.Context(), alertOwner, alertListLimit)
	},
}

func init() {
	alertsCreateCmd.Flags().StringVar(&alertOwner, "owner", "", "Owner id")
	alertsCreateCmd.Flags().StringVar(&alertCommodity, "commodity", "", "Commodity to watch")
	alertsCreateCmd.Flags().StringVar(&alertMarket, "market", "", "Market to watch (empty matches every market)")
	alertsCreateCmd.Flags().StringVar(&alertDirection, "direction", "above", "Alert direction (above|below)")
	alertsCreateCmd.Flags().Float64Var(&alertTarget, "target", 0, "Target price")
	alertsCreateCmd.Flags().StringVar(&alertExpires, "expires", "", "Optional expiry (RFC3339)")

	alertsCancelCmd.Flags().StringVar(&alertOwner, "owner", "", "Owner id")
	alertsCancelCmd.Flags().StringVar(&alertID, "id", "", "Alert id")

	alertsListCmd.Flags().StringVar(&alertOwner, "owner", "", "Owner id")
	alertsListCmd.Flags().IntVar(&alertListLimit, "limit", 50, "Number of alerts to display")

	alertsCmd.AddCommand(alertsCreateCmd)
	alertsCmd.AddCommand(alertsCancelCmd)
	alertsCmd.AddCommand(alertsListCmd)
}
