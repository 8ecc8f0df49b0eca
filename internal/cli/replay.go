package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mandiwatch/internal/app"
)

var (
	replayCommodity string
	replayMarket    string
	replayFrom      string
	replayTo        string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-evaluate archived observations against today's open alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFrom == "" || replayTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}
		if replayCommodity == "" || replayMarket == "" {
			return fmt.Errorf("--commodity and --market must be provided")
		}

		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		opts := app.ReplayOptions{
			Commodity: replayCommodity,
			Market:    replayMarket,
			From:      from,
			To:        to,
		}
		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayCommodity, "commodity", "", "Commodity to replay")
	replayCmd.Flags().StringVar(&replayMarket, "market", "", "Market to replay")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End timestamp (RFC3339, exclusive)")
}
