package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"mandiwatch/internal/model"
	"mandiwatch/internal/registry"
)

// SimulateOptions describe one ad-hoc alert and the observation to evaluate
// against it.
type SimulateOptions struct {
	OwnerID   string
	Commodity string
	Market    string
	Direction model.Direction
	Target    decimal.Decimal
	Price     decimal.Decimal
}

// Simulate runs a single observation against a throwaway alert through the
// real pipeline and reports the outcome. Useful for verifying thresholds and
// the notification channel without waiting on the feed.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	eng := a.buildEngine(nil, a.newNotifier())

	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = eng.dispatcher.Run(dispatchCtx) }()

	alert, err := eng.service.CreateAlert(ctx, registry.CreateParams{
		OwnerID:   opts.OwnerID,
		Commodity: opts.Commodity,
		Market:    opts.Market,
		Direction: opts.Direction,
		Target:    opts.Target,
	})
	if err != nil {
		return err
	}

	obs := model.Observation{
		Commodity:  opts.Commodity,
		Market:     opts.Market,
		Price:      opts.Price,
		ObservedAt: time.Now().UTC(),
		Source:     "simulate",
	}
	if err := eng.service.SubmitObservation(ctx, obs); err != nil {
		return err
	}

	updated := eng.service.ListAlerts(opts.OwnerID)
	if len(updated) == 0 {
		return errors.New("simulated alert vanished")
	}

	fmt.Fprintf(os.Stdout, "alert %s (%s %s @ target %s)\n",
		updated[0].ID, alert.Commodity, alert.Direction, alert.Target.StringFixed(2))
	fmt.Fprintf(os.Stdout, "observation price %s -> state %s\n",
		opts.Price.StringFixed(2), updated[0].State)

	// Give the async dispatcher a moment to push the notification out.
	if updated[0].State == model.StateTriggered && a.newNotifier() != nil {
		time.Sleep(500 * time.Millisecond)
	}
	return nil
}
