package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"mandiwatch/internal/model"
)

// Replay feeds archived observations for a series through a fresh in-memory
// engine, restoring today's open alerts first. It reports which alerts would
// have fired over the window without touching live state; the dispatcher is
// left out so no notifications are sent.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if !opts.From.Before(opts.To) {
		return errors.New("--from must be before --to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot replay")
	}
	if closeStore != nil {
		defer closeStore()
	}

	observations, err := store.ListObservationsBetween(ctx, opts.Commodity, opts.Market, opts.From, opts.To)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		fmt.Fprintln(os.Stdout, "no observations in window")
		return nil
	}

	open, err := store.LoadOpenAlerts(ctx)
	if err != nil {
		return err
	}

	// Detached engine: no archive, no notifier. Cursors are reset so the
	// window is evaluated from scratch.
	eng := a.buildEngine(nil, nil)
	restored := make([]*model.Alert, 0, len(open))
	for _, alert := range open {
		cp := alert.Clone()
		cp.Cursors = nil
		restored = append(restored, cp)
	}
	eng.service.RestoreAlerts(restored)

	var triggered int
	for _, obs := range observations {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		obs.Seq = 0
		if err := eng.service.SubmitObservation(ctx, obs); err != nil {
			a.Logger.Warn().Err(err).Time("observed_at", obs.ObservedAt).Msg("replay submit failed")
		}
	}

	for _, alert := range open {
		replayed, ok := eng.service.AlertState(alert.ID)
		if ok && replayed == model.StateTriggered {
			triggered++
			fmt.Fprintf(os.Stdout, "alert %s (%s %s %s @ %s) would trigger\n",
				shortID(alert.ID.String()), alert.Commodity, alert.Market, alert.Direction, alert.Target.StringFixed(2))
		}
	}

	fmt.Fprintf(os.Stdout, "replayed %d observations, %d of %d open alerts would trigger\n",
		len(observations), triggered, len(open))
	return nil
}
