package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent observations for a series and recent transition events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	observations, err := store.ListRecentObservations(ctx, opts.Commodity, opts.Market, opts.Limit)
	if err != nil {
		return err
	}

	if len(observations) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Observed (UTC)\tCommodity\tMarket\tPrice\tUnit\tSource")
		for _, obs := range observations {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\n",
				obs.ObservedAt.UTC().Format(time.RFC3339),
				obs.Commodity,
				obs.Market,
				obs.Price.StringFixed(2),
				obs.Unit,
				sanitizeInline(obs.Source),
			)
		}
		writer.Flush()
	}

	transitions, err := store.ListRecentTransitions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(transitions) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Occurred (UTC)\tAlert\tOwner\tCommodity\tMarket\tChange\tPrice\tTarget")
	for _, tr := range transitions {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s->%s\t%s\t%s %s\n",
			tr.OccurredAt.UTC().Format(time.RFC3339),
			shortID(tr.AlertID.String()),
			tr.OwnerID,
			tr.Commodity,
			tr.Market,
			tr.From,
			tr.To,
			tr.Price.StringFixed(2),
			tr.Direction,
			tr.Target.StringFixed(2),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
