package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"mandiwatch/internal/model"
	"mandiwatch/internal/registry"
)

// AlertsCreate registers a new alert in the durable archive. A running
// service instance picks it up on its next restart; the command is intended
// for operators seeding alerts out of band.
func (a *App) AlertsCreate(ctx context.Context, p registry.CreateParams) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot manage alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	// Run the create through a real registry so validation and defaults
	// stay in one place.
	reg := registry.New(a.Logger)
	alert, err := reg.Create(p)
	if err != nil {
		return err
	}
	if err := store.UpsertAlert(ctx, alert); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "created alert %s: %s %s %s @ %s\n",
		alert.ID, alert.Commodity, orAny(alert.Market), alert.Direction, alert.Target.StringFixed(2))
	return nil
}

// AlertsCancel cancels an owner's alert in the durable archive.
func (a *App) AlertsCancel(ctx context.Context, alertID uuid.UUID, ownerID string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot manage alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListAlerts(ctx, ownerID, 1000)
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		if alert.ID != alertID {
			continue
		}
		next, err := model.NextState(alert.State, model.StateCancelled)
		if err != nil {
			return registry.ErrNotFound
		}
		alert.State = next
		if err := store.UpsertAlert(ctx, alert); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "cancelled alert %s\n", alert.ID)
		return nil
	}
	return registry.ErrNotFound
}

// AlertsList prints an owner's alerts.
func (a *App) AlertsList(ctx context.Context, ownerID string, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot manage alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListAlerts(ctx, ownerID, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tCommodity\tMarket\tDirection\tTarget\tState\tCreated (UTC)\tTriggered (UTC)")
	for _, alert := range alerts {
		triggered := ""
		if alert.TriggeredAt != nil {
			triggered = alert.TriggeredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(alert.ID.String()),
			alert.Commodity,
			orAny(alert.Market),
			alert.Direction,
			alert.Target.StringFixed(2),
			alert.State,
			alert.CreatedAt.UTC().Format(time.RFC3339),
			triggered,
		)
	}
	writer.Flush()
	return nil
}

func orAny(market string) string {
	if market == "" {
		return "(any)"
	}
	return market
}
