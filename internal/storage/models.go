package storage

import (
	"context"
	"time"

	"mandiwatch/internal/model"
)

// ObservationStore defines durable observation persistence. InsertObservation
// reports whether a new row was written; a re-delivered tuple is a no-op.
type ObservationStore interface {
	InsertObservation(ctx context.Context, obs model.Observation) (bool, error)
	ListRecentObservations(ctx context.Context, commodity, market string, limit int) ([]model.Observation, error)
	ListObservationsBetween(ctx context.Context, commodity, market string, from, to time.Time) ([]model.Observation, error)
}

// AlertStore defines durable alert persistence.
type AlertStore interface {
	UpsertAlert(ctx context.Context, alert *model.Alert) error
	ListAlerts(ctx context.Context, ownerID string, limit int) ([]*model.Alert, error)
	LoadOpenAlerts(ctx context.Context) ([]*model.Alert, error)
}

// TransitionStore defines transition-event auditing.
type TransitionStore interface {
	InsertTransition(ctx context.Context, tr model.Transition) error
	ListRecentTransitions(ctx context.Context, limit int) ([]model.Transition, error)
	DeleteTransitionsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
