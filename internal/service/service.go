// Package service is the thin orchestrator in front of the engine: it exposes
// the command/query surface the UI layer calls (submit, create, cancel, list,
// trend) and owns the housekeeping sweeps. All invariants live below, in the
// price store, registry, and ingestion pipeline.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mandiwatch/internal/ingest"
	"mandiwatch/internal/model"
	"mandiwatch/internal/pricestore"
	"mandiwatch/internal/registry"
	"mandiwatch/internal/storage"
)

// ErrNoData means a trend was requested for a series with fewer than two
// observations.
var ErrNoData = errors.New("service: not enough data")

// Archive is the optional durable backing for alerts and transition events.
type Archive interface {
	storage.AlertStore
	storage.TransitionStore
}

// Service exposes the monitoring engine to callers.
type Service struct {
	store    *pricestore.Store
	registry *registry.Registry
	pipeline *ingest.Pipeline
	sink     ingest.Sink
	archive  Archive
	logger   zerolog.Logger
}

// New constructs the monitoring service. sink and archive may be nil.
func New(store *pricestore.Store, reg *registry.Registry, pipeline *ingest.Pipeline, sink ingest.Sink, archive Archive, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		registry: reg,
		pipeline: pipeline,
		sink:     sink,
		archive:  archive,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

// SubmitObservation feeds one observation through the pipeline. Duplicate
// re-deliveries are an idempotent no-op and never surface as failures;
// transient store trouble propagates for the caller to retry.
func (s *Service) SubmitObservation(ctx context.Context, obs model.Observation) error {
	transitions, err := s.pipeline.Ingest(ctx, obs)
	if err != nil {
		if errors.Is(err, pricestore.ErrDuplicateObservation) {
			return nil
		}
		return err
	}
	s.persistTransitions(ctx, transitions)
	return nil
}

// CreateAlert registers a target-price watch for an owner.
func (s *Service) CreateAlert(ctx context.Context, p registry.CreateParams) (*model.Alert, error) {
	alert, err := s.registry.Create(p)
	if err != nil {
		return nil, err
	}
	s.persistAlert(ctx, alert.ID)
	return alert, nil
}

// CancelAlert cancels an owner's alert.
func (s *Service) CancelAlert(ctx context.Context, alertID uuid.UUID, ownerID string) error {
	if err := s.registry.Cancel(alertID, ownerID); err != nil {
		return err
	}
	s.persistAlert(ctx, alertID)
	return nil
}

// ListAlerts returns the owner's alerts in stable display order.
func (s *Service) ListAlerts(ownerID string) []*model.Alert {
	return s.registry.ListForOwner(ownerID)
}

// Latest returns the newest observation for a series.
func (s *Service) Latest(commodity, market string) (model.Observation, bool) {
	return s.store.Latest(commodity, market)
}

// History returns up to limit observations for a series, newest first.
func (s *Service) History(commodity, market string, limit int) []model.Observation {
	return s.store.History(commodity, market, limit)
}

// Trend summarises a price move over a history window.
type Trend struct {
	Commodity string
	Market    string
	Latest    model.Observation
	Reference model.Observation
	ChangePct decimal.Decimal
}

// PriceTrend computes the percent change between the newest observation and
// the one window entries back (clamped to the oldest retained). ErrNoData
// when the series holds fewer than two observations.
func (s *Service) PriceTrend(commodity, market string, window int) (Trend, error) {
	if window < 1 {
		window = 1
	}
	history := s.store.History(commodity, market, window+1)
	if len(history) < 2 {
		return Trend{}, ErrNoData
	}

	latest := history[0]
	reference := history[len(history)-1]
	if reference.Price.IsZero() {
		return Trend{}, ErrNoData
	}

	change := latest.Price.Sub(reference.Price).
		Div(reference.Price).
		Mul(decimal.NewFromInt(100))

	return Trend{
		Commodity: model.Canonical(commodity),
		Market:    model.Canonical(market),
		Latest:    latest,
		Reference: reference,
		ChangePct: change,
	}, nil
}

// ExpireSweep moves Active alerts past their deadline to Expired and emits
// one transition event per expiry. Driven by the scheduler in run.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) int {
	expired := s.registry.ExpireDue(now)
	if len(expired) == 0 {
		return 0
	}

	transitions := make([]model.Transition, 0, len(expired))
	for _, alert := range expired {
		transitions = append(transitions, model.Transition{
			EventID:    uuid.New(),
			AlertID:    alert.ID,
			OwnerID:    alert.OwnerID,
			From:       model.StateActive,
			To:         model.StateExpired,
			Commodity:  alert.Commodity,
			Market:     alert.Market,
			Direction:  alert.Direction,
			Target:     alert.Target,
			OccurredAt: now,
		})
	}

	for _, tr := range transitions {
		if s.sink != nil {
			if err := s.sink.Dispatch(tr); err != nil {
				s.logger.Error().Err(err).Str("event_id", tr.EventID.String()).Msg("expiry hand-off failed")
			}
		}
	}
	s.persistTransitions(ctx, transitions)

	s.logger.Info().Int("expired", len(transitions)).Msg("expiry sweep complete")
	return len(transitions)
}

// RestoreAlerts loads alerts directly into the registry, bypassing the
// archive. Used by replay tooling with a detached engine.
func (s *Service) RestoreAlerts(alerts []*model.Alert) {
	s.registry.Restore(alerts)
}

// AlertState reports the current lifecycle state of an alert.
func (s *Service) AlertState(alertID uuid.UUID) (model.AlertState, bool) {
	alert, ok := s.registry.Get(alertID)
	if !ok {
		return "", false
	}
	return alert.State, true
}

// Restore loads persisted open alerts into the registry. Called once before
// ingestion starts.
func (s *Service) Restore(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	alerts, err := s.archive.LoadOpenAlerts(ctx)
	if err != nil {
		return err
	}
	s.registry.Restore(alerts)
	s.logger.Info().Int("alerts", len(alerts)).Msg("alerts restored from archive")
	return nil
}

func (s *Service) persistTransitions(ctx context.Context, transitions []model.Transition) {
	if s.archive == nil || len(transitions) == 0 {
		return
	}
	for _, tr := range transitions {
		if err := s.archive.InsertTransition(ctx, tr); err != nil {
			s.logger.Error().Err(err).Str("event_id", tr.EventID.String()).Msg("failed to archive transition")
		}
		s.persistAlert(ctx, tr.AlertID)
	}
}

func (s *Service) persistAlert(ctx context.Context, alertID uuid.UUID) {
	if s.archive == nil {
		return
	}
	alert, ok := s.registry.Get(alertID)
	if !ok {
		return
	}
	if err := s.archive.UpsertAlert(ctx, alert); err != nil {
		s.logger.Error().Err(err).Str("alert_id", alertID.String()).Msg("failed to archive alert")
	}
}
