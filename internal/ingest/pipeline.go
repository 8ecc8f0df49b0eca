// Package ingest runs observations through the engine: record into the price
// store, evaluate matching alerts, commit transitions to the registry, and
// hand the resulting events to the notification dispatcher. Work is
// serialised per (commodity, market) key; distinct keys proceed in parallel.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mandiwatch/internal/evaluator"
	"mandiwatch/internal/model"
	"mandiwatch/internal/pricestore"
	"mandiwatch/internal/registry"
)

// Sink receives transition events for delivery. Dispatch must not block; a
// slow notifier is the sink's problem, never ingestion's.
type Sink interface {
	Dispatch(model.Transition) error
}

// Pipeline wires the store, registry, and sink into the ingestion path.
type Pipeline struct {
	store    *pricestore.Store
	registry *registry.Registry
	sink     Sink
	locks    *keyedMutex
	logger   zerolog.Logger
}

// New constructs a Pipeline. sink may be nil, in which case transitions are
// committed but not delivered (used by backtest-style tooling).
func New(store *pricestore.Store, reg *registry.Registry, sink Sink, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		registry: reg,
		sink:     sink,
		locks:    newKeyedMutex(),
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// Ingest admits one observation and evaluates the alerts on its key. The
// whole store-then-evaluate step runs under the key's lock, which makes the
// store's acceptance order the evaluation order for that key. Returns the
// transitions committed for this observation.
//
// ErrDuplicateObservation and ErrUnavailable propagate from the store; in
// both cases evaluation is skipped entirely and no state changes.
func (p *Pipeline) Ingest(ctx context.Context, obs model.Observation) ([]model.Transition, error) {
	key := obs.Key()
	unlock := p.locks.Lock(key)
	defer unlock()

	if err := p.store.Record(ctx, &obs); err != nil {
		if errors.Is(err, pricestore.ErrDuplicateObservation) {
			p.logger.Debug().Str("key", key.String()).Str("source", obs.Source).
				Time("observed_at", obs.ObservedAt).Msg("duplicate observation ignored")
		}
		return nil, err
	}

	alerts := p.registry.AlertsFor(key.Commodity, key.Market)
	decisions := evaluator.Evaluate(obs, alerts)

	var transitions []model.Transition
	for _, d := range decisions {
		if !d.Triggered {
			if err := p.registry.Advance(d.Alert.ID, key.Market, obs.Seq); err != nil {
				p.logger.Debug().Err(err).Str("alert_id", d.Alert.ID.String()).Msg("cursor advance skipped")
			}
			continue
		}

		updated, err := p.registry.ApplyTransition(d.Alert.ID, key.Market, model.StateTriggered, obs.Seq, obs.ObservedAt)
		if err != nil {
			// Expected race with a concurrent cancel or a replay that lost
			// the cursor check; the registry already resolved it.
			p.logger.Debug().Err(err).Str("alert_id", d.Alert.ID.String()).Msg("transition rejected")
			continue
		}

		transitions = append(transitions, model.Transition{
			EventID:        uuid.New(),
			AlertID:        updated.ID,
			OwnerID:        updated.OwnerID,
			From:           model.StateActive,
			To:             model.StateTriggered,
			Commodity:      key.Commodity,
			Market:         key.Market,
			Direction:      updated.Direction,
			Target:         updated.Target,
			Price:          obs.Price,
			ObservationSeq: obs.Seq,
			ObservedAt:     obs.ObservedAt,
			OccurredAt:     time.Now().UTC(),
		})
	}

	p.deliver(transitions)
	return transitions, nil
}

func (p *Pipeline) deliver(transitions []model.Transition) {
	if p.sink == nil {
		return
	}
	for _, tr := range transitions {
		if err := p.sink.Dispatch(tr); err != nil {
			p.logger.Error().Err(err).Str("event_id", tr.EventID.String()).Msg("transition hand-off failed")
		}
	}
}
