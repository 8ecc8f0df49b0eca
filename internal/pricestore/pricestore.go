// Package pricestore keeps the latest observations per (commodity, market)
// series: a bounded in-memory history with duplicate rejection, optionally
// written through to a durable archive before an observation is admitted.
package pricestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mandiwatch/internal/model"
)

var (
	// ErrDuplicateObservation rejects a re-delivered observation. Benign:
	// callers treat it as an idempotent no-op.
	ErrDuplicateObservation = errors.New("pricestore: duplicate observation")
	// ErrUnavailable signals a transient archive failure; the observation
	// was not admitted and the caller may retry.
	ErrUnavailable = errors.New("pricestore: archive unavailable")
)

// DefaultCapacity bounds retained history per series when none is configured.
const DefaultCapacity = 96

// Archiver persists accepted observations durably. The write must complete
// before Record acknowledges.
type Archiver interface {
	ArchiveObservation(ctx context.Context, obs model.Observation) error
}

// Store holds one bounded series per key. The per-series mutex is the single
// linearization point: Seq values are assigned under it in acceptance order.
type Store struct {
	mu       sync.RWMutex
	series   map[model.Key]*series
	capacity int
	archive  Archiver
	logger   zerolog.Logger
}

type series struct {
	mu      sync.Mutex
	nextSeq uint64
	entries []model.Observation
	dedup   map[dupKey]struct{}
}

type dupKey struct {
	observedAt int64
	source     string
}

// Option tunes Store construction.
type Option func(*Store)

// WithCapacity bounds the retained history per series.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithArchive wires a durable archive behind Record.
func WithArchive(a Archiver) Option {
	return func(s *Store) { s.archive = a }
}

// New constructs an empty Store.
func New(logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		series:   make(map[model.Key]*series),
		capacity: DefaultCapacity,
		logger:   logger.With().Str("component", "pricestore").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) seriesFor(k model.Key) *series {
	s.mu.RLock()
	ser := s.series[k]
	s.mu.RUnlock()
	if ser != nil {
		return ser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ser = s.series[k]; ser == nil {
		ser = &series{dedup: make(map[dupKey]struct{})}
		s.series[k] = ser
	}
	return ser
}

// Record validates and admits an observation, assigning its per-key Seq.
// Returns ErrDuplicateObservation when the (commodity, market, observed-at,
// source) tuple is already retained and ErrUnavailable when the archive
// write fails; in both cases no state changes.
func (s *Store) Record(ctx context.Context, obs *model.Observation) error {
	if obs == nil {
		return fmt.Errorf("pricestore: nil observation")
	}
	if obs.Commodity == "" || obs.Market == "" {
		return fmt.Errorf("pricestore: observation missing commodity or market")
	}

	key := obs.Key()
	ser := s.seriesFor(key)

	ser.mu.Lock()
	defer ser.mu.Unlock()

	dk := dupKey{observedAt: obs.ObservedAt.UnixNano(), source: obs.Source}
	if _, seen := ser.dedup[dk]; seen {
		return ErrDuplicateObservation
	}

	obs.Seq = ser.nextSeq + 1
	obs.RecordedAt = time.Now().UTC()

	if s.archive != nil {
		if err := s.archive.ArchiveObservation(ctx, *obs); err != nil {
			obs.Seq = 0
			s.logger.Warn().Err(err).Str("key", key.String()).Msg("archive write failed")
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	ser.nextSeq = obs.Seq
	ser.insert(*obs)
	ser.dedup[dk] = struct{}{}

	if len(ser.entries) > s.capacity {
		evicted := ser.entries[0]
		ser.entries = ser.entries[1:]
		delete(ser.dedup, dupKey{observedAt: evicted.ObservedAt.UnixNano(), source: evicted.Source})
	}
	return nil
}

// insert keeps entries ordered by ObservedAt; late arrivals slot into place
// instead of breaking the time ordering.
func (ser *series) insert(obs model.Observation) {
	i := len(ser.entries)
	for i > 0 && ser.entries[i-1].ObservedAt.After(obs.ObservedAt) {
		i--
	}
	ser.entries = append(ser.entries, model.Observation{})
	copy(ser.entries[i+1:], ser.entries[i:])
	ser.entries[i] = obs
}

// Latest returns the newest retained observation for a key.
func (s *Store) Latest(commodity, market string) (model.Observation, bool) {
	ser := s.lookup(model.NewKey(commodity, market))
	if ser == nil {
		return model.Observation{}, false
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()
	if len(ser.entries) == 0 {
		return model.Observation{}, false
	}
	return ser.entries[len(ser.entries)-1], true
}

// History returns up to limit observations for a key, most recent first.
func (s *Store) History(commodity, market string, limit int) []model.Observation {
	ser := s.lookup(model.NewKey(commodity, market))
	if ser == nil || limit <= 0 {
		return nil
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()

	n := len(ser.entries)
	if limit > n {
		limit = n
	}
	out := make([]model.Observation, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, ser.entries[i])
	}
	return out
}

// Keys lists every series currently retained, in stable order.
func (s *Store) Keys() []model.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]model.Key, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Commodity != keys[j].Commodity {
			return keys[i].Commodity < keys[j].Commodity
		}
		return keys[i].Market < keys[j].Market
	})
	return keys
}

func (s *Store) lookup(k model.Key) *series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[k]
}
