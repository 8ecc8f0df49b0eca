// Package registry owns the durable collection of user price alerts and is
// the only place alert state is mutated. The evaluator drives state changes
// exclusively through ApplyTransition/Advance, which enforce the per-market
// observation cursor so replays and races can never re-trigger an alert.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mandiwatch/internal/model"
)

var (
	// ErrInvalidTarget rejects a create with a non-positive target price or
	// otherwise malformed parameters.
	ErrInvalidTarget = errors.New("registry: invalid alert target")
	// ErrNotFound covers a missing alert, a non-owner caller, and cancel of
	// an already terminal alert. Deliberately indistinguishable so alerts
	// never leak across owners.
	ErrNotFound = errors.New("registry: alert not found")
	// ErrStaleTransition rejects an evaluation at or behind the alert's
	// cursor. Expected under concurrency; callers log it at debug and move on.
	ErrStaleTransition = errors.New("registry: stale transition")
)

// Registry is an in-memory alert collection guarded by a single mutex. All
// reads return clones; internal records never escape the lock.
type Registry struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*model.Alert
	byOwner map[string][]uuid.UUID
	logger  zerolog.Logger
}

// New constructs an empty Registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		byID:    make(map[uuid.UUID]*model.Alert),
		byOwner: make(map[string][]uuid.UUID),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// CreateParams carry the user-facing alert parameters.
type CreateParams struct {
	OwnerID   string
	Commodity string
	Market    string // optional; empty matches every market
	Direction model.Direction
	Target    decimal.Decimal
	ExpiresAt *time.Time
}

// Create registers a new Active alert and returns a clone of it.
func (r *Registry) Create(p CreateParams) (*model.Alert, error) {
	if p.Target.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidTarget
	}
	if p.OwnerID == "" || model.Canonical(p.Commodity) == "" {
		return nil, ErrInvalidTarget
	}
	if p.Direction != model.DirectionAbove && p.Direction != model.DirectionBelow {
		return nil, ErrInvalidTarget
	}

	alert := &model.Alert{
		ID:        uuid.New(),
		OwnerID:   p.OwnerID,
		Commodity: model.Canonical(p.Commodity),
		Market:    model.Canonical(p.Market),
		Direction: p.Direction,
		Target:    p.Target,
		State:     model.StateActive,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: p.ExpiresAt,
		Cursors:   make(map[string]uint64),
	}

	r.mu.Lock()
	r.byID[alert.ID] = alert
	r.byOwner[alert.OwnerID] = append(r.byOwner[alert.OwnerID], alert.ID)
	r.mu.Unlock()

	r.logger.Info().
		Str("alert_id", alert.ID.String()).
		Str("owner", alert.OwnerID).
		Str("commodity", alert.Commodity).
		Str("market", alert.Market).
		Str("direction", string(alert.Direction)).
		Str("target", alert.Target.String()).
		Msg("alert created")
	return alert.Clone(), nil
}

// Cancel moves an alert to Cancelled on behalf of its owner. Fails with
// ErrNotFound for a missing alert, a different owner, or an alert already
// Cancelled/Expired.
func (r *Registry) Cancel(alertID uuid.UUID, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	alert := r.byID[alertID]
	if alert == nil || alert.OwnerID != ownerID {
		return ErrNotFound
	}

	next, err := model.NextState(alert.State, model.StateCancelled)
	if err != nil {
		return ErrNotFound
	}
	alert.State = next

	r.logger.Info().Str("alert_id", alertID.String()).Str("owner", ownerID).Msg("alert cancelled")
	return nil
}

// Get returns a clone of the alert regardless of state.
func (r *Registry) Get(alertID uuid.UUID) (*model.Alert, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert := r.byID[alertID]
	if alert == nil {
		return nil, false
	}
	return alert.Clone(), true
}

// ListForOwner returns every alert the owner ever created, in stable
// (created-at, id) order for display.
func (r *Registry) ListForOwner(ownerID string) []*model.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOwner[ownerID]
	out := make([]*model.Alert, 0, len(ids))
	for _, id := range ids {
		if alert := r.byID[id]; alert != nil {
			out = append(out, alert.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// AlertsFor returns clones of every Active alert matching the series key,
// including market-agnostic alerts for the commodity. Reflects all committed
// creates and cancels at call time.
func (r *Registry) AlertsFor(commodity, market string) []*model.Alert {
	key := model.NewKey(commodity, market)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Alert
	for _, alert := range r.byID {
		if alert.State == model.StateActive && alert.Matches(key) {
			out = append(out, alert.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Advance moves an alert's cursor for a market without changing state. Used
// when an observation was evaluated but did not satisfy the predicate, so a
// later replay of the same observation is a no-op.
func (r *Registry) Advance(alertID uuid.UUID, market string, seq uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	alert := r.byID[alertID]
	if alert == nil {
		return ErrNotFound
	}
	return advanceCursor(alert, market, seq)
}

// ApplyTransition is the sole mutation path used by evaluation: it advances
// the cursor and moves the alert to newState in one step. ErrStaleTransition
// when seq is at or behind the cursor, ErrNotFound when the lifecycle
// forbids the move (e.g. a concurrent cancel won the race).
func (r *Registry) ApplyTransition(alertID uuid.UUID, market string, newState model.AlertState, seq uint64, at time.Time) (*model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alert := r.byID[alertID]
	if alert == nil {
		return nil, ErrNotFound
	}
	if err := advanceCursor(alert, market, seq); err != nil {
		return nil, err
	}

	next, err := model.NextState(alert.State, newState)
	if err != nil {
		return nil, ErrNotFound
	}
	alert.State = next
	if next == model.StateTriggered {
		t := at
		alert.TriggeredAt = &t
	}
	return alert.Clone(), nil
}

// ExpireDue sweeps Active alerts whose deadline has passed, returning clones
// of the alerts it expired.
func (r *Registry) ExpireDue(now time.Time) []*model.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*model.Alert
	for _, alert := range r.byID {
		if alert.State != model.StateActive || alert.ExpiresAt == nil {
			continue
		}
		if alert.ExpiresAt.After(now) {
			continue
		}
		alert.State = model.StateExpired
		expired = append(expired, alert.Clone())
	}
	return expired
}

// Restore loads previously persisted alerts, replacing any with the same id.
// Used once at startup before ingestion begins.
func (r *Registry) Restore(alerts []*model.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, alert := range alerts {
		cp := alert.Clone()
		if cp.Cursors == nil {
			cp.Cursors = make(map[string]uint64)
		}
		if _, exists := r.byID[cp.ID]; !exists {
			r.byOwner[cp.OwnerID] = append(r.byOwner[cp.OwnerID], cp.ID)
		}
		r.byID[cp.ID] = cp
	}
}

func advanceCursor(alert *model.Alert, market string, seq uint64) error {
	m := model.Canonical(market)
	if alert.Cursors == nil {
		alert.Cursors = make(map[string]uint64)
	}
	if seq <= alert.Cursors[m] {
		return ErrStaleTransition
	}
	alert.Cursors[m] = seq
	return nil
}
