// Package model holds the domain types shared by the price engine:
// observations, alerts, lifecycle states, and transition events.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Key identifies a price series: one commodity traded at one market.
type Key struct {
	Commodity string
	Market    string
}

// NewKey canonicalises the commodity/market pair.
func NewKey(commodity, market string) Key {
	return Key{
		Commodity: Canonical(commodity),
		Market:    Canonical(market),
	}
}

// Canonical normalises an identifier for use in a Key.
func Canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (k Key) String() string {
	return k.Commodity + "@" + k.Market
}

// Observation is a single price reading for a (commodity, market) pair.
// Immutable once recorded. Seq is assigned by the price store when the
// observation is accepted and orders evaluation within its key.
type Observation struct {
	Seq        uint64
	Commodity  string
	Market     string
	Price      decimal.Decimal
	Unit       string
	ObservedAt time.Time
	Source     string
	RecordedAt time.Time
}

// Key returns the series key the observation belongs to.
func (o Observation) Key() Key {
	return NewKey(o.Commodity, o.Market)
}

// Direction says which side of the target price an alert watches.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// ParseDirection validates a user-supplied direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(Canonical(s)) {
	case DirectionAbove:
		return DirectionAbove, nil
	case DirectionBelow:
		return DirectionBelow, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Satisfied reports whether price meets the target for this direction.
// The boundary is inclusive: an observation exactly at the target fires.
func (d Direction) Satisfied(price, target decimal.Decimal) bool {
	switch d {
	case DirectionAbove:
		return price.GreaterThanOrEqual(target)
	case DirectionBelow:
		return price.LessThanOrEqual(target)
	}
	return false
}

// AlertState enumerates the alert lifecycle.
type AlertState string

const (
	StateActive    AlertState = "active"
	StateTriggered AlertState = "triggered"
	StateCancelled AlertState = "cancelled"
	StateExpired   AlertState = "expired"
)

// ErrIllegalTransition rejects a state move the lifecycle does not allow.
type ErrIllegalTransition struct {
	From, To AlertState
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal alert transition %s -> %s", e.From, e.To)
}

// NextState is the single gate for every alert state change. Active may move
// to any terminal state; Triggered admits only an explicit user cancel.
func NextState(from, to AlertState) (AlertState, error) {
	switch from {
	case StateActive:
		switch to {
		case StateTriggered, StateCancelled, StateExpired:
			return to, nil
		}
	case StateTriggered:
		if to == StateCancelled {
			return to, nil
		}
	}
	return from, ErrIllegalTransition{From: from, To: to}
}

// Terminal reports whether no automatic transition can leave the state.
func (s AlertState) Terminal() bool {
	return s != StateActive
}

// Alert is a user-owned target-price watch. Market may be empty, in which
// case the alert matches every market trading the commodity and each market
// is evaluated as an independent stream (see Cursors).
type Alert struct {
	ID          uuid.UUID
	OwnerID     string
	Commodity   string
	Market      string
	Direction   Direction
	Target      decimal.Decimal
	State       AlertState
	CreatedAt   time.Time
	TriggeredAt *time.Time
	ExpiresAt   *time.Time

	// Cursors records, per market, the highest observation seq this alert
	// has been evaluated against. Re-delivery at or below the cursor is a
	// no-op.
	Cursors map[string]uint64
}

// Cursor returns the last-evaluated observation seq for a market.
func (a *Alert) Cursor(market string) uint64 {
	if a.Cursors == nil {
		return 0
	}
	return a.Cursors[Canonical(market)]
}

// Matches reports whether the alert watches the given series key.
func (a *Alert) Matches(k Key) bool {
	if Canonical(a.Commodity) != k.Commodity {
		return false
	}
	return a.Market == "" || Canonical(a.Market) == k.Market
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (a *Alert) Clone() *Alert {
	cp := *a
	if a.TriggeredAt != nil {
		t := *a.TriggeredAt
		cp.TriggeredAt = &t
	}
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		cp.ExpiresAt = &t
	}
	if a.Cursors != nil {
		cp.Cursors = make(map[string]uint64, len(a.Cursors))
		for m, seq := range a.Cursors {
			cp.Cursors[m] = seq
		}
	}
	return &cp
}

// Transition records one alert state change. Produced exactly once per
// actual change and consumed by the notification dispatcher.
type Transition struct {
	EventID        uuid.UUID
	AlertID        uuid.UUID
	OwnerID        string
	From           AlertState
	To             AlertState
	Commodity      string
	Market         string
	Direction      Direction
	Target         decimal.Decimal
	Price          decimal.Decimal
	ObservationSeq uint64
	ObservedAt     time.Time
	OccurredAt     time.Time
}
