package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDirectionSatisfiedInclusiveBoundary(t *testing.T) {
	target := decimal.NewFromInt(1800)

	if !DirectionBelow.Satisfied(decimal.NewFromInt(1800), target) {
		t.Fatal("below alert must fire at exactly the target")
	}
	if !DirectionAbove.Satisfied(decimal.NewFromInt(1800), target) {
		t.Fatal("above alert must fire at exactly the target")
	}
	if DirectionAbove.Satisfied(decimal.NewFromInt(1799), target) {
		t.Fatal("above alert must not fire under the target")
	}
	if DirectionBelow.Satisfied(decimal.NewFromInt(1801), target) {
		t.Fatal("below alert must not fire over the target")
	}
}

func TestParseDirection(t *testing.T) {
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatal("unknown direction must be rejected")
	}
	d, err := ParseDirection(" Above ")
	if err != nil {
		t.Fatalf("parse direction: %v", err)
	}
	if d != DirectionAbove {
		t.Fatalf("expected above, got %s", d)
	}
}

func TestNextState(t *testing.T) {
	cases := []struct {
		from, to AlertState
		ok       bool
	}{
		{StateActive, StateTriggered, true},
		{StateActive, StateCancelled, true},
		{StateActive, StateExpired, true},
		{StateTriggered, StateCancelled, true},
		{StateTriggered, StateTriggered, false},
		{StateTriggered, StateExpired, false},
		{StateCancelled, StateTriggered, false},
		{StateExpired, StateCancelled, false},
	}

	for _, tc := range cases {
		_, err := NextState(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s should be legal: %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestAlertMatches(t *testing.T) {
	scoped := &Alert{Commodity: "wheat", Market: "pune"}
	anyMarket := &Alert{Commodity: "wheat"}

	if !scoped.Matches(NewKey("Wheat", "Pune")) {
		t.Fatal("scoped alert must match its own key")
	}
	if scoped.Matches(NewKey("wheat", "nashik")) {
		t.Fatal("scoped alert must not match another market")
	}
	if !anyMarket.Matches(NewKey("wheat", "nashik")) {
		t.Fatal("market-agnostic alert must match every market")
	}
	if anyMarket.Matches(NewKey("onion", "pune")) {
		t.Fatal("alert must not match another commodity")
	}
}
