package registry

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mandiwatch/internal/model"
)

func params(owner string) CreateParams {
	return CreateParams{
		OwnerID:   owner,
		Commodity: "wheat",
		Market:    "pune",
		Direction: model.DirectionAbove,
		Target:    decimal.NewFromInt(2100),
	}
}

func TestCreateValidation(t *testing.T) {
	reg := New(zerolog.Nop())

	p := params("farmer-1")
	p.Target = decimal.Zero
	_, err := reg.Create(p)
	require.ErrorIs(t, err, ErrInvalidTarget)

	p = params("farmer-1")
	p.Target = decimal.NewFromInt(-5)
	_, err = reg.Create(p)
	require.ErrorIs(t, err, ErrInvalidTarget)

	p = params("")
	_, err = reg.Create(p)
	require.ErrorIs(t, err, ErrInvalidTarget)

	p = params("farmer-1")
	p.Direction = "sideways"
	_, err = reg.Create(p)
	require.ErrorIs(t, err, ErrInvalidTarget)

	alert, err := reg.Create(params("farmer-1"))
	require.NoError(t, err)
	require.Equal(t, model.StateActive, alert.State)
	require.NotEqual(t, uuid.Nil, alert.ID)
}

func TestCancelOwnership(t *testing.T) {
	reg := New(zerolog.Nop())
	alert, err := reg.Create(params("farmer-1"))
	require.NoError(t, err)

	require.ErrorIs(t, reg.Cancel(alert.ID, "farmer-2"), ErrNotFound)
	require.ErrorIs(t, reg.Cancel(uuid.New(), "farmer-1"), ErrNotFound)

	require.NoError(t, reg.Cancel(alert.ID, "farmer-1"))
	got, ok := reg.Get(alert.ID)
	require.True(t, ok)
	require.Equal(t, model.StateCancelled, got.State)

	// Cancelling twice is rejected the same way as not-found.
	require.ErrorIs(t, reg.Cancel(alert.ID, "farmer-1"), ErrNotFound)
}

func TestListForOwnerIsScoped(t *testing.T) {
	reg := New(zerolog.Nop())
	_, err := reg.Create(params("farmer-1"))
	require.NoError(t, err)
	_, err = reg.Create(params("farmer-1"))
	require.NoError(t, err)
	_, err = reg.Create(params("farmer-2"))
	require.NoError(t, err)

	require.Len(t, reg.ListForOwner("farmer-1"), 2)
	require.Len(t, reg.ListForOwner("farmer-2"), 1)
	require.Empty(t, reg.ListForOwner("farmer-3"))
}

func TestAlertsForIncludesMarketAgnostic(t *testing.T) {
	reg := New(zerolog.Nop())

	scoped, err := reg.Create(params("farmer-1"))
	require.NoError(t, err)

	p := params("farmer-1")
	p.Market = ""
	agnostic, err := reg.Create(p)
	require.NoError(t, err)

	p = params("farmer-1")
	p.Market = "nashik"
	_, err = reg.Create(p)
	require.NoError(t, err)

	matches := reg.AlertsFor("wheat", "pune")
	require.Len(t, matches, 2)

	ids := []uuid.UUID{matches[0].ID, matches[1].ID}
	require.Contains(t, ids, scoped.ID)
	require.Contains(t, ids, agnostic.ID)

	// Cancels are visible immediately.
	require.NoError(t, reg.Cancel(scoped.ID, "farmer-1"))
	require.Len(t, reg.AlertsFor("wheat", "pune"), 1)
}

func TestAdvanceEnforcesMonotonicity(t *testing.T) {
	reg := New(zerolog.Nop())
	alert, err := reg.Create(params("farmer-1"))
	require.NoError(t, err)

	require.NoError(t, reg.Advance(alert.ID, "pune", 3))
	require.ErrorIs(t, reg.Advance(alert.ID, "pune", 3), ErrStaleTransition)
	require.ErrorIs(t, reg.Advance(alert.ID, "pune", 2), ErrStaleTransition)
	require.NoError(t, reg.Advance(alert.ID, "pune", 4))

	// A different market has its own cursor.
	require.NoError(t, reg.Advance(alert.ID, "nashik", 1))
}

func TestApplyTransition(t *testing.T) {
	reg := New(zerolog.Nop())
	alert, err := reg.Create(params("farmer-1"))
	require.NoError(t, err)

	at := time.Now().UTC()
	updated, err := reg.ApplyTransition(alert.ID, "pune", model.StateTriggered, 7, at)
	require.NoError(t, err)
	require.Equal(t, model.StateTriggered, updated.State)
	require.NotNil(t, updated.TriggeredAt)
	require.True(t, updated.TriggeredAt.Equal(at))

	// Replays behind the cursor are stale, not errors in disguise.
	_, err = reg.ApplyTransition(alert.ID, "pune", model.StateTriggered, 7, at)
	require.ErrorIs(t, err, ErrStaleTransition)

	// A fresh observation cannot re-trigger a terminal alert.
	_, err = reg.ApplyTransition(alert.ID, "pune", model.StateTriggered, 8, at)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyTransitionAfterCancel(t *testing.T) {
	reg := New(zerolog.Nop())
	alert, err := reg.Create(params("farmer-1"))
	require.NoError(t, err)

	require.NoError(t, reg.Cancel(alert.ID, "farmer-1"))
	_, err = reg.ApplyTransition(alert.ID, "pune", model.StateTriggered, 1, time.Now().UTC())
	require.ErrorIs(t, err, ErrNotFound)

	got, ok := reg.Get(alert.ID)
	require.True(t, ok)
	require.Equal(t, model.StateCancelled, got.State)
}

func TestExpireDue(t *testing.T) {
	reg := New(zerolog.Nop())
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	p := params("farmer-1")
	p.ExpiresAt = &past
	dueAlert, err := reg.Create(p)
	require.NoError(t, err)

	p = params("farmer-1")
	p.ExpiresAt = &future
	_, err = reg.Create(p)
	require.NoError(t, err)

	p = params("farmer-1")
	_, err = reg.Create(p)
	require.NoError(t, err)

	expired := reg.ExpireDue(now)
	require.Len(t, expired, 1)
	require.Equal(t, dueAlert.ID, expired[0].ID)
	require.Equal(t, model.StateExpired, expired[0].State)

	// Sweep is idempotent.
	require.Empty(t, reg.ExpireDue(now))
}

func TestRestore(t *testing.T) {
	reg := New(zerolog.Nop())
	alert := &model.Alert{
		ID:        uuid.New(),
		OwnerID:   "farmer-1",
		Commodity: "wheat",
		Market:    "pune",
		Direction: model.DirectionAbove,
		Target:    decimal.NewFromInt(2100),
		State:     model.StateActive,
		CreatedAt: time.Now().UTC(),
		Cursors:   map[string]uint64{"pune": 12},
	}

	reg.Restore([]*model.Alert{alert})

	got, ok := reg.Get(alert.ID)
	require.True(t, ok)
	require.Equal(t, uint64(12), got.Cursor("pune"))
	require.Len(t, reg.ListForOwner("farmer-1"), 1)

	// Restoring again must not duplicate the owner index.
	reg.Restore([]*model.Alert{alert})
	require.Len(t, reg.ListForOwner("farmer-1"), 1)
}
