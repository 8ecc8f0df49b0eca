package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mandiwatch/internal/alerting"
	"mandiwatch/internal/model"
)

type fakeNotifier struct {
	mu       sync.Mutex
	calls    int
	failures int
	done     chan struct{}
}

// newFakeNotifier fails the first n attempts, then succeeds and closes done.
func newFakeNotifier(failFirst int) *fakeNotifier {
	return &fakeNotifier{failures: failFirst, done: make(chan struct{})}
}

func (f *fakeNotifier) Notify(_ context.Context, _ alerting.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("telegram unavailable")
	}
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	return nil
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func instantSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testEvent() model.Transition {
	return model.Transition{
		EventID:   uuid.New(),
		AlertID:   uuid.New(),
		OwnerID:   "farmer-1",
		From:      model.StateActive,
		To:        model.StateTriggered,
		Commodity: "wheat",
		Market:    "pune",
		Direction: model.DirectionAbove,
	}
}

func TestDuplicateEventIDIsDeliveredOnce(t *testing.T) {
	notifier := newFakeNotifier(0)
	d := New(notifier, Options{}, zerolog.Nop())
	d.sleep = instantSleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	event := testEvent()
	require.NoError(t, d.Dispatch(event))
	require.NoError(t, d.Dispatch(event), "re-submitting a seen event id is a no-op")
	require.NoError(t, d.Dispatch(event))

	select {
	case <-notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}

	// Give any erroneous second delivery a moment to show up.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, notifier.callCount())
}

func TestRetriesUntilSuccess(t *testing.T) {
	notifier := newFakeNotifier(2)
	d := New(notifier, Options{MaxAttempts: 5}, zerolog.Nop())
	d.sleep = instantSleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.NoError(t, d.Dispatch(testEvent()))

	select {
	case <-notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery did not recover after transient failures")
	}
	require.Equal(t, 3, notifier.callCount())

	select {
	case f := <-d.Failures():
		t.Fatalf("unexpected failure surfaced: %v", f.Err)
	default:
	}
}

func TestExhaustedDeliverySurfacesFailure(t *testing.T) {
	notifier := newFakeNotifier(100)
	d := New(notifier, Options{MaxAttempts: 3}, zerolog.Nop())
	d.sleep = instantSleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	event := testEvent()
	require.NoError(t, d.Dispatch(event))

	select {
	case f := <-d.Failures():
		require.Equal(t, event.EventID, f.Event.EventID)
		require.Equal(t, 3, f.Attempts)
		require.ErrorIs(t, f.Err, ErrDeliveryFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("exhausted delivery never reached the failure channel")
	}
	require.Equal(t, 3, notifier.callCount())
}

func TestSaturatedQueueRejectsWithoutBlocking(t *testing.T) {
	// No Run goroutine, so the queue never drains.
	d := New(newFakeNotifier(0), Options{QueueSize: 2}, zerolog.Nop())

	require.NoError(t, d.Dispatch(testEvent()))
	require.NoError(t, d.Dispatch(testEvent()))

	rejected := testEvent()
	require.ErrorIs(t, d.Dispatch(rejected), ErrQueueFull)

	// The rejected id was forgotten, so a later retry can be accepted.
	d.mu.Lock()
	_, stillSeen := d.seen[rejected.EventID]
	d.mu.Unlock()
	require.False(t, stillSeen)
}

func TestSweepDropsExpiredEventIDs(t *testing.T) {
	d := New(nil, Options{Retention: time.Hour}, zerolog.Nop())

	old := testEvent()
	fresh := testEvent()
	d.markSeen(old.EventID)
	d.mu.Lock()
	d.seen[old.EventID] = time.Now().Add(-2 * time.Hour)
	d.mu.Unlock()
	d.markSeen(fresh.EventID)

	d.sweepSeen(time.Now())

	d.mu.Lock()
	defer d.mu.Unlock()
	_, oldSeen := d.seen[old.EventID]
	_, freshSeen := d.seen[fresh.EventID]
	require.False(t, oldSeen)
	require.True(t, freshSeen)
}

func TestNilNotifierDiscardsQuietly(t *testing.T) {
	d := New(nil, Options{}, zerolog.Nop())
	d.sleep = instantSleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.NoError(t, d.Dispatch(testEvent()))
	time.Sleep(20 * time.Millisecond)
	select {
	case f := <-d.Failures():
		t.Fatalf("nil notifier should not produce failures: %v", f.Err)
	default:
	}
}
