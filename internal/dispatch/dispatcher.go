// Package dispatch delivers transition events to the external notification
// channel. It guarantees the notifier is invoked for at most one delivery
// cycle per event identity, retries transient failures with exponential
// backoff, and never blocks ingestion: hand-off is a bounded queue and
// retries run on the dispatcher's own goroutine.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mandiwatch/internal/alerting"
	"mandiwatch/internal/model"
)

var (
	// ErrQueueFull means the hand-off queue is saturated. The event is
	// dropped from delivery; alert state is already committed and stands.
	ErrQueueFull = errors.New("dispatch: queue full")
	// ErrDeliveryFailed wraps notifier failures after retries are exhausted.
	ErrDeliveryFailed = errors.New("dispatch: delivery failed")
)

// Options tune dispatcher behaviour.
type Options struct {
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	NotifyTimeout  time.Duration
	Retention      time.Duration
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 10 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
}

// Failure surfaces an event whose delivery was exhausted, for the operator
// error channel.
type Failure struct {
	Event    model.Transition
	Attempts int
	Err      error
}

// Dispatcher consumes transitions and pushes notifications.
type Dispatcher struct {
	notifier alerting.Notifier
	opts     Options
	queue    chan model.Transition
	failures chan Failure
	logger   zerolog.Logger

	mu   sync.Mutex
	seen map[uuid.UUID]time.Time

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Dispatcher. Run must be called before events flow.
func New(notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Dispatcher {
	opts.defaults()
	return &Dispatcher{
		notifier: notifier,
		opts:     opts,
		queue:    make(chan model.Transition, opts.QueueSize),
		failures: make(chan Failure, 64),
		seen:     make(map[uuid.UUID]time.Time),
		logger:   logger.With().Str("component", "dispatch").Logger(),
		sleep:    sleepCtx,
	}
}

// Dispatch enqueues an event for delivery. Non-blocking: a saturated queue
// returns ErrQueueFull rather than stalling the caller. Re-submitting an
// already accepted event id is a no-op.
func (d *Dispatcher) Dispatch(tr model.Transition) error {
	if d.markSeen(tr.EventID) {
		d.logger.Debug().Str("event_id", tr.EventID.String()).Msg("event already dispatched")
		return nil
	}

	select {
	case d.queue <- tr:
		return nil
	default:
		d.forgetSeen(tr.EventID)
		return ErrQueueFull
	}
}

// Failures exposes exhausted deliveries. The channel is buffered and drops
// on overflow; it is an operator signal, not a durability mechanism.
func (d *Dispatcher) Failures() <-chan Failure {
	return d.failures
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	sweep := time.NewTicker(d.opts.Retention / 2)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			d.sweepSeen(time.Now())
		case tr := <-d.queue:
			d.deliver(ctx, tr)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, tr model.Transition) {
	if d.notifier == nil {
		return
	}

	note := alerting.FromTransition(tr)
	backoff := d.opts.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.NotifyTimeout)
		lastErr = d.notifier.Notify(attemptCtx, note)
		cancel()
		if lastErr == nil {
			d.logger.Info().
				Str("event_id", tr.EventID.String()).
				Str("alert_id", tr.AlertID.String()).
				Int("attempt", attempt).
				Msg("notification delivered")
			return
		}
		if ctx.Err() != nil {
			return
		}

		d.logger.Warn().Err(lastErr).
			Str("event_id", tr.EventID.String()).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("notification attempt failed")

		if attempt == d.opts.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, backoff); err != nil {
			return
		}
		backoff *= 2
		if backoff > d.opts.MaxBackoff {
			backoff = d.opts.MaxBackoff
		}
	}

	// Exhausted. Alert state stays triggered; delivery is best effort.
	failure := Failure{
		Event:    tr,
		Attempts: d.opts.MaxAttempts,
		Err:      errors.Join(ErrDeliveryFailed, lastErr),
	}
	d.logger.Error().Err(lastErr).
		Str("event_id", tr.EventID.String()).
		Str("alert_id", tr.AlertID.String()).
		Int("attempts", d.opts.MaxAttempts).
		Msg("notification delivery exhausted")

	select {
	case d.failures <- failure:
	default:
	}
}

// markSeen records the event id; true means it was already present.
func (d *Dispatcher) markSeen(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = time.Now()
	return false
}

func (d *Dispatcher) forgetSeen(id uuid.UUID) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

func (d *Dispatcher) sweepSeen(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, at := range d.seen {
		if now.Sub(at) > d.opts.Retention {
			delete(d.seen, id)
		}
	}
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
