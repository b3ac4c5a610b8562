package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/cadence/backoff"
)

// Relay drains the outbox into a Sink. An event is acked only after the
// sink accepted it, so delivery is at least once and consumers must be
// idempotent. Events are delivered oldest first; a failure stops the pass
// and the relay retries after a backoff. An event that keeps failing past
// the attempt limit is parked and the pass moves on.
type Relay struct {
	store    Store
	sink     Sink
	logger   *slog.Logger
	batch    int
	interval time.Duration
	backoff  backoff.Strategy
	maxTries int

	notify chan struct{}
	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(l *slog.Logger) RelayOption { return func(r *Relay) { r.logger = l } }

// WithBatch sets how many events are read per pass.
func WithBatch(n int) RelayOption { return func(r *Relay) { r.batch = n } }

// WithInterval sets the idle poll interval.
func WithInterval(d time.Duration) RelayOption { return func(r *Relay) { r.interval = d } }

// WithBackoff sets the retry delay after a failed delivery.
func WithBackoff(s backoff.Strategy) RelayOption { return func(r *Relay) { r.backoff = s } }

// WithMaxAttempts parks an event after n failed deliveries so it stops
// blocking the events behind it. Zero means retry forever.
func WithMaxAttempts(n int) RelayOption { return func(r *Relay) { r.maxTries = n } }

// NewRelay creates a relay from store to sink.
func NewRelay(store Store, sink Sink, opts ...RelayOption) *Relay {
	r := &Relay{
		store:    store,
		sink:     sink,
		logger:   slog.Default(),
		batch:    100,
		interval: time.Second,
		backoff:  backoff.DefaultStrategy(),
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Notify wakes the relay before its next poll. It never blocks.
func (r *Relay) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Start launches the delivery loop. The loop outlives ctx; call Stop.
func (r *Relay) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(loopCtx)
	return nil
}

// Stop ends the loop, aborting a send blocked on the sink.
func (r *Relay) Stop(_ context.Context) error {
	close(r.stopCh)
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return nil
}

func (r *Relay) loop(ctx context.Context) {
	defer r.wg.Done()

	failures := 0
	for {
		wait := r.interval
		n, err := r.Flush(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			failures++
			wait = r.backoff.Delay(failures)
			r.logger.Warn("event relay delivery failed",
				slog.Int("delivered", n),
				slog.Int("failures", failures),
				slog.String("error", err.Error()),
			)
		case n == r.batch:
			failures = 0
			wait = 0
		default:
			failures = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-r.stopCh:
			timer.Stop()
			return
		case <-r.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Flush runs one delivery pass and returns the number of events acked.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.ListUnacked(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list unacked events: %w", err)
	}
	delivered := 0
	for _, evt := range events {
		if err := r.sink.Send(ctx, evt); err != nil {
			if ctx.Err() == nil && r.maxTries > 0 && evt.Attempts+1 >= r.maxTries {
				if perr := r.store.ParkEvent(ctx, evt.ID, err.Error()); perr != nil {
					return delivered, fmt.Errorf("park event %s: %w", evt.ID, perr)
				}
				r.logger.Error("event parked after repeated delivery failures",
					slog.String("event_id", evt.ID.String()),
					slog.String("type", string(evt.Type)),
					slog.Int("attempts", evt.Attempts+1),
					slog.String("error", err.Error()),
				)
				continue
			}
			if recErr := r.store.RecordAttempt(ctx, evt.ID, err.Error()); recErr != nil {
				r.logger.Error("record event attempt failed",
					slog.String("event_id", evt.ID.String()),
					slog.String("error", recErr.Error()),
				)
			}
			return delivered, fmt.Errorf("send event %s: %w", evt.ID, err)
		}
		if err := r.store.AckEvent(ctx, evt.ID); err != nil {
			return delivered, fmt.Errorf("ack event %s: %w", evt.ID, err)
		}
		delivered++
	}
	return delivered, nil
}
