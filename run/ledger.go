package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
)

// MutateFunc derives a Change from the current record. Returning a nil
// Change leaves the run untouched.
type MutateFunc func(cur Run) (*Change, error)

// Ledger is the authoritative record of run attempts. All writes are
// compare-and-swap on the run version; Mutate retries a lost race against
// the refreshed record.
type Ledger struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	retries int
	onWrite func(events int)
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock sets the ledger time source.
func WithClock(now func() time.Time) LedgerOption { return func(l *Ledger) { l.now = now } }

// WithRetries bounds Mutate's retries after a version conflict.
func WithRetries(n int) LedgerOption { return func(l *Ledger) { l.retries = n } }

// WithWriteHook is called after every write that appended events.
func WithWriteHook(fn func(events int)) LedgerOption { return func(l *Ledger) { l.onWrite = fn } }

// NewLedger creates a ledger over store.
func NewLedger(store Store, logger *slog.Logger, opts ...LedgerOption) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{store: store, logger: logger, now: time.Now, retries: 5}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time { return l.now() }

// Store returns the underlying store.
func (l *Ledger) Store() Store { return l.store }

// Create inserts a pending run. When its dedupe key is held, the holder is
// returned with created false and a dedupe ConflictError.
func (l *Ledger) Create(ctx context.Context, r *Run) (*Run, bool, error) {
	existing, err := l.store.CreateRun(ctx, r)
	if err != nil {
		if existing != nil && errors.Is(err, cadence.ErrDedupeConflict) {
			return existing, false, err
		}
		return nil, false, fmt.Errorf("create run: %w", err)
	}
	l.logger.Debug("run created",
		slog.String("run_id", r.ID.String()),
		slog.String("job_key", r.JobKey),
		slog.String("queue", r.Queue),
		slog.Int("attempt", r.Attempt),
	)
	return r, true, nil
}

// Get retrieves a run.
func (l *Ledger) Get(ctx context.Context, runID id.ID) (*Run, error) {
	return l.store.GetRun(ctx, runID)
}

// List returns runs matching opts.
func (l *Ledger) List(ctx context.Context, opts ListOpts) ([]*Run, error) {
	return l.store.ListRuns(ctx, opts)
}

// Mutate loads the run, derives a Change with fn and applies it. If
// another writer got there first, the run is reloaded and fn runs again on
// the fresh record.
func (l *Ledger) Mutate(ctx context.Context, runID id.ID, fn MutateFunc) (*Run, error) {
	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		cur, err := l.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		ch, err := fn(*cur.Clone())
		if err != nil {
			return cur, err
		}
		if ch == nil {
			return cur, nil
		}
		ch.ExpectedVersion = cur.Version
		err = l.store.Apply(ctx, ch)
		if errors.Is(err, cadence.ErrVersionConflict) {
			lastErr = err
			l.logger.Debug("run version conflict, retrying",
				slog.String("run_id", runID.String()),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return cur, err
		}
		if len(ch.Events) > 0 && l.onWrite != nil {
			l.onWrite(len(ch.Events))
		}
		return ch.Run, nil
	}
	return nil, fmt.Errorf("mutate run %s: %w", runID, lastErr)
}

// Apply writes a Change once, without retry. The dispatcher uses it so a
// lost claim race drops the candidate instead of re-reading it.
func (l *Ledger) Apply(ctx context.Context, ch *Change) error {
	if err := l.store.Apply(ctx, ch); err != nil {
		return err
	}
	if len(ch.Events) > 0 && l.onWrite != nil {
		l.onWrite(len(ch.Events))
	}
	return nil
}
