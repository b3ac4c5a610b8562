package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/retry"
	"github.com/xraph/cadence/run"
)

// Report counts what one sweep changed.
type Report struct {
	Missed         int `json:"missed"`
	TimedOut       int `json:"timed_out"`
	WorkersOffline int `json:"workers_offline"`
	Requeued       int `json:"requeued"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the sweep period.
func WithInterval(d time.Duration) Option { return func(m *Monitor) { m.interval = d } }

// WithLivenessWindow sets how long a worker may stay silent.
func WithLivenessWindow(d time.Duration) Option { return func(m *Monitor) { m.window = d } }

// WithOnPending is called with every run a sweep makes pending again: retry
// successors of timed-out runs and runs taken back from lost workers.
func WithOnPending(fn func(*run.Run)) Option { return func(m *Monitor) { m.onPending = fn } }

// WithClock sets the monitor time source.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// Monitor periodically enforces SLAs, timeouts and worker liveness. Every
// write it makes is a version-checked ledger write, so any number of
// monitors may sweep next to the dispatchers.
type Monitor struct {
	ledger  *run.Ledger
	retries *retry.Controller
	workers *cluster.Registry
	logger  *slog.Logger

	interval  time.Duration
	window    time.Duration
	onPending func(*run.Run)
	now       func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates an SLA monitor.
func NewMonitor(ledger *run.Ledger, retries *retry.Controller, workers *cluster.Registry, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		ledger:   ledger,
		retries:  retries,
		workers:  workers,
		logger:   logger,
		interval: 5 * time.Second,
		window:   30 * time.Second,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the sweep loop.
func (m *Monitor) Start(_ context.Context) error {
	m.wg.Add(1)
	go m.loop()
	m.logger.Info("sla monitor started",
		slog.Duration("interval", m.interval),
		slog.Duration("liveness_window", m.window),
	)
	return nil
}

// Stop signals the loop to stop and waits for it.
func (m *Monitor) Stop(_ context.Context) error {
	close(m.stopCh)
	m.wg.Wait()
	return nil
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			rep, err := m.Sweep(context.Background())
			if err != nil {
				m.logger.Error("sla sweep error", slog.String("error", err.Error()))
			}
			if rep != (Report{}) {
				m.logger.Info("sla sweep",
					slog.Int("missed", rep.Missed),
					slog.Int("timed_out", rep.TimedOut),
					slog.Int("workers_offline", rep.WorkersOffline),
					slog.Int("requeued", rep.Requeued),
				)
			}
		}
	}
}

// Sweep runs one pass: pending runs past their SLA become missed, running
// runs past their timeout are failed through the retry controller, and
// silent workers go offline with their runs returned to pending. Errors
// on individual records are collected and the pass continues.
func (m *Monitor) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	var errs []error

	if err := m.sweepPending(ctx, &rep); err != nil {
		errs = append(errs, err)
	}
	if err := m.sweepRunning(ctx, &rep); err != nil {
		errs = append(errs, err)
	}
	if err := m.sweepWorkers(ctx, &rep); err != nil {
		errs = append(errs, err)
	}
	return rep, errors.Join(errs...)
}

func (m *Monitor) sweepPending(ctx context.Context, rep *Report) error {
	pending, err := m.ledger.List(ctx, run.ListOpts{Status: run.StatusPending})
	if err != nil {
		return fmt.Errorf("list pending runs: %w", err)
	}
	now := m.now()
	var errs []error
	for _, r := range pending {
		if r.Policy.SLASec <= 0 || now.Before(r.ScheduledAt.Add(r.Policy.SLA())) {
			continue
		}
		missed := false
		_, err := m.ledger.Mutate(ctx, r.ID, func(cur run.Run) (*run.Change, error) {
			missed = false
			if cur.Status != run.StatusPending {
				return nil, nil
			}
			next, events, err := run.Miss(cur, now)
			if err != nil {
				return nil, err
			}
			missed = true
			return &run.Change{Run: &next, Events: events}, nil
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if missed {
			rep.Missed++
			m.logger.Warn("run missed sla",
				slog.String("run_id", r.ID.String()),
				slog.String("job_key", r.JobKey),
				slog.Time("scheduled_at", r.ScheduledAt),
				slog.Int("sla_sec", r.Policy.SLASec),
			)
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) sweepRunning(ctx context.Context, rep *Report) error {
	running, err := m.ledger.List(ctx, run.ListOpts{Status: run.StatusRunning})
	if err != nil {
		return fmt.Errorf("list running runs: %w", err)
	}
	now := m.now()
	var errs []error
	for _, r := range running {
		if r.StartedAt == nil || r.Policy.TimeoutSec <= 0 || now.Sub(*r.StartedAt) <= r.Policy.Timeout() {
			continue
		}
		res, err := m.retries.Timeout(ctx, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res == nil {
			continue
		}
		rep.TimedOut++
		if res.Next != nil && m.onPending != nil {
			m.onPending(res.Next)
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) sweepWorkers(ctx context.Context, rep *Report) error {
	stale, cutoff, err := m.workers.Stale(ctx, m.window)
	if err != nil {
		return fmt.Errorf("list stale workers: %w", err)
	}
	var errs []error
	swept := make(map[string]bool, len(stale))
	for _, w := range stale {
		swept[w.ID.String()] = true
		changed, err := m.workers.MarkOffline(ctx, w, cutoff, "heartbeat timeout")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !changed {
			continue
		}
		rep.WorkersOffline++
		n, err := m.reclaim(ctx, w)
		rep.Requeued += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Offline workers still holding slots: an earlier reclaim failed
	// partway or the worker reported itself offline.
	offline, err := m.workers.List(ctx, cluster.ListOpts{Status: cluster.StatusOffline})
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("list offline workers: %w", err))...)
	}
	for _, w := range offline {
		if w.CurrentJobs == 0 || swept[w.ID.String()] {
			continue
		}
		n, err := m.reclaim(ctx, w)
		rep.Requeued += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reclaim returns every run held by a lost worker to pending.
func (m *Monitor) reclaim(ctx context.Context, w *cluster.Worker) (int, error) {
	held, err := m.ledger.List(ctx, run.ListOpts{WorkerID: w.ID, Status: run.StatusRunning})
	if err != nil {
		return 0, fmt.Errorf("list runs of worker %s: %w", w.ID, err)
	}
	n := 0
	var errs []error
	for _, r := range held {
		var requeued bool
		updated, err := m.ledger.Mutate(ctx, r.ID, func(cur run.Run) (*run.Change, error) {
			requeued = false
			if cur.Status != run.StatusRunning || cur.WorkerID.String() != w.ID.String() {
				return nil, nil
			}
			next, err := run.Requeue(cur, m.now())
			if err != nil {
				return nil, err
			}
			requeued = true
			return &run.Change{Run: &next, Release: w.ID}, nil
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !requeued {
			continue
		}
		n++
		m.logger.Warn("run requeued from lost worker",
			slog.String("run_id", updated.ID.String()),
			slog.String("job_key", updated.JobKey),
			slog.String("worker_id", w.ID.String()),
		)
		if m.onPending != nil {
			m.onPending(updated)
		}
	}
	return n, errors.Join(errs...)
}
