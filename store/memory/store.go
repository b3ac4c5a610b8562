package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/calendar"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ calendar.Store     = (*Store)(nil)
	_ job.Store          = (*Store)(nil)
	_ run.Store          = (*Store)(nil)
	_ trigger.Store      = (*Store)(nil)
	_ event.Store        = (*Store)(nil)
	_ cluster.Store      = (*Store)(nil)
	_ cluster.Leadership = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for lock and lease expiry.
func WithClock(now func() time.Time) Option { return func(m *Store) { m.now = now } }

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
// A single mutex makes every Apply atomic.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	calendars map[string]*calendar.Calendar // key: "tenant|key"
	jobs      map[string]*job.Job
	jobKeys   map[string]string // "tenant|key" → job ID
	runs      map[string]*run.Run
	schedules map[string]*trigger.Schedule
	events    []*event.Event
	eventIdx  map[string]int
	workers   map[string]*cluster.Worker

	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		now:       time.Now,
		calendars: make(map[string]*calendar.Calendar),
		jobs:      make(map[string]*job.Job),
		jobKeys:   make(map[string]string),
		runs:      make(map[string]*run.Run),
		schedules: make(map[string]*trigger.Schedule),
		eventIdx:  make(map[string]int),
		workers:   make(map[string]*cluster.Worker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func tenantKey(tenant, key string) string { return tenant + "|" + key }

// page applies offset and limit to a sorted slice.
func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Calendar Store
// ──────────────────────────────────────────────────

func cloneCalendar(c *calendar.Calendar) *calendar.Calendar {
	cp := *c
	cp.Holidays = slices.Clone(c.Holidays)
	return &cp
}

// CreateCalendar persists a new calendar.
func (m *Store) CreateCalendar(_ context.Context, c *calendar.Calendar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := tenantKey(c.TenantID, c.Key)
	if _, exists := m.calendars[k]; exists {
		return cadence.ErrDuplicateKey
	}
	m.calendars[k] = cloneCalendar(c)
	return nil
}

// GetCalendar retrieves a calendar by tenant and key.
func (m *Store) GetCalendar(_ context.Context, tenant, key string) (*calendar.Calendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.calendars[tenantKey(tenant, key)]
	if !ok {
		return nil, cadence.NotFound("calendar", key)
	}
	return cloneCalendar(c), nil
}

// UpdateCalendar replaces a calendar under a version check.
func (m *Store) UpdateCalendar(_ context.Context, c *calendar.Calendar, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := tenantKey(c.TenantID, c.Key)
	cur, ok := m.calendars[k]
	if !ok {
		return cadence.NotFound("calendar", c.Key)
	}
	if cur.Version != expectedVersion {
		return cadence.ErrVersionConflict
	}
	m.calendars[k] = cloneCalendar(c)
	return nil
}

// ListCalendars returns a tenant's calendars ordered by key.
func (m *Store) ListCalendars(_ context.Context, tenant string, opts calendar.ListOpts) ([]*calendar.Calendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*calendar.Calendar
	for _, c := range m.calendars {
		if c.TenantID == tenant {
			out = append(out, cloneCalendar(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return page(out, opts.Limit, opts.Offset), nil
}

// DeleteCalendar removes a calendar.
func (m *Store) DeleteCalendar(_ context.Context, tenant, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := tenantKey(tenant, key)
	if _, ok := m.calendars[k]; !ok {
		return cadence.NotFound("calendar", key)
	}
	delete(m.calendars, k)
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := tenantKey(j.TenantID, j.Key)
	if _, exists := m.jobKeys[k]; exists {
		return cadence.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[j.ID.String()] = &cp
	m.jobKeys[k] = j.ID.String()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.ID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, cadence.NotFound("job", jobID.String())
	}
	cp := *j
	return &cp, nil
}

// GetJobByKey retrieves a job by tenant and key.
func (m *Store) GetJobByKey(_ context.Context, tenant, key string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jid, ok := m.jobKeys[tenantKey(tenant, key)]
	if !ok {
		return nil, cadence.NotFound("job", key)
	}
	cp := *m.jobs[jid]
	return &cp, nil
}

// UpdateJob replaces a job under a version check.
func (m *Store) UpdateJob(_ context.Context, j *job.Job, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobs[j.ID.String()]
	if !ok {
		return cadence.NotFound("job", j.ID.String())
	}
	if cur.Version != expectedVersion {
		return cadence.ErrVersionConflict
	}
	cp := *j
	m.jobs[j.ID.String()] = &cp
	return nil
}

// ListJobs returns a tenant's jobs ordered by key.
func (m *Store) ListJobs(_ context.Context, tenant string, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if j.TenantID != tenant {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Key != "" && j.Key != opts.Key {
			continue
		}
		if opts.Enabled != nil && j.Enabled != *opts.Enabled {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key < out[k].Key })
	return page(out, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Run Store
// ──────────────────────────────────────────────────

// dedupeHolder finds an active run of r's job holding r's dedupe key
// inside the job's dedupe window. Caller holds m.mu.
func (m *Store) dedupeHolder(r *run.Run) *run.Run {
	if r.DedupeKey == "" {
		return nil
	}
	window := r.Policy.DedupeWindow()
	var holder *run.Run
	for _, cur := range m.runs {
		if cur.JobID.String() != r.JobID.String() || cur.DedupeKey != r.DedupeKey || !cur.Status.Active() {
			continue
		}
		if window > 0 && r.CreatedAt.Sub(cur.CreatedAt) >= window {
			continue
		}
		if holder == nil || cur.CreatedAt.Before(holder.CreatedAt) {
			holder = cur
		}
	}
	return holder
}

// CreateRun inserts a pending run unless its dedupe key is held.
func (m *Store) CreateRun(_ context.Context, r *run.Run) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[r.ID.String()]; exists {
		return nil, cadence.ErrDuplicateKey
	}
	if holder := m.dedupeHolder(r); holder != nil {
		return holder.Clone(), &cadence.ConflictError{
			Kind:       cadence.ConflictDedupe,
			ExistingID: holder.ID,
			Detail:     "dedupe key " + r.DedupeKey + " is held",
		}
	}
	m.runs[r.ID.String()] = r.Clone()
	return nil, nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.ID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, cadence.NotFound("run", runID.String())
	}
	return r.Clone(), nil
}

func matchRun(r *run.Run, opts run.ListOpts) bool {
	switch {
	case opts.Tenant != "" && r.TenantID != opts.Tenant:
		return false
	case !opts.JobID.IsNil() && r.JobID.String() != opts.JobID.String():
		return false
	case opts.Queue != "" && r.Queue != opts.Queue:
		return false
	case opts.Status != "" && r.Status != opts.Status:
		return false
	case !opts.WorkerID.IsNil() && r.WorkerID.String() != opts.WorkerID.String():
		return false
	case !opts.RootID.IsNil() && r.RootID.String() != opts.RootID.String():
		return false
	case opts.DedupeKey != "" && r.DedupeKey != opts.DedupeKey:
		return false
	}
	return true
}

// ListRuns returns runs matching opts, newest first.
func (m *Store) ListRuns(_ context.Context, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*run.Run
	for _, r := range m.runs {
		if matchRun(r, opts) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.Compare(out[j].ID) > 0
	})
	return page(out, opts.Limit, opts.Offset), nil
}

// ListDispatchable returns eligible pending runs of a queue in dispatch
// order.
func (m *Store) ListDispatchable(_ context.Context, f run.DispatchFilter, now time.Time, limit int) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*run.Run
	for _, r := range m.runs {
		if r.Queue != f.Queue || !r.Dispatchable(now) {
			continue
		}
		if f.Tenant != "" && r.TenantID != f.Tenant {
			continue
		}
		if len(f.JobKeys) == 0 || slices.Contains(f.JobKeys, r.JobKey) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return run.DispatchBefore(out[i], out[j]) })
	return page(out, limit, 0), nil
}

// CountRunning returns the number of running runs of a job.
func (m *Store) CountRunning(_ context.Context, jobID id.ID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.countRunning(jobID, ""), nil
}

func (m *Store) countRunning(jobID id.ID, exclude string) int {
	n := 0
	for k, r := range m.runs {
		if k != exclude && r.Status == run.StatusRunning && r.JobID.String() == jobID.String() {
			n++
		}
	}
	return n
}

// Apply performs a Change atomically under the store lock.
func (m *Store) Apply(_ context.Context, ch *run.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ch.Run.ID.String()
	cur, ok := m.runs[key]
	if !ok {
		return cadence.NotFound("run", key)
	}
	if cur.Version != ch.ExpectedVersion {
		return cadence.ErrVersionConflict
	}

	var claimed *cluster.Worker
	if ch.Claim != nil {
		w, ok := m.workers[ch.Claim.WorkerID.String()]
		if !ok || w.Status != cluster.StatusOnline {
			return cadence.ErrWorkerUnavailable
		}
		if !w.HasCapacity() {
			return cadence.ErrWorkerAtCapacity
		}
		if lim := ch.Claim.ConcurrencyLimit; lim > 0 && m.countRunning(ch.Run.JobID, key) >= lim {
			return cadence.ErrConcurrencyLimit
		}
		claimed = w
	}
	if ch.Successor != nil {
		if _, exists := m.runs[ch.Successor.ID.String()]; exists {
			return cadence.ErrDuplicateKey
		}
	}

	m.runs[key] = ch.Run.Clone()
	if claimed != nil {
		claimed.CurrentJobs++
	}
	if !ch.Release.IsNil() {
		if w, ok := m.workers[ch.Release.String()]; ok && w.CurrentJobs > 0 {
			w.CurrentJobs--
		}
	}
	if ch.Successor != nil {
		m.runs[ch.Successor.ID.String()] = ch.Successor.Clone()
	}
	for _, evt := range ch.Events {
		m.appendEvent(evt)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Schedule Store
// ──────────────────────────────────────────────────

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneSchedule(s *trigger.Schedule) *trigger.Schedule {
	cp := *s
	cp.Payload = slices.Clone(s.Payload)
	cp.LastRunAt = cloneTime(s.LastRunAt)
	cp.NextRunAt = cloneTime(s.NextRunAt)
	cp.LockedUntil = cloneTime(s.LockedUntil)
	return &cp
}

// CreateSchedule persists a new schedule. Names are unique per tenant.
func (m *Store) CreateSchedule(_ context.Context, s *trigger.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cur := range m.schedules {
		if cur.TenantID == s.TenantID && cur.Name == s.Name {
			return cadence.ErrDuplicateKey
		}
	}
	m.schedules[s.ID.String()] = cloneSchedule(s)
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (m *Store) GetSchedule(_ context.Context, scheduleID id.ID) (*trigger.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok {
		return nil, cadence.NotFound("schedule", scheduleID.String())
	}
	return cloneSchedule(s), nil
}

// ListSchedules returns schedules matching opts ordered by name.
func (m *Store) ListSchedules(_ context.Context, opts trigger.ListOpts) ([]*trigger.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*trigger.Schedule
	for _, s := range m.schedules {
		if opts.Tenant != "" && s.TenantID != opts.Tenant {
			continue
		}
		if opts.JobKey != "" && s.JobKey != opts.JobKey {
			continue
		}
		out = append(out, cloneSchedule(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, opts.Limit, opts.Offset), nil
}

// ListDueSchedules returns enabled schedules due at now, earliest first.
func (m *Store) ListDueSchedules(_ context.Context, now time.Time, limit int) ([]*trigger.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*trigger.Schedule
	for _, s := range m.schedules {
		if s.Enabled && s.NextRunAt != nil && !s.NextRunAt.After(now) {
			out = append(out, cloneSchedule(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(*out[j].NextRunAt) })
	return page(out, limit, 0), nil
}

// UpdateSchedule replaces a schedule under a version check.
func (m *Store) UpdateSchedule(_ context.Context, s *trigger.Schedule, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.schedules[s.ID.String()]
	if !ok {
		return cadence.NotFound("schedule", s.ID.String())
	}
	if cur.Version != expectedVersion {
		return cadence.ErrVersionConflict
	}
	next := cloneSchedule(s)
	next.LockedBy, next.LockedUntil = cur.LockedBy, cloneTime(cur.LockedUntil)
	m.schedules[s.ID.String()] = next
	return nil
}

// AdvanceSchedule records a firing.
func (m *Store) AdvanceSchedule(_ context.Context, scheduleID id.ID, lastRunAt, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok {
		return cadence.NotFound("schedule", scheduleID.String())
	}
	s.LastRunAt = &lastRunAt
	s.NextRunAt = &nextRunAt
	s.UpdatedAt = m.now().UTC()
	return nil
}

// AcquireScheduleLock takes the per-schedule lock for nodeID.
func (m *Store) AcquireScheduleLock(_ context.Context, scheduleID id.ID, nodeID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok {
		return false, cadence.NotFound("schedule", scheduleID.String())
	}
	now := m.now()
	if s.LockedBy != "" && s.LockedBy != nodeID && s.LockedUntil != nil && s.LockedUntil.After(now) {
		return false, nil
	}
	until := now.Add(ttl)
	s.LockedBy = nodeID
	s.LockedUntil = &until
	return true, nil
}

// ReleaseScheduleLock releases a lock held by nodeID.
func (m *Store) ReleaseScheduleLock(_ context.Context, scheduleID id.ID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok {
		return cadence.NotFound("schedule", scheduleID.String())
	}
	if s.LockedBy == nodeID {
		s.LockedBy = ""
		s.LockedUntil = nil
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (m *Store) DeleteSchedule(_ context.Context, scheduleID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[scheduleID.String()]; !ok {
		return cadence.NotFound("schedule", scheduleID.String())
	}
	delete(m.schedules, scheduleID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

func cloneEvent(e *event.Event) *event.Event {
	cp := *e
	cp.Payload = slices.Clone(e.Payload)
	cp.AckedAt = cloneTime(e.AckedAt)
	return &cp
}

// appendEvent adds an event to the outbox. Caller holds m.mu.
func (m *Store) appendEvent(e *event.Event) {
	m.eventIdx[e.ID.String()] = len(m.events)
	m.events = append(m.events, cloneEvent(e))
}

// PublishEvent persists a standalone event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.eventIdx[evt.ID.String()]; exists {
		return cadence.ErrDuplicateKey
	}
	m.appendEvent(evt)
	return nil
}

// ListUnacked returns undelivered events in insertion order.
func (m *Store) ListUnacked(_ context.Context, limit int) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*event.Event
	for _, e := range m.events {
		if e.Acked || e.Parked {
			continue
		}
		out = append(out, cloneEvent(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AckEvent marks an event delivered.
func (m *Store) AckEvent(_ context.Context, eventID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.eventIdx[eventID.String()]
	if !ok {
		return cadence.NotFound("event", eventID.String())
	}
	now := m.now().UTC()
	m.events[i].Acked = true
	m.events[i].AckedAt = &now
	return nil
}

// RecordAttempt counts a failed delivery.
func (m *Store) RecordAttempt(_ context.Context, eventID id.ID, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.eventIdx[eventID.String()]
	if !ok {
		return cadence.NotFound("event", eventID.String())
	}
	m.events[i].Attempts++
	m.events[i].LastError = lastErr
	return nil
}

// ParkEvent counts a final failed delivery and parks the event.
func (m *Store) ParkEvent(_ context.Context, eventID id.ID, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.eventIdx[eventID.String()]
	if !ok {
		return cadence.NotFound("event", eventID.String())
	}
	m.events[i].Attempts++
	m.events[i].LastError = lastErr
	m.events[i].Parked = true
	return nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a worker.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workers[w.ID.String()]; exists {
		return cadence.ErrDuplicateKey
	}
	m.workers[w.ID.String()] = w.Clone()
	return nil
}

// GetWorker retrieves a worker by ID.
func (m *Store) GetWorker(_ context.Context, workerID id.ID) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return nil, cadence.NotFound("worker", workerID.String())
	}
	return w.Clone(), nil
}

// HeartbeatWorker records a heartbeat and optional status change.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.ID, status cluster.Status, at time.Time) (*cluster.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return nil, cadence.NotFound("worker", workerID.String())
	}
	w.HeartbeatAt = at
	switch {
	case status != "":
		w.Status = status
	case w.Status == cluster.StatusOffline:
		w.Status = cluster.StatusOnline
	}
	w.Touch(at)
	return w.Clone(), nil
}

// ListWorkers returns workers matching opts ordered by name.
func (m *Store) ListWorkers(_ context.Context, opts cluster.ListOpts) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*cluster.Worker
	for _, w := range m.workers {
		if opts.Tenant != "" && w.TenantID != opts.Tenant {
			continue
		}
		if opts.Status != "" && w.Status != opts.Status {
			continue
		}
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.Compare(out[j].ID) < 0
	})
	return page(out, opts.Limit, opts.Offset), nil
}

// ListStaleWorkers returns live workers silent since before.
func (m *Store) ListStaleWorkers(_ context.Context, before time.Time) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*cluster.Worker
	for _, w := range m.workers {
		if w.Status != cluster.StatusOffline && w.HeartbeatAt.Before(before) {
			out = append(out, w.Clone())
		}
	}
	return out, nil
}

// MarkWorkerOffline sets a stale worker offline and records evt.
func (m *Store) MarkWorkerOffline(_ context.Context, workerID id.ID, before time.Time, evt *event.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return false, cadence.NotFound("worker", workerID.String())
	}
	if w.Status == cluster.StatusOffline || !w.HeartbeatAt.Before(before) {
		return false, nil
	}
	w.Status = cluster.StatusOffline
	w.Touch(m.now().UTC())
	if evt != nil {
		m.appendEvent(evt)
	}
	return true, nil
}

// DeregisterWorker removes a worker.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[workerID.String()]; !ok {
		return cadence.NotFound("worker", workerID.String())
	}
	delete(m.workers, workerID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Leadership
// ──────────────────────────────────────────────────

// AcquireLeadership makes nodeID leader if the lease is free or expired.
func (m *Store) AcquireLeadership(_ context.Context, nodeID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.leader != "" && m.leader != nodeID && m.leaderUntil.After(now) {
		return false, nil
	}
	m.leader = nodeID
	m.leaderUntil = now.Add(ttl)
	return true, nil
}

// RenewLeadership extends nodeID's lease if it still holds it.
func (m *Store) RenewLeadership(_ context.Context, nodeID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.leader != nodeID || !m.leaderUntil.After(now) {
		return false, nil
	}
	m.leaderUntil = now.Add(ttl)
	return true, nil
}

// GetLeader returns the current leader, or "" if the lease expired.
func (m *Store) GetLeader(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || !m.leaderUntil.After(m.now()) {
		return "", nil
	}
	return m.leader, nil
}
