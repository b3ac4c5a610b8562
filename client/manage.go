package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/cadence/api"
	"github.com/xraph/cadence/calendar"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

// CreateJob declares a job.
func (c *Client) CreateJob(ctx context.Context, req api.CreateJobRequest) (*job.Job, error) {
	var out job.Job
	if _, err := c.do(ctx, call{method: http.MethodPost, path: "/v1/jobs", body: req, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob returns a job.
func (c *Client) GetJob(ctx context.Context, jobID id.ID) (*job.Job, error) {
	var out job.Job
	if _, err := c.do(ctx, call{method: http.MethodGet, path: "/v1/jobs/" + jobID.String(), out: &out, idempotent: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateJob patches a job. A non-zero expectedVersion makes it conditional.
func (c *Client) UpdateJob(ctx context.Context, jobID id.ID, patch job.Patch, expectedVersion int64) (*job.Job, error) {
	var out job.Job
	_, err := c.do(ctx, call{
		method: http.MethodPatch,
		path:   "/v1/jobs/" + jobID.String(),
		body:   api.UpdateJobRequest{Patch: patch, ExpectedVersion: expectedVersion},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetJobEnabled enables or disables a job.
func (c *Client) SetJobEnabled(ctx context.Context, jobID id.ID, enabled bool) (*job.Job, error) {
	action := "/disable"
	if enabled {
		action = "/enable"
	}
	var out job.Job
	if _, err := c.do(ctx, call{method: http.MethodPost, path: "/v1/jobs/" + jobID.String() + action, out: &out, idempotent: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

// ──────────────────────────────────────────────────
// Calendars and schedules
// ──────────────────────────────────────────────────

// CreateCalendar declares a business calendar.
func (c *Client) CreateCalendar(ctx context.Context, req api.CalendarRequest) (*calendar.Calendar, error) {
	var out calendar.Calendar
	if _, err := c.do(ctx, call{method: http.MethodPost, path: "/v1/calendars", body: req, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSchedule declares a recurrence for a job.
func (c *Client) CreateSchedule(ctx context.Context, req api.ScheduleRequest) (*trigger.Schedule, error) {
	var out trigger.Schedule
	if _, err := c.do(ctx, call{method: http.MethodPost, path: "/v1/schedules", body: req, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// Submit requests an on-demand run. When the scheduler rejects a
// duplicate, the error matches cadence.ErrConflict and the result holds
// the ID of the active run.
func (c *Client) Submit(ctx context.Context, req trigger.SubmitRequest) (*trigger.SubmitResult, error) {
	var out trigger.SubmitResult
	_, err := c.do(ctx, call{method: http.MethodPost, path: "/v1/runs", body: req, out: &out})
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.ExistingID != "" {
		existing, perr := id.ParseRunID(apiErr.ExistingID)
		if perr == nil {
			return &trigger.SubmitResult{Run: &run.Run{ID: existing}}, err
		}
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun returns a run.
func (c *Client) GetRun(ctx context.Context, runID id.ID) (*run.Run, error) {
	var out run.Run
	if _, err := c.do(ctx, call{method: http.MethodGet, path: "/v1/runs/" + runID.String(), out: &out, idempotent: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns returns runs matching opts. Tenant in opts is ignored; the
// request tenant applies.
func (c *Client) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	q := pageQuery(opts.Limit, opts.Offset)
	for k, v := range map[string]string{
		"queue":      opts.Queue,
		"status":     string(opts.Status),
		"dedupe_key": opts.DedupeKey,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	for k, v := range map[string]id.ID{
		"job_id":    opts.JobID,
		"root_id":   opts.RootID,
		"worker_id": opts.WorkerID,
	} {
		if !v.IsNil() {
			q.Set(k, v.String())
		}
	}
	var out api.Page[*run.Run]
	if _, err := c.do(ctx, call{method: http.MethodGet, path: "/v1/runs", query: q, out: &out, idempotent: true}); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Retry starts a manual retry of a dead, failed or missed run.
func (c *Client) Retry(ctx context.Context, runID id.ID) (*run.Run, error) {
	var out run.Run
	if _, err := c.do(ctx, call{method: http.MethodPost, path: "/v1/runs/" + runID.String() + "/retry", out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel ends an active run as Dead.
func (c *Client) Cancel(ctx context.Context, runID id.ID, reason string) (*run.Run, error) {
	var out run.Run
	_, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/v1/runs/" + runID.String() + "/cancel",
		body:   api.CancelRequest{Reason: reason},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
