package api

import (
	"net/http"
	"strconv"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

// CreateJobRequest declares a job. Omitted policy fields take the
// defaults of job.DefaultPolicy; Enabled defaults to true.
type CreateJobRequest struct {
	Key              string       `json:"key"`
	Description      string       `json:"description,omitempty"`
	Queue            string       `json:"queue,omitempty"`
	Priority         int          `json:"priority,omitempty"`
	MaxAttempts      int          `json:"max_attempts,omitempty"`
	Backoff          *job.Backoff `json:"backoff,omitempty"`
	TimeoutSec       int          `json:"timeout_sec,omitempty"`
	ConcurrencyLimit int          `json:"concurrency_limit,omitempty"`
	SLASec           int          `json:"sla_sec,omitempty"`
	DedupeWindowSec  int          `json:"dedupe_window_sec,omitempty"`
	Enabled          *bool        `json:"enabled,omitempty"`
}

func (req CreateJobRequest) toJob() *job.Job {
	j := job.New(req.Key)
	j.Description = req.Description
	if req.Queue != "" {
		j.Queue = req.Queue
	}
	if req.Priority != 0 {
		j.Priority = req.Priority
	}
	if req.MaxAttempts != 0 {
		j.MaxAttempts = req.MaxAttempts
	}
	if req.Backoff != nil {
		j.Backoff = *req.Backoff
	}
	if req.TimeoutSec != 0 {
		j.TimeoutSec = req.TimeoutSec
	}
	j.ConcurrencyLimit = req.ConcurrencyLimit
	j.SLASec = req.SLASec
	j.DedupeWindowSec = req.DedupeWindowSec
	if req.Enabled != nil {
		j.Enabled = *req.Enabled
	}
	return j
}

// UpdateJobRequest patches a job. A non-zero ExpectedVersion makes the
// update conditional.
type UpdateJobRequest struct {
	job.Patch
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	j, err := a.eng.Jobs().Create(r.Context(), req.toJob())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	opts := job.ListOpts{Limit: limit, Offset: offset, Queue: q.Get("queue"), Key: q.Get("key")}
	if s := q.Get("enabled"); s != "" {
		enabled, perr := strconv.ParseBool(s)
		if perr != nil {
			a.writeError(w, r, cadence.Invalid("enabled", "must be a boolean"))
			return
		}
		opts.Enabled = &enabled
	}
	jobs, err := a.eng.Jobs().List(r.Context(), opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(jobs, limit, offset))
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobId", id.PrefixJob)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	j, err := a.eng.Jobs().Get(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) updateJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobId", id.PrefixJob)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req UpdateJobRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	j, err := a.eng.Jobs().Update(r.Context(), jobID, req.Patch, req.ExpectedVersion)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) disableJob(w http.ResponseWriter, r *http.Request) {
	a.setJobEnabled(w, r, false)
}

func (a *API) enableJob(w http.ResponseWriter, r *http.Request) {
	a.setJobEnabled(w, r, true)
}

func (a *API) setJobEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	jobID, err := pathID(r, "jobId", id.PrefixJob)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var j *job.Job
	if enabled {
		j, err = a.eng.Jobs().Enable(r.Context(), jobID)
	} else {
		j, err = a.eng.Jobs().Disable(r.Context(), jobID)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}
