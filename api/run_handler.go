package api

import (
	"net/http"

	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

// ReportRequest is the body of a worker's complete or fail report.
type ReportRequest struct {
	WorkerID id.ID  `json:"worker_id"`
	Error    string `json:"error,omitempty"`
}

// CancelRequest is the body of POST /v1/runs/{runId}/cancel.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (a *API) submitRun(w http.ResponseWriter, r *http.Request) {
	var req trigger.SubmitRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.eng.Submit(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	opts := run.ListOpts{
		Queue:     q.Get("queue"),
		Status:    run.Status(q.Get("status")),
		DedupeKey: q.Get("dedupe_key"),
		Limit:     limit,
		Offset:    offset,
	}
	for _, f := range []struct {
		name   string
		prefix id.Prefix
		dst    *id.ID
	}{
		{"job_id", id.PrefixJob, &opts.JobID},
		{"root_id", id.PrefixRun, &opts.RootID},
		{"worker_id", id.PrefixWorker, &opts.WorkerID},
	} {
		if *f.dst, err = queryID(r, f.name, f.prefix); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	runs, err := a.eng.ListRuns(r.Context(), opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(runs, limit, offset))
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r, "runId", id.PrefixRun)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rn, err := a.eng.GetRun(r.Context(), runID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (a *API) completeRun(w http.ResponseWriter, r *http.Request) {
	runID, req, ok := a.report(w, r)
	if !ok {
		return
	}
	rn, err := a.eng.Complete(r.Context(), runID, req.WorkerID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (a *API) failRun(w http.ResponseWriter, r *http.Request) {
	runID, req, ok := a.report(w, r)
	if !ok {
		return
	}
	res, err := a.eng.Fail(r.Context(), runID, req.WorkerID, req.Error)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) report(w http.ResponseWriter, r *http.Request) (id.ID, ReportRequest, bool) {
	var req ReportRequest
	runID, err := pathID(r, "runId", id.PrefixRun)
	if err == nil {
		err = decode(r, &req)
	}
	if err != nil {
		a.writeError(w, r, err)
		return id.Nil, req, false
	}
	return runID, req, true
}

func (a *API) retryRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r, "runId", id.PrefixRun)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rn, err := a.eng.Retry(r.Context(), runID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rn)
}

func (a *API) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r, "runId", id.PrefixRun)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req CancelRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	rn, err := a.eng.Cancel(r.Context(), runID, req.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}
