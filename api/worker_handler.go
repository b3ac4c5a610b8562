package api

import (
	"net/http"

	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/run"
)

// ClaimRequest asks for up to Limit runs. Zero means the worker's free
// capacity.
type ClaimRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ClaimResponse carries the runs now held by the worker.
type ClaimResponse struct {
	Runs []*run.Run `json:"runs"`
}

func (a *API) registerWorker(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	wk, err := a.eng.RegisterWorker(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wk)
}

func (a *API) listWorkers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	workers, err := a.eng.ListWorkers(r.Context(), cluster.ListOpts{
		Status: cluster.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(workers, limit, offset))
}

func (a *API) getWorker(w http.ResponseWriter, r *http.Request) {
	workerID, err := pathID(r, "workerId", id.PrefixWorker)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	wk, err := a.eng.GetWorker(r.Context(), workerID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wk)
}

func (a *API) deregisterWorker(w http.ResponseWriter, r *http.Request) {
	workerID, err := pathID(r, "workerId", id.PrefixWorker)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.eng.DeregisterWorker(r.Context(), workerID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) heartbeat(w http.ResponseWriter, r *http.Request) {
	workerID, err := pathID(r, "workerId", id.PrefixWorker)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req cluster.HeartbeatRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.eng.Heartbeat(r.Context(), workerID, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) claim(w http.ResponseWriter, r *http.Request) {
	workerID, err := pathID(r, "workerId", id.PrefixWorker)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req ClaimRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	runs, err := a.eng.Claim(r.Context(), workerID, req.Limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*run.Run{}
	}
	writeJSON(w, http.StatusOK, ClaimResponse{Runs: runs})
}
