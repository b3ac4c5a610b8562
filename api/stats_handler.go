package api

import (
	"net/http"
	"slices"

	"github.com/xraph/cadence/cluster"
)

// StatsResponse summarizes the context tenant's worker pool and the
// dispatch backlog this node has cached per queue.
type StatsResponse struct {
	NodeID  string                 `json:"node_id"`
	Leader  bool                   `json:"leader"`
	Workers map[cluster.Status]int `json:"workers"`
	Running int                    `json:"running"`
	Queues  map[string]int         `json:"queues"`
	// Totals counts events this node delivered since it started.
	Totals map[string]float64 `json:"totals"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	workers, err := a.eng.ListWorkers(r.Context(), cluster.ListOpts{})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := StatsResponse{
		NodeID:  a.eng.NodeID(),
		Leader:  a.eng.IsLeader(),
		Workers: make(map[cluster.Status]int),
		Queues:  make(map[string]int),
		Totals:  a.eng.Counters().Snapshot(),
	}
	var queues []string
	for _, wk := range workers {
		resp.Workers[wk.Status]++
		resp.Running += wk.CurrentJobs
		queues = append(queues, wk.Capabilities.Queues...)
	}
	slices.Sort(queues)
	for _, q := range slices.Compact(queues) {
		resp.Queues[q] = a.eng.Dispatcher().Depth(q)
	}
	writeJSON(w, http.StatusOK, resp)
}
