package cluster

import (
	"slices"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
)

// Status represents the availability of a worker.
type Status string

const (
	// StatusOnline means the worker heartbeats and accepts runs.
	StatusOnline Status = "online"
	// StatusOffline means the worker stopped heartbeating or shut down.
	StatusOffline Status = "offline"
	// StatusMaintenance means the worker heartbeats but takes no new runs.
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOnline || s == StatusOffline || s == StatusMaintenance
}

// AnyJob in JobKeys accepts every job of the worker's queues. An empty
// JobKeys list means the same.
const AnyJob = "*"

// Capabilities are the queues and job keys a worker can execute.
type Capabilities struct {
	Queues  []string `json:"queues"`
	JobKeys []string `json:"job_keys,omitempty"`
}

// Accepts reports whether a run of jobKey on queue may go to the worker.
func (c Capabilities) Accepts(queue, jobKey string) bool {
	if !slices.Contains(c.Queues, queue) {
		return false
	}
	return len(c.JobKeys) == 0 || slices.Contains(c.JobKeys, AnyJob) || slices.Contains(c.JobKeys, jobKey)
}

// Worker is a registered execution agent.
type Worker struct {
	cadence.Entity

	ID           id.ID             `json:"id"`
	Name         string            `json:"name"`
	Hostname     string            `json:"hostname,omitempty"`
	Capabilities Capabilities      `json:"capabilities"`
	Status       Status            `json:"status"`
	MaxParallel  int               `json:"max_parallel"`
	CurrentJobs  int               `json:"current_jobs"`
	HeartbeatAt  time.Time         `json:"heartbeat_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate checks registration fields.
func (w *Worker) Validate() error {
	switch {
	case w.Name == "":
		return cadence.Invalid("name", "must not be empty")
	case len(w.Capabilities.Queues) == 0:
		return cadence.Invalid("capabilities.queues", "at least one queue is required")
	case slices.Contains(w.Capabilities.Queues, ""):
		return cadence.Invalid("capabilities.queues", "queue names must not be empty")
	case w.MaxParallel < 1:
		return cadence.Invalid("max_parallel", "must be at least 1, got %d", w.MaxParallel)
	}
	return nil
}

// HasCapacity reports whether the worker is online with a free slot.
func (w *Worker) HasCapacity() bool {
	return w.Status == StatusOnline && w.CurrentJobs < w.MaxParallel
}

// FreeSlots returns how many more runs the worker can take.
func (w *Worker) FreeSlots() int {
	if w.Status != StatusOnline {
		return 0
	}
	return max(w.MaxParallel-w.CurrentJobs, 0)
}

// Clone returns a deep copy.
func (w *Worker) Clone() *Worker {
	cp := *w
	cp.Capabilities.Queues = slices.Clone(w.Capabilities.Queues)
	cp.Capabilities.JobKeys = slices.Clone(w.Capabilities.JobKeys)
	if w.Metadata != nil {
		cp.Metadata = make(map[string]string, len(w.Metadata))
		for k, v := range w.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
