// Package api exposes the scheduler's management and worker operations
// over HTTP. Routes are registered on a gorilla/mux router; the tenant of
// every request comes from the X-Tenant-ID header.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xraph/cadence/engine"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API from a cadence Engine.
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger}
}

// Handler returns a router with every route and the request middleware.
func (a *API) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(a.logRequests, tenantMiddleware)
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes adds every route to router.
func (a *API) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", a.health).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	a.registerJobRoutes(v1)
	a.registerCalendarRoutes(v1)
	a.registerScheduleRoutes(v1)
	a.registerWorkerRoutes(v1)
	a.registerRunRoutes(v1)
	a.registerStatsRoutes(v1)
}

func (a *API) registerJobRoutes(r *mux.Router) {
	r.HandleFunc("/jobs", a.createJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs", a.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{jobId}", a.getJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{jobId}", a.updateJob).Methods(http.MethodPatch)
	r.HandleFunc("/jobs/{jobId}/disable", a.disableJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobId}/enable", a.enableJob).Methods(http.MethodPost)
}

func (a *API) registerCalendarRoutes(r *mux.Router) {
	r.HandleFunc("/calendars", a.createCalendar).Methods(http.MethodPost)
	r.HandleFunc("/calendars", a.listCalendars).Methods(http.MethodGet)
	r.HandleFunc("/calendars/{key}", a.getCalendar).Methods(http.MethodGet)
	r.HandleFunc("/calendars/{key}", a.updateCalendar).Methods(http.MethodPut)
	r.HandleFunc("/calendars/{key}", a.deleteCalendar).Methods(http.MethodDelete)
	r.HandleFunc("/calendars/{key}/business-day", a.checkBusinessDay).Methods(http.MethodGet)
}

func (a *API) registerScheduleRoutes(r *mux.Router) {
	r.HandleFunc("/schedules", a.createSchedule).Methods(http.MethodPost)
	r.HandleFunc("/schedules", a.listSchedules).Methods(http.MethodGet)
	r.HandleFunc("/schedules/{scheduleId}", a.getSchedule).Methods(http.MethodGet)
	r.HandleFunc("/schedules/{scheduleId}", a.updateSchedule).Methods(http.MethodPut)
	r.HandleFunc("/schedules/{scheduleId}", a.deleteSchedule).Methods(http.MethodDelete)
	r.HandleFunc("/schedules/{scheduleId}/enable", a.enableSchedule).Methods(http.MethodPost)
	r.HandleFunc("/schedules/{scheduleId}/disable", a.disableSchedule).Methods(http.MethodPost)
}

func (a *API) registerWorkerRoutes(r *mux.Router) {
	r.HandleFunc("/workers", a.registerWorker).Methods(http.MethodPost)
	r.HandleFunc("/workers", a.listWorkers).Methods(http.MethodGet)
	r.HandleFunc("/workers/{workerId}", a.getWorker).Methods(http.MethodGet)
	r.HandleFunc("/workers/{workerId}", a.deregisterWorker).Methods(http.MethodDelete)
	r.HandleFunc("/workers/{workerId}/heartbeat", a.heartbeat).Methods(http.MethodPost)
	r.HandleFunc("/workers/{workerId}/claim", a.claim).Methods(http.MethodPost)
}

func (a *API) registerRunRoutes(r *mux.Router) {
	r.HandleFunc("/runs", a.submitRun).Methods(http.MethodPost)
	r.HandleFunc("/runs", a.listRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs/{runId}", a.getRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{runId}/complete", a.completeRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{runId}/fail", a.failRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{runId}/retry", a.retryRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{runId}/cancel", a.cancelRun).Methods(http.MethodPost)
}

func (a *API) registerStatsRoutes(r *mux.Router) {
	r.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
	Leader bool   `json:"leader"`
	Error  string `json:"error,omitempty"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", NodeID: a.eng.NodeID(), Leader: a.eng.IsLeader()}
	if err := a.eng.Health(r.Context()); err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		a.logger.Debug("request processed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
