package api

import (
	"net/http"

	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/trigger"
)

// ScheduleRequest is the body of schedule create and update.
type ScheduleRequest struct {
	Name        string             `json:"name"`
	JobKey      string             `json:"job_key"`
	Expr        string             `json:"expr"`
	Timezone    string             `json:"timezone,omitempty"`
	CalendarKey string             `json:"calendar_key,omitempty"`
	Roll        trigger.RollPolicy `json:"roll,omitempty"`
	Payload     []byte             `json:"payload,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"`
}

func (req ScheduleRequest) toSchedule() *trigger.Schedule {
	s := &trigger.Schedule{
		Name:        req.Name,
		JobKey:      req.JobKey,
		Expr:        req.Expr,
		Timezone:    req.Timezone,
		CalendarKey: req.CalendarKey,
		Roll:        req.Roll,
		Payload:     req.Payload,
		Enabled:     true,
	}
	if req.Enabled != nil {
		s.Enabled = *req.Enabled
	}
	return s
}

func (a *API) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.eng.Trigger().CreateSchedule(r.Context(), req.toSchedule())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *API) listSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	scheds, err := a.eng.Trigger().ListSchedules(r.Context(), trigger.ListOpts{
		JobKey: r.URL.Query().Get("job_key"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(scheds, limit, offset))
}

func (a *API) getSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := pathID(r, "scheduleId", id.PrefixSchedule)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.eng.Trigger().GetSchedule(r.Context(), scheduleID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) updateSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := pathID(r, "scheduleId", id.PrefixSchedule)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req ScheduleRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.eng.Trigger().UpdateSchedule(r.Context(), scheduleID, *req.toSchedule())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := pathID(r, "scheduleId", id.PrefixSchedule)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.eng.Trigger().DeleteSchedule(r.Context(), scheduleID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) enableSchedule(w http.ResponseWriter, r *http.Request) {
	a.setScheduleEnabled(w, r, true)
}

func (a *API) disableSchedule(w http.ResponseWriter, r *http.Request) {
	a.setScheduleEnabled(w, r, false)
}

func (a *API) setScheduleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	scheduleID, err := pathID(r, "scheduleId", id.PrefixSchedule)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.eng.Trigger().SetScheduleEnabled(r.Context(), scheduleID, enabled)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
