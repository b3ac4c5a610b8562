package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/calendar"
)

// CalendarRequest is the body of calendar create and update.
type CalendarRequest struct {
	Key             string            `json:"key"`
	Name            string            `json:"name,omitempty"`
	Location        string            `json:"location,omitempty"`
	Weekdays        calendar.Weekdays `json:"weekdays"`
	Holidays        []string          `json:"holidays,omitempty"`
	ExpectedVersion int64             `json:"expected_version,omitempty"`
}

func (req CalendarRequest) toCalendar() *calendar.Calendar {
	return &calendar.Calendar{
		Key:      req.Key,
		Name:     req.Name,
		Location: req.Location,
		Weekdays: req.Weekdays,
		Holidays: req.Holidays,
	}
}

// BusinessDayResponse answers GET /v1/calendars/{key}/business-day.
type BusinessDayResponse struct {
	At          time.Time `json:"at"`
	BusinessDay bool      `json:"business_day"`
	Next        time.Time `json:"next"`
}

func (a *API) createCalendar(w http.ResponseWriter, r *http.Request) {
	var req CalendarRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	c, err := a.eng.Calendars().Create(r.Context(), req.toCalendar())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) listCalendars(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	cals, err := a.eng.Calendars().List(r.Context(), calendar.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(cals, limit, offset))
}

func (a *API) getCalendar(w http.ResponseWriter, r *http.Request) {
	c, err := a.eng.Calendars().Get(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) updateCalendar(w http.ResponseWriter, r *http.Request) {
	var req CalendarRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	key := mux.Vars(r)["key"]
	c, err := a.eng.Calendars().Update(r.Context(), key, *req.toCalendar(), req.ExpectedVersion)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteCalendar(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Calendars().Delete(r.Context(), mux.Vars(r)["key"]); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkBusinessDay evaluates the ?at= instant (RFC 3339, default now)
// against a calendar.
func (a *API) checkBusinessDay(w http.ResponseWriter, r *http.Request) {
	at := time.Now().UTC()
	if s := r.URL.Query().Get("at"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			a.writeError(w, r, cadence.Invalid("at", "must be RFC 3339"))
			return
		}
		at = parsed
	}
	key := mux.Vars(r)["key"]
	ok, err := a.eng.Calendars().IsBusinessDay(r.Context(), key, at)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	next, err := a.eng.Calendars().NextBusinessInstant(r.Context(), key, at)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BusinessDayResponse{At: at, BusinessDay: ok, Next: next})
}
