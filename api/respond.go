package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/scope"
)

// TenantHeader carries the tenant of a request.
const TenantHeader = "X-Tenant-ID"

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := scope.WithTenant(r.Context(), r.Header.Get(TenantHeader))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	ExistingID string `json:"existing_id,omitempty"`
}

// Page is the envelope of list responses.
type Page[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newPage[T any](items []T, limit, offset int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Limit: limit, Offset: offset}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case cadence.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case cadence.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case cadence.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, cadence.ErrInvalidState),
		errors.Is(err, cadence.ErrAlreadyTerminal),
		errors.Is(err, cadence.ErrNotRetryable),
		errors.Is(err, cadence.ErrJobDisabled),
		errors.Is(err, cadence.ErrWorkerUnavailable),
		errors.Is(err, cadence.ErrWorkerAtCapacity):
		return http.StatusConflict, "invalid_state"
	}
	return http.StatusInternalServerError, "internal"
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var ce *cadence.ConflictError
	if errors.As(err, &ce) && !ce.ExistingID.IsNil() {
		resp.ExistingID = ce.ExistingID.String()
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return cadence.Invalid("body", "malformed JSON: %v", err)
	}
	return nil
}

// pageParams reads limit and offset, applying the default and cap.
func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = defaultPageLimit
	if s := q.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 1 {
			return 0, 0, cadence.Invalid("limit", "must be a positive integer")
		}
		limit = min(limit, maxPageLimit)
	}
	if s := q.Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return 0, 0, cadence.Invalid("offset", "must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// pathID parses a path variable as an ID with the given prefix.
func pathID(r *http.Request, name string, prefix id.Prefix) (id.ID, error) {
	raw := mux.Vars(r)[name]
	parsed, err := id.ParseWithPrefix(raw, prefix)
	if err != nil {
		return id.Nil, cadence.Invalid(name, "%v", err)
	}
	return parsed, nil
}

// queryID parses an optional ID query parameter.
func queryID(r *http.Request, name string, prefix id.Prefix) (id.ID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return id.Nil, nil
	}
	parsed, err := id.ParseWithPrefix(raw, prefix)
	if err != nil {
		return id.Nil, cadence.Invalid(name, "%v", err)
	}
	return parsed, nil
}
