package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"questline/core"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) { writeJSONStatus(w, http.StatusOK, v) }

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}

// classify maps a domain error to its HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrAlreadySpunToday):
		return http.StatusConflict, "already_spun_today"
	case errors.Is(err, core.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence"
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, core.ErrInvalidRule):
		return http.StatusUnprocessableEntity, "invalid_rule"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= 500 {
		a.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeError(w, status, code, msg, nil)
}
