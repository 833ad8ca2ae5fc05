package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mailmerge/mailmerge/internal/auth"
	"github.com/mailmerge/mailmerge/internal/middleware"
	"github.com/mailmerge/mailmerge/internal/service"
	"github.com/mailmerge/mailmerge/internal/sheet"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// writeServiceError maps domain errors onto HTTP responses
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrDispatchInProgress):
		writeError(w, http.StatusConflict, "dispatch_in_progress", err.Error())
	case errors.Is(err, service.ErrNotIdle):
		writeError(w, http.StatusConflict, "not_idle", err.Error())
	case errors.Is(err, service.ErrNoRows):
		writeError(w, http.StatusBadRequest, "no_rows", err.Error())
	case errors.Is(err, service.ErrNoExport):
		writeError(w, http.StatusNotFound, "no_export", err.Error())
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not_authenticated", err.Error())
	case errors.Is(err, sheet.ErrUnsupportedFormat), errors.Is(err, sheet.ErrEmptyTable):
		writeError(w, http.StatusBadRequest, "invalid_file", err.Error())
	default:
		h.log.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}
