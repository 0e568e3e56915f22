package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Error bodies sent to clients.
const (
	msgInvalidJSON   = "Invalid JSON"
	msgMissingFields = "missing fields"
	msgInvalidFields = "invalid fields"
	msgNotFound      = "Not Found"
	msgRateLimited   = "rate limit exceeded"
	msgInternal      = "Internal Server Error"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", applog.FieldError, err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// errorStatus maps a service error to its status code and client message.
// Anything unknown is a storage fault.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, core.ErrInvalidBody):
		return http.StatusBadRequest, msgInvalidJSON, applog.ErrorTypeValidation
	case errors.Is(err, core.ErrMissingFields):
		return http.StatusBadRequest, msgMissingFields, applog.ErrorTypeValidation
	case errors.Is(err, core.ErrInvalidField):
		return http.StatusBadRequest, msgInvalidFields, applog.ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, msgNotFound, applog.ErrorTypeNotFound
	default:
		return http.StatusInternalServerError, msgInternal, applog.ErrorTypeStorage
	}
}

// writeError logs err with the request logger and sends the mapped error body.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg, errType := errorStatus(err)

	fields := applog.NewFields().WithOperation(op).WithError(err, errType)
	logger := applog.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", fields.ToSlice()...)
	} else {
		logger.DebugContext(r.Context(), "Request rejected", fields.ToSlice()...)
	}

	writeErrorMessage(w, status, msg)
}
