// Package handler implements the HTTP endpoints of the trade verification
// service.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/linkback/tradeverify/internal/domain"
)

// response is the standard success envelope.
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// errorResponse is the standard error envelope. Messages are generic; full
// detail stays in the logs.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeSuccess wraps the payload in the success envelope.
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, response{Success: true, Data: data})
}

// writeError maps a domain error to its HTTP status and writes a generic
// error body. Unexpected errors become 500 with no internal detail leaked.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
		msg = "invalid request"
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
		msg = "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		msg = "not found"
	case errors.Is(err, domain.ErrAlreadyExists):
		status = http.StatusConflict
		msg = "already exists"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		msg = "conflict"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		msg = "rate limit exceeded"
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
		msg = "upstream error"
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	} else {
		logger.WarnContext(r.Context(), "request rejected",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// decodeJSON parses the request body into v, mapping malformed bodies to a
// validation error.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrValidation
	}
	return nil
}
