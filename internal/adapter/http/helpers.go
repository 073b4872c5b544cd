package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeResourceError maps a domain error kind onto an HTTP status. Rate
// limited responses carry a Retry-After header.
func writeResourceError(w http.ResponseWriter, err error) {
	var re *resource.Error
	if !errors.As(err, &re) {
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch re.Kind {
	case resource.KindNotFound, resource.KindUnknownProvider:
		status = http.StatusNotFound
	case resource.KindInvalidURI:
		status = http.StatusBadRequest
	case resource.KindAlreadyRegistered:
		status = http.StatusConflict
	case resource.KindRateLimit:
		status = http.StatusTooManyRequests
		retryAfter := re.RetryAfter
		if retryAfter <= 0 {
			retryAfter = time.Minute
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	case resource.KindAuthFailed:
		status = http.StatusBadGateway
	case resource.KindTimeout:
		status = http.StatusGatewayTimeout
	case resource.KindUnavailable, resource.KindProviderError:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		slog.Error("unhandled domain error", "kind", re.Kind, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeJSON(w, status, errorResponse{Error: re.Error(), Kind: string(re.Kind)})
}
