// Package middleware implements the request authorization pipeline:
// rate limiting, tenant context resolution, token verification, and the
// tenant/module/permission guard chain.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// apiError is the machine-parseable rejection body shared by every pipeline
// stage. Blocked responses additionally carry RetryAfter in seconds.
type apiError struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func reject(w http.ResponseWriter, status int, message string) {
	writeAPIError(w, apiError{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}
