// Package runner implements the remote pipeline-run client: the HTTP
// contract with the backend, the polling controller, the run lifecycle
// orchestrator, and reflection-driven job chaining.
package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrRunActive is returned when an operation would start a second run
// while one is already being submitted or polled.
var ErrRunActive = errors.New("a run is already active")

// ErrInvalidTransition is returned when an operation is not valid from
// the current phase.
var ErrInvalidTransition = errors.New("operation not valid in current phase")

// APIError represents a non-2xx response from the pipeline backend
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pipeline API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// ExtractErrorMessage pulls a human-readable reason out of an error
// response body. JSON detail/error/message fields are tried in that
// priority order, then the raw body text, then the HTTP status.
func ExtractErrorMessage(body []byte, statusCode int) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" {
		var parsed map[string]interface{}
		if err := json.Unmarshal(body, &parsed); err == nil {
			for _, key := range []string{"detail", "error", "message"} {
				if val, ok := parsed[key]; ok {
					if msg, ok := val.(string); ok && msg != "" {
						return msg
					}
				}
			}
		}
		return trimmed
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}
