package models

import (
	"encoding/json"
	"fmt"
)

// JobRequest is the sanitized configuration mapping submitted to the
// backend pipeline runner. Once built it must not be modified.
type JobRequest map[string]interface{}

// allowedRequestKeys is the fixed allow-list of recognized configuration
// keys. Anything else supplied by a caller is dropped during sanitization.
var allowedRequestKeys = map[string]struct{}{
	"preset":   {},
	"commit":   {},
	"params":   {},
	"stages":   {},
	"tags":     {},
	"priority": {},
	"notes":    {},
}

// SanitizeRequest builds an immutable JobRequest from caller-supplied
// configuration. Unrecognized keys are dropped and the commit flag
// defaults to true when absent.
func SanitizeRequest(raw map[string]interface{}) JobRequest {
	req := make(JobRequest, len(raw)+1)
	for key, value := range raw {
		if _, ok := allowedRequestKeys[key]; ok {
			req[key] = value
		}
	}
	if _, ok := req["commit"]; !ok {
		req["commit"] = true
	}
	return req
}

// NewPresetRequest builds a request that runs a named pipeline preset
func NewPresetRequest(preset string) JobRequest {
	return SanitizeRequest(map[string]interface{}{"preset": preset})
}

// Commit reports the commit flag of the request
func (r JobRequest) Commit() bool {
	if val, ok := r["commit"]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return true
}

// Preset returns the preset name or empty string if not set
func (r JobRequest) Preset() string {
	if val, ok := r["preset"]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// ToJSON serializes the request for submission
func (r JobRequest) ToJSON() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job request: %w", err)
	}
	return data, nil
}

// Clone creates a shallow copy of the request
func (r JobRequest) Clone() JobRequest {
	clone := make(JobRequest, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}
