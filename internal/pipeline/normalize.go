package pipeline

import (
	"time"

	"github.com/ternarybob/cursus/internal/models"
)

// NormalizedStatus is the canonical view of one status payload. The
// backend sometimes reports fields at the top level and sometimes nested
// under a "job" object; that ambiguity is resolved here, once, instead of
// at every call site.
type NormalizedStatus struct {
	State      string
	Stage      string
	Reason     string
	FinishedAt *time.Time
}

// Normalize extracts the canonical fields from a heterogeneous status
// payload. It never panics; missing fields normalize to zero values.
func Normalize(payload models.StatusPayload) NormalizedStatus {
	if payload == nil {
		return NormalizedStatus{}
	}

	norm := NormalizedStatus{
		State:      lookupString(payload, "status", "state"),
		Stage:      lookupString(payload, "stage"),
		Reason:     lookupString(payload, "reason", "detail", "message"),
		FinishedAt: lookupTime(payload, "finished_at", "finishedAt"),
	}
	return norm
}

// lookupString checks the payload itself first, then the nested job
// object, returning the first non-empty value among the given keys.
func lookupString(payload models.StatusPayload, keys ...string) string {
	for _, key := range keys {
		if val, ok := payload.GetString(key); ok && val != "" {
			return val
		}
	}
	if job, ok := payload.Job(); ok {
		for _, key := range keys {
			if val, ok := job.GetString(key); ok && val != "" {
				return val
			}
		}
	}
	return ""
}

func lookupTime(payload models.StatusPayload, keys ...string) *time.Time {
	raw := lookupString(payload, keys...)
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &parsed
}
