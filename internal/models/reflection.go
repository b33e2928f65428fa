package models

import "encoding/json"

// ReflectionEntry is a backend-emitted, per-stage annotation describing
// cost, cache behavior, and suggested follow-up actions. The sequence for
// the current run is replaced wholesale on each poll, never merged.
type ReflectionEntry struct {
	Stage       string       `json:"stage"`
	CostUSD     float64      `json:"cost_usd"`
	Tokens      int          `json:"tokens"`
	CacheHit    bool         `json:"cache_hit"`
	Blocked     bool         `json:"blocked"`
	RationaleMD string       `json:"rationale_md"`
	NextActions []NextAction `json:"next_actions"`
}

// NextAction is a follow-up suggested by a reflection. Action IDs follow
// the "run-<preset>" convention so a completed stage can chain into the
// next pipeline run.
type NextAction struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	ETAMinutes int    `json:"eta_min,omitempty"`
}

// ReflectionsFrom extracts the reflection sequence carried by a status
// payload, looking at the top level first and then under the nested job
// object. The second return value reports whether the payload carried a
// reflections field at all; absence means "keep what you have", not
// "clear".
func ReflectionsFrom(payload StatusPayload) ([]ReflectionEntry, bool) {
	raw, ok := payload["reflections"]
	if !ok {
		if job, hasJob := payload.Job(); hasJob {
			raw, ok = job["reflections"]
		}
	}
	if !ok {
		return nil, false
	}

	// The payload is decoded as generic JSON, so round-trip the field
	// through the marshaller to get typed entries.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var entries []ReflectionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false
	}
	return entries, true
}
