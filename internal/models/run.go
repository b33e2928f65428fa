package models

import "time"

// JobHandle identifies a submitted run and where to poll it.
// Owned exclusively by the orchestrator for the lifetime of one run.
type JobHandle struct {
	ID                 string `json:"id"`
	PollLocator        string `json:"poll_locator"`
	BackendPollLocator string `json:"backend_poll_locator,omitempty"` // Locator the backend returned, empty when derived client-side
}

// RunMeta is the observability record for the current (or most recent) run.
// It is created on submission, mutated in place on terminal and detail-level
// changes, and overwritten wholesale by the next run.
type RunMeta struct {
	ID              string      `json:"id"`
	CorrelationID   string      `json:"correlation_id"` // Client-side id minted before the backend assigns a run id
	PollLocator     string      `json:"poll_locator"`
	OrchestratePath string      `json:"orchestrate_path"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	Status          Phase       `json:"status"`
	DetailLevel     DetailLevel `json:"detail_level"`
}

// MarkFinished stamps the terminal status and finish time
func (m *RunMeta) MarkFinished(status Phase) {
	now := time.Now()
	m.FinishedAt = &now
	m.Status = status
}
