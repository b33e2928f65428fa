package interfaces

import (
	"context"

	"github.com/ternarybob/cursus/internal/models"
)

// RunOrchestrator drives the lifecycle of the single tracked pipeline run:
// submission, polling, terminal classification, cancellation and reset.
// Exactly one run is active per orchestrator instance at a time.
type RunOrchestrator interface {
	// Start submits a run. Valid only from idle or a terminal phase;
	// re-entrant starts are rejected to prevent duplicate runs.
	Start(ctx context.Context, raw map[string]interface{}) error

	// Cancel stops polling, issues a best-effort backend abort, and
	// transitions locally to cancelled. Valid only while active.
	Cancel(ctx context.Context) error

	// ChangeDetailLevel restarts polling against the same locator with a
	// new detail level, preserving run identity and stage progress.
	ChangeDetailLevel(level models.DetailLevel) error

	// Reset returns a terminal orchestrator to idle. Run metadata is kept
	// for audit display until the next Start overwrites it.
	Reset() error

	// Phase returns the current lifecycle phase
	Phase() models.Phase

	// Meta returns a copy of the current run's observability record
	Meta() models.RunMeta

	// Reflections returns the reflection sequence from the latest poll
	Reflections() []models.ReflectionEntry
}
