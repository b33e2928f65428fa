package models

import "strings"

// Phase represents the client-side lifecycle state of a pipeline run.
// Besides the generic states below, a running job reports stage-derived
// phases created via StagePhase ("stage:smoke", "stage:publish", ...).
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseRunning    Phase = "running"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
	PhaseTimeout    Phase = "timeout"
	PhaseError      Phase = "error"
)

const stagePhasePrefix = "stage:"

// StagePhase returns the phase value for a named pipeline stage
func StagePhase(stage string) Phase {
	return Phase(stagePhasePrefix + strings.ToLower(strings.TrimSpace(stage)))
}

// Stage returns the stage name carried by a stage-derived phase,
// or empty string for generic phases.
func (p Phase) Stage() string {
	if strings.HasPrefix(string(p), stagePhasePrefix) {
		return strings.TrimPrefix(string(p), stagePhasePrefix)
	}
	return ""
}

// IsTerminal returns true if no further polling updates are expected
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseCancelled, PhaseTimeout, PhaseError:
		return true
	default:
		return false
	}
}

// IsActive returns true while a run is being submitted or polled
func (p Phase) IsActive() bool {
	if p == PhaseSubmitting || p == PhaseRunning {
		return true
	}
	return p.Stage() != ""
}

func (p Phase) String() string {
	return string(p)
}
