package models

import "testing"

func TestPhase_IsTerminal(t *testing.T) {
	terminal := []Phase{PhaseSucceeded, PhaseFailed, PhaseCancelled, PhaseTimeout, PhaseError}
	for _, p := range terminal {
		if !p.IsTerminal() {
			t.Errorf("%s should be terminal", p)
		}
	}

	nonTerminal := []Phase{PhaseIdle, PhaseSubmitting, PhaseRunning, StagePhase("SMOKE")}
	for _, p := range nonTerminal {
		if p.IsTerminal() {
			t.Errorf("%s should not be terminal", p)
		}
	}
}

func TestPhase_IsActive(t *testing.T) {
	active := []Phase{PhaseSubmitting, PhaseRunning, StagePhase("GRID")}
	for _, p := range active {
		if !p.IsActive() {
			t.Errorf("%s should be active", p)
		}
	}

	inactive := []Phase{PhaseIdle, PhaseSucceeded, PhaseFailed, PhaseCancelled, PhaseTimeout, PhaseError}
	for _, p := range inactive {
		if p.IsActive() {
			t.Errorf("%s should not be active", p)
		}
	}
}

func TestStagePhase(t *testing.T) {
	p := StagePhase(" SMOKE ")
	if p != Phase("stage:smoke") {
		t.Errorf("StagePhase(SMOKE) = %q", p)
	}
	if p.Stage() != "smoke" {
		t.Errorf("Stage() = %q, want smoke", p.Stage())
	}
	if PhaseRunning.Stage() != "" {
		t.Errorf("generic phase reported stage %q", PhaseRunning.Stage())
	}
}
