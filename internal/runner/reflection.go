package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cursus/internal/models"
)

// actionIDPrefix is the convention-based prefix on next-action IDs.
// Stripping it recovers the name of the pipeline preset to run next.
const actionIDPrefix = "run-"

// PresetSource resolves named request presets. A nil source makes the
// processor fall back to a bare preset request.
type PresetSource interface {
	Get(name string) (models.JobRequest, bool)
}

// ReflectionProcessor turns the current run's reflection entries into
// actionable next steps. Invoking an action derives a new job request and
// re-submits through the orchestrator, chaining one completed run into
// the next.
type ReflectionProcessor struct {
	orch    *Orchestrator
	presets PresetSource
	logger  arbor.ILogger
}

// NewReflectionProcessor binds a processor to the orchestrator whose
// reflections it reads and re-submits through.
func NewReflectionProcessor(orch *Orchestrator, presets PresetSource, logger arbor.ILogger) *ReflectionProcessor {
	return &ReflectionProcessor{
		orch:    orch,
		presets: presets,
		logger:  logger,
	}
}

// NextActionsFor returns the follow-up actions attached to the named
// stage's reflection, if any. Stage matching is case-insensitive.
func (r *ReflectionProcessor) NextActionsFor(stage string) []models.NextAction {
	target := strings.ToUpper(strings.TrimSpace(stage))
	for _, entry := range r.orch.Reflections() {
		if strings.ToUpper(strings.TrimSpace(entry.Stage)) == target {
			out := make([]models.NextAction, len(entry.NextActions))
			copy(out, entry.NextActions)
			return out
		}
	}
	return nil
}

// Invoke dispatches a next-action by ID. It refuses to fire while a run
// is active, so chained submissions can never produce two concurrent runs.
func (r *ReflectionProcessor) Invoke(ctx context.Context, actionID string) error {
	phase := r.orch.Phase()
	if phase.IsActive() {
		return fmt.Errorf("%w: cannot invoke action %q while phase is %s", ErrRunActive, actionID, phase)
	}

	action, ok := r.findAction(actionID)
	if !ok {
		return fmt.Errorf("unknown next-action id: %s", actionID)
	}

	preset := strings.TrimPrefix(action.ID, actionIDPrefix)
	if preset == "" {
		return fmt.Errorf("next-action id %q names no preset", actionID)
	}

	req := models.NewPresetRequest(preset)
	if r.presets != nil {
		if resolved, found := r.presets.Get(preset); found {
			req = resolved
		}
	}

	r.logger.Info().
		Str("action_id", actionID).
		Str("preset", preset).
		Msg("Invoking reflection next-action")

	return r.orch.Start(ctx, req)
}

func (r *ReflectionProcessor) findAction(actionID string) (models.NextAction, bool) {
	for _, entry := range r.orch.Reflections() {
		for _, action := range entry.NextActions {
			if action.ID == actionID {
				return action, true
			}
		}
	}
	return models.NextAction{}, false
}
