package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cursus/internal/common"
	"github.com/ternarybob/cursus/internal/interfaces"
	"github.com/ternarybob/cursus/internal/models"
	"github.com/ternarybob/cursus/internal/pipeline"
)

// OrchestratorConfig carries the tunables for one orchestrator instance.
// Poll interval and timeout ceiling are construction parameters rather
// than global constants; zero values fall back to the defaults.
type OrchestratorConfig struct {
	OrchestratePath string
	PollInterval    time.Duration
	RunTimeout      time.Duration
	DetailLevel     models.DetailLevel
}

// Orchestrator is the run lifecycle state machine. It owns at most one
// live PollController at a time, records run metadata, applies
// terminal-state side effects and mediates cancellation and timeout.
type Orchestrator struct {
	api    interfaces.PipelineAPI
	stages *pipeline.StageIndex
	events interfaces.EventService
	logger arbor.ILogger
	cfg    OrchestratorConfig

	mu            sync.Mutex
	phase         models.Phase
	meta          models.RunMeta
	poller        *PollController
	detail        models.DetailLevel
	reflections   []models.ReflectionEntry
	stageOrdinal  int
	lastError     string
	report        json.RawMessage
	reportFetched bool
}

// NewOrchestrator creates a run orchestrator. The event service may be
// nil when no observers are wired.
func NewOrchestrator(api interfaces.PipelineAPI, stages *pipeline.StageIndex, events interfaces.EventService, cfg OrchestratorConfig, logger arbor.ILogger) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if !cfg.DetailLevel.IsValid() {
		cfg.DetailLevel = models.DetailLite
	}

	return &Orchestrator{
		api:          api,
		stages:       stages,
		events:       events,
		logger:       logger,
		cfg:          cfg,
		phase:        models.PhaseIdle,
		detail:       cfg.DetailLevel,
		stageOrdinal: -1,
	}
}

// Start submits a new run. Valid only from idle or a terminal phase; a
// re-entrant start while submitting or running is rejected so two runs
// can never race updates into the same metadata.
func (o *Orchestrator) Start(ctx context.Context, raw map[string]interface{}) error {
	o.mu.Lock()
	if o.phase.IsActive() {
		o.mu.Unlock()
		return ErrRunActive
	}
	o.stopPollerLocked()

	req := models.SanitizeRequest(raw)
	detail := o.detail
	corID := common.NewCorrelationID()

	o.phase = models.PhaseSubmitting
	o.lastError = ""
	o.reflections = nil
	o.stageOrdinal = -1
	o.report = nil
	o.reportFetched = false
	o.mu.Unlock()

	o.publish(interfaces.EventRunPhaseChange, map[string]interface{}{
		"phase":  models.PhaseSubmitting.String(),
		"preset": req.Preset(),
	})

	o.logger.Info().
		Str("correlation_id", corID).
		Str("preset", req.Preset()).
		Bool("commit", req.Commit()).
		Msg("Submitting pipeline run")

	handle, err := o.api.SubmitRun(ctx, req)

	o.mu.Lock()
	if o.phase != models.PhaseSubmitting {
		// Cancelled while the submission was in flight. If the backend
		// accepted the run anyway, abort it best-effort.
		o.mu.Unlock()
		if err == nil && handle != nil {
			go o.abortQuietly(handle.ID)
		}
		return nil
	}

	if err != nil {
		message := err.Error()
		if apiErr, ok := err.(*APIError); ok {
			message = apiErr.Message
		}
		o.phase = models.PhaseError
		o.lastError = message
		o.mu.Unlock()

		o.logger.Error().
			Err(err).
			Msg("Pipeline run submission failed")
		o.publish(interfaces.EventRunFinished, map[string]interface{}{
			"phase":  models.PhaseError.String(),
			"reason": message,
		})
		return err
	}

	now := time.Now()
	o.meta = models.RunMeta{
		ID:              handle.ID,
		CorrelationID:   corID,
		PollLocator:     handle.PollLocator,
		OrchestratePath: o.cfg.OrchestratePath,
		StartedAt:       now,
		Status:          models.PhaseRunning,
		DetailLevel:     detail,
	}
	o.phase = models.PhaseRunning

	poller, perr := o.newPollerLocked(handle.PollLocator, detail)
	if perr != nil {
		o.phase = models.PhaseError
		o.lastError = perr.Error()
		o.meta.MarkFinished(models.PhaseError)
		o.mu.Unlock()
		return perr
	}
	o.poller = poller
	runID := handle.ID
	o.mu.Unlock()

	poller.Start()

	o.logger.Info().
		Str("run_id", runID).
		Str("poll_locator", handle.PollLocator).
		Msg("Pipeline run submitted, polling started")
	o.publish(interfaces.EventRunSubmitted, map[string]interface{}{
		"run_id":       runID,
		"poll_locator": handle.PollLocator,
		"detail_level": detail.String(),
	})

	return nil
}

// Cancel stops polling and transitions locally to cancelled. The backend
// abort is fire-and-forget; the local transition never waits on it.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	if !o.phase.IsActive() {
		o.mu.Unlock()
		return fmt.Errorf("%w: cancel requires an active run, phase is %s", ErrInvalidTransition, o.phase)
	}
	o.stopPollerLocked()

	// While a submission is still in flight, o.meta holds the previous
	// run's record: no run id has been assigned yet, so there is nothing
	// to stamp or abort here. Start's post-submission phase check aborts
	// the handle if the backend accepted the run anyway.
	runID := ""
	if o.phase != models.PhaseSubmitting {
		runID = o.meta.ID
	}
	o.phase = models.PhaseCancelled
	if runID != "" {
		o.meta.MarkFinished(models.PhaseCancelled)
	}
	o.mu.Unlock()

	if runID != "" {
		go o.abortQuietly(runID)
	}

	o.logger.Info().
		Str("run_id", runID).
		Msg("Pipeline run cancelled by caller")
	o.publish(interfaces.EventRunFinished, map[string]interface{}{
		"run_id": runID,
		"phase":  models.PhaseCancelled.String(),
		"reason": "cancelled by caller",
	})

	return nil
}

// ChangeDetailLevel restarts polling against the same locator with the
// new detail level. The detail level changes the request shape, so the
// running controller is replaced rather than mutated in place. Run
// identity and accumulated stage progress are preserved.
func (o *Orchestrator) ChangeDetailLevel(level models.DetailLevel) error {
	if !level.IsValid() {
		return fmt.Errorf("invalid detail level: %s", level)
	}

	o.mu.Lock()
	if o.phase != models.PhaseRunning && o.phase.Stage() == "" {
		o.mu.Unlock()
		return fmt.Errorf("%w: detail level change requires a running run, phase is %s", ErrInvalidTransition, o.phase)
	}
	o.stopPollerLocked()

	o.detail = level
	o.meta.DetailLevel = level

	poller, err := o.newPollerLocked(o.meta.PollLocator, level)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.poller = poller
	runID := o.meta.ID
	o.mu.Unlock()

	poller.Start()

	o.logger.Info().
		Str("run_id", runID).
		Str("detail_level", level.String()).
		Msg("Polling restarted with new detail level")

	return nil
}

// Reset returns a terminal orchestrator to idle. Run metadata stays in
// place for audit display until the next Start overwrites it.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.phase.IsTerminal() {
		return fmt.Errorf("%w: reset requires a terminal phase, phase is %s", ErrInvalidTransition, o.phase)
	}
	o.phase = models.PhaseIdle
	return nil
}

// Phase returns the current lifecycle phase
func (o *Orchestrator) Phase() models.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Meta returns a copy of the current run's observability record
func (o *Orchestrator) Meta() models.RunMeta {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.meta
}

// Reflections returns the reflection sequence from the latest poll
func (o *Orchestrator) Reflections() []models.ReflectionEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.ReflectionEntry, len(o.reflections))
	copy(out, o.reflections)
	return out
}

// Progress returns the highest stage ordinal observed this run (-1 before
// any known stage) and the stage count.
func (o *Orchestrator) Progress() (ordinal, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stageOrdinal, o.stages.Len()
}

// LastError returns the surfaced reason for the most recent failure,
// timeout or submission error.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastError
}

// Report returns the report fetched for the most recent successful run
func (o *Orchestrator) Report() json.RawMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.report
}

// newPollerLocked builds a controller whose callbacks are bound to it, so
// events from a replaced controller are recognized as stale and dropped.
func (o *Orchestrator) newPollerLocked(locator string, detail models.DetailLevel) (*PollController, error) {
	var pc *PollController
	cfg := PollerConfig{
		PollLocator: locator,
		Interval:    o.cfg.PollInterval,
		Timeout:     o.cfg.RunTimeout,
		Detail:      detail,
		OnUpdate: func(update PollUpdate) {
			o.handleUpdate(pc, update)
		},
		OnDone: func(state string, payload models.StatusPayload) {
			o.handleDone(pc, state, payload)
		},
	}
	poller, err := NewPollController(o.api, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	pc = poller
	return poller, nil
}

// handleUpdate applies one poll tick. Stage ordinals only ever move
// forward: out-of-order responses reporting an earlier or equal stage,
// and stage names with no known ordinal, leave tracked progress alone.
func (o *Orchestrator) handleUpdate(pc *PollController, update PollUpdate) {
	o.mu.Lock()
	if o.poller != pc || o.phase.IsTerminal() {
		o.mu.Unlock()
		return
	}

	phaseChanged := false
	if update.Status.Stage != "" {
		if ordinal, ok := o.stages.IndexOf(update.Status.Stage); ok && ordinal > o.stageOrdinal {
			o.stageOrdinal = ordinal
			o.phase = models.StagePhase(update.Status.Stage)
			phaseChanged = true
		}
	}

	reflectionsChanged := false
	if entries, ok := models.ReflectionsFrom(update.Payload); ok {
		o.reflections = entries
		reflectionsChanged = true
	}

	runID := o.meta.ID
	ordinal := o.stageOrdinal
	phase := o.phase
	o.mu.Unlock()

	o.publish(interfaces.EventRunPollUpdate, map[string]interface{}{
		"run_id":        runID,
		"state":         update.Status.State,
		"stage":         update.Status.Stage,
		"stage_ordinal": ordinal,
	})
	if phaseChanged {
		o.logger.Info().
			Str("run_id", runID).
			Str("stage", update.Status.Stage).
			Int("stage_ordinal", ordinal).
			Msg("Pipeline advanced to new stage")
		o.publish(interfaces.EventRunPhaseChange, map[string]interface{}{
			"run_id": runID,
			"phase":  phase.String(),
		})
	}
	if reflectionsChanged {
		o.publish(interfaces.EventRunReflections, map[string]interface{}{
			"run_id": runID,
		})
	}
}

// handleDone applies the terminal transition for the current controller.
func (o *Orchestrator) handleDone(pc *PollController, state string, payload models.StatusPayload) {
	o.mu.Lock()
	if o.poller != pc {
		o.mu.Unlock()
		return
	}
	o.poller = nil

	phase := terminalPhase(state)
	o.phase = phase
	o.meta.MarkFinished(phase)

	reason := ""
	if phase == models.PhaseSucceeded {
		// Full pipeline progress is complete by definition.
		o.stageOrdinal = o.stages.Len() - 1
	} else {
		reason = pipeline.Normalize(payload).Reason
		if reason == "" {
			reason = fmt.Sprintf("run ended with status %s", state)
		}
		o.lastError = reason
	}

	runID := o.meta.ID
	o.mu.Unlock()

	if phase == models.PhaseSucceeded {
		o.fetchReportOnce(runID)
		o.logger.Info().
			Str("run_id", runID).
			Msg("Pipeline run succeeded")
	} else {
		o.logger.Warn().
			Str("run_id", runID).
			Str("phase", phase.String()).
			Str("reason", reason).
			Msg("Pipeline run ended without success")
	}

	o.publish(interfaces.EventRunFinished, map[string]interface{}{
		"run_id": runID,
		"phase":  phase.String(),
		"reason": reason,
	})
}

// fetchReportOnce retrieves the report for a successful run exactly once.
func (o *Orchestrator) fetchReportOnce(runID string) {
	o.mu.Lock()
	if o.reportFetched {
		o.mu.Unlock()
		return
	}
	o.reportFetched = true
	o.mu.Unlock()

	report, err := o.api.FetchReport(context.Background(), runID)
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str("run_id", runID).
			Msg("Failed to fetch run report")
		return
	}

	o.mu.Lock()
	o.report = report
	o.mu.Unlock()
}

func (o *Orchestrator) abortQuietly(runID string) {
	if err := o.api.AbortRun(context.Background(), runID); err != nil {
		o.logger.Warn().
			Err(err).
			Str("run_id", runID).
			Msg("Best-effort abort request failed")
	}
}

// stopPollerLocked synchronously stops and forgets the live controller.
// Callers must hold o.mu.
func (o *Orchestrator) stopPollerLocked() {
	if o.poller != nil {
		o.poller.Stop()
		o.poller = nil
	}
}

func (o *Orchestrator) publish(eventType interfaces.EventType, payload map[string]interface{}) {
	if o.events == nil {
		return
	}
	payload["timestamp"] = time.Now().Format(time.RFC3339)
	if err := o.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		o.logger.Warn().
			Err(err).
			Str("event_type", string(eventType)).
			Msg("Failed to publish run event")
	}
}

// terminalPhase maps a terminal status token to the client phase
func terminalPhase(state string) models.Phase {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "SUCCEEDED", "COMPLETED", "DONE":
		return models.PhaseSucceeded
	case "CANCELLED", "CANCELED", "ABORTED":
		return models.PhaseCancelled
	case "TIMEOUT":
		return models.PhaseTimeout
	case "ERROR":
		return models.PhaseError
	default:
		return models.PhaseFailed
	}
}

var _ interfaces.RunOrchestrator = (*Orchestrator)(nil)
