package runner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/cursus/internal/common"
	"github.com/ternarybob/cursus/internal/models"
	"github.com/ternarybob/cursus/internal/pipeline"
)

// fakeAPI is a scripted backend double. Status payloads are consumed in
// order; the last one repeats once the script runs out.
type fakeAPI struct {
	mu sync.Mutex

	submitHandle *models.JobHandle
	// submitHandles, when set, supplies one handle per call in order,
	// clamped to the last entry. submitHook runs outside the lock before
	// each call returns, so a test can hold a submission in flight.
	submitHandles []*models.JobHandle
	submitHook    func(call int)
	submitErr     error
	submitCalls   int

	statuses    []models.StatusPayload
	statusCalls int
	lastDetail  models.DetailLevel

	abortedIDs []string

	report      json.RawMessage
	reportCalls int
}

func (f *fakeAPI) SubmitRun(ctx context.Context, req models.JobRequest) (*models.JobHandle, error) {
	f.mu.Lock()
	call := f.submitCalls
	f.submitCalls++
	handle := f.submitHandle
	if len(f.submitHandles) > 0 {
		idx := call
		if idx >= len(f.submitHandles) {
			idx = len(f.submitHandles) - 1
		}
		handle = f.submitHandles[idx]
	}
	hook := f.submitHook
	err := f.submitErr
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (f *fakeAPI) FetchStatus(ctx context.Context, pollLocator string, detail models.DetailLevel) (models.StatusPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.statusCalls
	f.statusCalls++
	f.lastDetail = detail
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	return f.statuses[idx], nil
}

func (f *fakeAPI) AbortRun(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortedIDs = append(f.abortedIDs, runID)
	return nil
}

func (f *fakeAPI) FetchReport(ctx context.Context, runID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportCalls++
	return f.report, nil
}

func (f *fakeAPI) snapshot() (statusCalls, reportCalls int, aborted []string, detail models.DetailLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, f.reportCalls, append([]string(nil), f.abortedIDs...), f.lastDetail
}

func testStages(t *testing.T) *pipeline.StageIndex {
	t.Helper()
	return pipeline.NewStageIndex([]string{"SMOKE", "GRID", "AB", "PUBLISH"})
}

func newTestOrchestrator(t *testing.T, api *fakeAPI) *Orchestrator {
	t.Helper()
	return NewOrchestrator(api, testStages(t), nil, OrchestratorConfig{
		OrchestratePath: "/orchestrate",
		PollInterval:    5 * time.Millisecond,
		RunTimeout:      2 * time.Second,
	}, common.GetLogger())
}

func waitForPhase(t *testing.T, o *Orchestrator, want models.Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.Phase() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("phase never reached %s, stuck at %s", want, o.Phase())
}

func TestOrchestrator_SuccessfulRun(t *testing.T) {
	api := &fakeAPI{
		submitHandle: &models.JobHandle{ID: "run_1", PollLocator: "http://backend/status/run_1"},
		statuses: []models.StatusPayload{
			statusPayload("RUNNING", "SMOKE"),
			statusPayload("RUNNING", "GRID"),
			statusPayload("RUNNING", "AB"),
			statusPayload("RUNNING", "PUBLISH"),
			statusPayload("SUCCEEDED", "PUBLISH"),
		},
		report: json.RawMessage(`{"summary":"ok"}`),
	}
	orch := newTestOrchestrator(t, api)

	require.NoError(t, orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"}))
	waitForPhase(t, orch, models.PhaseSucceeded)

	meta := orch.Meta()
	assert.Equal(t, "run_1", meta.ID)
	assert.False(t, meta.StartedAt.IsZero())
	require.NotNil(t, meta.FinishedAt)
	assert.Equal(t, models.PhaseSucceeded, meta.Status)

	ordinal, total := orch.Progress()
	assert.Equal(t, 3, ordinal)
	assert.Equal(t, 4, total)

	// Report for the successful run is fetched exactly once.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if orch.Report() != nil {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	assert.JSONEq(t, `{"summary":"ok"}`, string(orch.Report()))
	_, reportCalls, _, _ := api.snapshot()
	assert.Equal(t, 1, reportCalls)
	assert.Empty(t, orch.LastError())
}

func TestOrchestrator_StagePhaseNeverRegresses(t *testing.T) {
	api := &fakeAPI{
		submitHandle: &models.JobHandle{ID: "run_1", PollLocator: "http://backend/status/run_1"},
		statuses: []models.StatusPayload{
			statusPayload("RUNNING", "GRID"),
			statusPayload("RUNNING", "SMOKE"),   // out-of-order response
			statusPayload("RUNNING", "MYSTERY"), // unknown stage
			statusPayload("SUCCEEDED", ""),
		},
	}
	orch := newTestOrchestrator(t, api)

	require.NoError(t, orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"}))
	waitForPhase(t, orch, models.PhaseSucceeded)

	// GRID (ordinal 1) was the last legitimate advance before terminal
	// completion forced the ordinal to the end of the pipeline.
	ordinal, _ := orch.Progress()
	assert.Equal(t, 3, ordinal)
}

func TestOrchestrator_CancelMidRun(t *testing.T) {
	api := &fakeAPI{
		submitHandle: &models.JobHandle{ID: "run_1", PollLocator: "http://backend/status/run_1"},
		statuses: []models.StatusPayload{
			statusPayload("RUNNING", "SMOKE"),
		},
	}
	orch := newTestOrchestrator(t, api)

	require.NoError(t, orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"}))
	waitForPhase(t, orch, models.StagePhase("SMOKE"))

	require.NoError(t, orch.Cancel(context.Background()))
	assert.Equal(t, models.PhaseCancelled, orch.Phase())

	meta := orch.Meta()
	require.NotNil(t, meta.FinishedAt)
	assert.Equal(t, models.PhaseCancelled, meta.Status)

	// Backend abort is fire-and-forget but must arrive.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		_, _, aborted, _ := api.snapshot()
		if len(aborted) > 0 {
			assert.Equal(t, []string{"run_1"}, aborted)
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Polling stopped: the call count settles.
	calls, _, _, _ := api.snapshot()
	time.Sleep(30 * time.Millisecond)
	after, _, _, _ := api.snapshot()
	assert.Equal(t, calls, after)
	assert.Equal(t, models.PhaseCancelled, orch.Phase())
}

func TestOrchestrator_CancelDuringSecondSubmission(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{
		submitHandles: []*models.JobHandle{
			{ID: "run_1", PollLocator: "http://backend/status/run_1"},
			{ID: "run_2", PollLocator: "http://backend/status/run_2"},
		},
		statuses: []models.StatusPayload{
			statusPayload("SUCCEEDED", ""),
		},
		submitHook: func(call int) {
			if call == 1 {
				close(entered)
				<-release
			}
		},
	}
	orch := newTestOrchestrator(t, api)

	require.NoError(t, orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"}))
	waitForPhase(t, orch, models.PhaseSucceeded)
	firstMeta := orch.Meta()

	startErr := make(chan error, 1)
	go func() {
		startErr <- orch.Start(context.Background(), map[string]interface{}{"preset": "grid"})
	}()
	<-entered

	require.NoError(t, orch.Cancel(context.Background()))
	assert.Equal(t, models.PhaseCancelled, orch.Phase())

	// The previous run's record is untouched: no id was assigned to the
	// cancelled submission, so there is nothing to stamp onto it.
	meta := orch.Meta()
	assert.Equal(t, "run_1", meta.ID)
	assert.Equal(t, models.PhaseSucceeded, meta.Status)
	require.NotNil(t, meta.FinishedAt)
	assert.True(t, meta.FinishedAt.Equal(*firstMeta.FinishedAt))

	close(release)
	require.NoError(t, <-startErr)

	// The backend accepted run_2 after the cancel, so the best-effort
	// abort targets it, never the finished run_1.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		_, _, aborted, _ := api.snapshot()
		if len(aborted) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	_, _, aborted, _ := api.snapshot()
	assert.Equal(t, []string{"run_2"}, aborted)
	assert.Equal(t, "run_1", orch.Meta().ID)
	assert.Equal(t, models.PhaseSucceeded, orch.Meta().Status)
}

func TestOrchestrator_SubmissionFailure(t *testing.T) {
	api := &fakeAPI{
		submitErr: &APIError{StatusCode: 404, Message: "not found", Endpoint: "/run"},
	}
	orch := newTestOrchestrator(t, api)

	err := orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"})
	require.Error(t, err)

	assert.Equal(t, models.PhaseError, orch.Phase())
	assert.Equal(t, "not found", orch.LastError())
	assert.Empty(t, orch.Meta().ID, "no run metadata on a failed submission")

	calls, _, _, _ := api.snapshot()
	assert.Equal(t, 0, calls, "no polling after a failed submission")
}

func TestOrchestrator_RejectsConcurrentStart(t *testing.T) {
	api := &fakeAPI{
		submitHandle: &models.JobHandle{ID: "run_1", PollLocator: "http://backend/status/run_1"},
		statuses: []models.StatusPayload{
			statusPayload("RUNNING", "SMOKE"),
		},
	}
	orch := newTestOrchestrator(t, api)

	require.NoError(t, orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"}))

	err := orch.Start(context.Background(), map[string]interface{}{"preset": "grid"})
	assert.ErrorIs(t, err, ErrRunActive)

	require.NoError(t, orch.Cancel(context.Background()))
}

func TestOrchestrator_ChangeDetailLevel(t *testing.T) {
	api := &fakeAPI{
		submitHandle: &models.JobHandle{ID: "run_1", PollLocator: "http://backend/status/run_1"},
		statuses: []models.StatusPayload{
			statusPayload("RUNNING", "SMOKE"),
		},
	}
	orch := newTestOrchestrator(t, api)

	require.NoError(t, orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"}))
	waitForPhase(t, orch, models.StagePhase("SMOKE"))

	require.NoError(t, orch.ChangeDetailLevel(models.DetailFull))

	meta := orch.Meta()
	assert.Equal(t, "run_1", meta.ID, "detail switch keeps run identity")
	assert.Equal(t, models.DetailFull, meta.DetailLevel)

	ordinal, _ := orch.Progress()
	assert.Equal(t, 0, ordinal, "detail switch keeps stage progress")

	// Subsequent fetches carry the new level.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		_, _, _, detail := api.snapshot()
		if detail == models.DetailFull {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	_, _, _, detail := api.snapshot()
	assert.Equal(t, models.DetailFull, detail)

	require.NoError(t, orch.Cancel(context.Background()))
}

func TestOrchestrator_ChangeDetailLevelRequiresRunning(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeAPI{})
	err := orch.ChangeDetailLevel(models.DetailFull)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOrchestrator_FailedRunSurfacesReason(t *testing.T) {
	api := &fakeAPI{
		submitHandle: &models.JobHandle{ID: "run_1", PollLocator: "http://backend/status/run_1"},
		statuses: []models.StatusPayload{
			statusPayload("RUNNING", "SMOKE"),
			{"status": "FAILED", "reason": "grid step exploded"},
		},
	}
	orch := newTestOrchestrator(t, api)

	require.NoError(t, orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"}))
	waitForPhase(t, orch, models.PhaseFailed)

	assert.Equal(t, "grid step exploded", orch.LastError())
	require.NotNil(t, orch.Meta().FinishedAt)

	_, reportCalls, _, _ := api.snapshot()
	assert.Equal(t, 0, reportCalls, "no report fetch for a failed run")
}

func TestOrchestrator_Reset(t *testing.T) {
	api := &fakeAPI{
		submitHandle: &models.JobHandle{ID: "run_1", PollLocator: "http://backend/status/run_1"},
		statuses: []models.StatusPayload{
			statusPayload("SUCCEEDED", ""),
		},
	}
	orch := newTestOrchestrator(t, api)

	// Reset from idle is an invalid transition.
	assert.ErrorIs(t, orch.Reset(), ErrInvalidTransition)

	require.NoError(t, orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"}))
	waitForPhase(t, orch, models.PhaseSucceeded)

	require.NoError(t, orch.Reset())
	assert.Equal(t, models.PhaseIdle, orch.Phase())

	// Metadata survives reset for audit display.
	assert.Equal(t, "run_1", orch.Meta().ID)

	// A fresh start is allowed again from idle.
	require.NoError(t, orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"}))
	waitForPhase(t, orch, models.PhaseSucceeded)
}

func TestOrchestrator_TimeoutRun(t *testing.T) {
	api := &fakeAPI{
		submitHandle: &models.JobHandle{ID: "run_1", PollLocator: "http://backend/status/run_1"},
		statuses: []models.StatusPayload{
			statusPayload("RUNNING", "SMOKE"),
		},
	}
	orch := NewOrchestrator(api, testStages(t), nil, OrchestratorConfig{
		PollInterval: 5 * time.Millisecond,
		RunTimeout:   40 * time.Millisecond,
	}, common.GetLogger())

	require.NoError(t, orch.Start(context.Background(), map[string]interface{}{"preset": "smoke"}))
	waitForPhase(t, orch, models.PhaseTimeout)

	assert.NotEmpty(t, orch.LastError())
	require.NotNil(t, orch.Meta().FinishedAt)
}
