package interfaces

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/cursus/internal/models"
)

// PipelineAPI is the HTTP contract with the backend pipeline runner.
// One real implementation talks to the orchestrate endpoints; tests
// substitute a double implementing the same three contracts.
type PipelineAPI interface {
	// SubmitRun posts a sanitized job request and returns the handle for
	// the new run. Non-2xx responses surface as *runner.APIError with a
	// human-readable message extracted from the body.
	SubmitRun(ctx context.Context, req models.JobRequest) (*models.JobHandle, error)

	// FetchStatus polls the given locator with the detail query parameter
	// rewritten to the requested level.
	FetchStatus(ctx context.Context, pollLocator string, detail models.DetailLevel) (models.StatusPayload, error)

	// AbortRun issues a best-effort abort for the run. Its failure does
	// not block local cancellation.
	AbortRun(ctx context.Context, runID string) error

	// FetchReport retrieves the final report for a successful run.
	// The report shape is opaque to this client.
	FetchReport(ctx context.Context, runID string) (json.RawMessage, error)
}
