package pipeline

import (
	"testing"
	"time"

	"github.com/ternarybob/cursus/internal/models"
)

func TestNormalize(t *testing.T) {
	finished := "2026-03-01T10:30:00Z"
	finishedAt, _ := time.Parse(time.RFC3339, finished)

	tests := []struct {
		name    string
		payload models.StatusPayload
		want    NormalizedStatus
	}{
		{
			name: "flat fields",
			payload: models.StatusPayload{
				"status":      "RUNNING",
				"stage":       "GRID",
				"finished_at": finished,
			},
			want: NormalizedStatus{State: "RUNNING", Stage: "GRID", FinishedAt: &finishedAt},
		},
		{
			name: "nested under job",
			payload: models.StatusPayload{
				"job": map[string]interface{}{
					"status": "SUCCEEDED",
					"stage":  "PUBLISH",
				},
			},
			want: NormalizedStatus{State: "SUCCEEDED", Stage: "PUBLISH"},
		},
		{
			name: "top level wins over nested",
			payload: models.StatusPayload{
				"status": "RUNNING",
				"job": map[string]interface{}{
					"status": "FAILED",
				},
			},
			want: NormalizedStatus{State: "RUNNING"},
		},
		{
			name: "state alias",
			payload: models.StatusPayload{
				"state": "FAILED",
			},
			want: NormalizedStatus{State: "FAILED"},
		},
		{
			name: "reason priority reason over detail over message",
			payload: models.StatusPayload{
				"reason":  "quota exceeded",
				"detail":  "secondary",
				"message": "tertiary",
			},
			want: NormalizedStatus{Reason: "quota exceeded"},
		},
		{
			name: "detail used when reason missing",
			payload: models.StatusPayload{
				"detail":  "disk full",
				"message": "tertiary",
			},
			want: NormalizedStatus{Reason: "disk full"},
		},
		{
			name:    "empty payload",
			payload: models.StatusPayload{},
			want:    NormalizedStatus{},
		},
		{
			name:    "nil payload",
			payload: nil,
			want:    NormalizedStatus{},
		},
		{
			name: "malformed timestamp ignored",
			payload: models.StatusPayload{
				"status":      "FAILED",
				"finished_at": "yesterday-ish",
			},
			want: NormalizedStatus{State: "FAILED"},
		},
		{
			name: "non-string fields ignored",
			payload: models.StatusPayload{
				"status": 42,
				"stage":  true,
			},
			want: NormalizedStatus{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.payload)
			if got.State != tt.want.State {
				t.Errorf("State = %q, want %q", got.State, tt.want.State)
			}
			if got.Stage != tt.want.Stage {
				t.Errorf("Stage = %q, want %q", got.Stage, tt.want.Stage)
			}
			if got.Reason != tt.want.Reason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.want.Reason)
			}
			if (got.FinishedAt == nil) != (tt.want.FinishedAt == nil) {
				t.Fatalf("FinishedAt = %v, want %v", got.FinishedAt, tt.want.FinishedAt)
			}
			if got.FinishedAt != nil && !got.FinishedAt.Equal(*tt.want.FinishedAt) {
				t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, tt.want.FinishedAt)
			}
		})
	}
}
