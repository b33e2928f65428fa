package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventRunSubmitted   EventType = "run_submitted"
	EventRunPhaseChange EventType = "run_phase_change"
	EventRunPollUpdate  EventType = "run_poll_update"
	EventRunReflections EventType = "run_reflections"
	EventRunFinished    EventType = "run_finished"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the pub/sub event bus that decouples the run
// orchestrator from its observers (CLI progress printer, dashboards).
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
