package detection

import (
	"context"
	"time"

	"journey-detector/internal/journey"
)

type EventType string

const (
	DetectionStarted EventType = "detection_started"
	DetectionStopped EventType = "detection_stopped"
	ActivityChanged  EventType = "activity_changed"
	JourneyStarted   EventType = "journey_started"
	JourneyUpdated   EventType = "journey_updated"
	JourneyCompleted EventType = "journey_completed"
	JourneyDiscarded EventType = "journey_discarded"
)

type ActivityChange struct {
	Kind       journey.ActivityKind `json:"kind"`
	Confidence int                  `json:"confidence"`
}

// Event is a lifecycle notification. Journey is a copy taken at emission
// time and never aliases manager state.
type Event struct {
	Type       EventType         `json:"type"`
	DeviceID   string            `json:"device_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Activity   *ActivityChange   `json:"activity,omitempty"`
	Journey    *journey.Snapshot `json:"journey,omitempty"`
}

// Sink receives lifecycle notifications. Emit runs on the manager's delivery
// goroutine, one event at a time in emission order, with a bounded ctx.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }
