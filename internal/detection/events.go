package detection

import "time"

// EventKind tags a detector event.
type EventKind string

const (
	EventTripStarted     EventKind = "trip_started"
	EventTripEnded       EventKind = "trip_ended"
	EventSampleProcessed EventKind = "sample_processed"
	EventMotionHint      EventKind = "motion_hint" // accelerometer saw motion while idle
)

// TripSummary describes a finished trip. Miles and BelowMinimum are filled in
// by the tracking session that owns the distance total.
type TripSummary struct {
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Miles        float64   `json:"miles"`
	BelowMinimum bool      `json:"below_minimum"`
}

// Event is what the detector emits.
type Event struct {
	Kind    EventKind      `json:"kind"`
	At      time.Time      `json:"at"`
	Reading *MotionReading `json:"reading,omitempty"`
	Trip    *TripSummary   `json:"trip,omitempty"`
}

// Publisher receives detector events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

type discard struct{}

func (discard) Publish(Event) {}
