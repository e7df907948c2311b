package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// VehicleLookup answers whether a vehicle is currently selected.
type VehicleLookup interface {
	HasActiveVehicle(ctx context.Context) (bool, error)
}

// Detector is the trip state machine: Idle, Tracking, and Tracking with a
// running stop timer. Time is taken from sample timestamps.
type Detector struct {
	settings SettingsProvider
	vehicles VehicleLookup
	events   Publisher

	mu            sync.Mutex
	tracking      bool
	tripStartedAt time.Time
	last          *Sample
	stopStartedAt *int64 // epoch ms of the first stopped sample
}

// NewDetector wires a detector. A nil publisher discards events.
func NewDetector(settings SettingsProvider, vehicles VehicleLookup, events Publisher) *Detector {
	if events == nil {
		events = discard{}
	}
	return &Detector{settings: settings, vehicles: vehicles, events: events}
}

// Process feeds one position sample through the state machine. The boolean is
// false when the sample was ignored because detection is disabled or no
// vehicle is selected outside automatic mode.
func (d *Detector) Process(ctx context.Context, s Sample) (MotionReading, bool, error) {
	settings, err := d.settings.Current(ctx)
	if err != nil {
		return MotionReading{}, false, fmt.Errorf("read detector settings: %w", err)
	}
	if !settings.Enabled {
		return MotionReading{}, false, nil
	}
	if !settings.AutomaticMode {
		hasVehicle, err := d.vehicles.HasActiveVehicle(ctx)
		if err != nil {
			return MotionReading{}, false, fmt.Errorf("look up active vehicle: %w", err)
		}
		if !hasVehicle {
			return MotionReading{}, false, nil
		}
	}
	profile, err := ProfileFor(settings.Sensitivity)
	if err != nil {
		return MotionReading{}, false, err
	}
	threshold := int64(settings.StopTimeThresholdSeconds) * 1000

	d.mu.Lock()
	speed := d.speedOf(s)
	class := Classify(speed, profile)
	reading := MotionReading{
		IsMoving:   class.IsMoving,
		SpeedMph:   speed,
		Confidence: Confidence(s.AccuracyMeters),
		ObservedAt: s.Time(),
	}

	var out []Event
	ended := false
	switch {
	case !d.tracking && class.IsMoving:
		d.tracking = true
		d.stopStartedAt = nil
		d.tripStartedAt = s.Time()
		out = append(out, Event{Kind: EventTripStarted, At: s.Time(), Reading: &reading})
		logrus.WithField("speed_mph", fmt.Sprintf("%.1f", speed)).Info("Trip start detected.")

	case d.tracking && class.IsStopped:
		if d.stopStartedAt == nil {
			ts := s.TimestampMs
			d.stopStartedAt = &ts
			logrus.WithField("speed_mph", fmt.Sprintf("%.1f", speed)).Debug("Vehicle stopped, stop timer started.")
		} else if stopped := s.TimestampMs - *d.stopStartedAt; stopped >= threshold {
			trip := TripSummary{StartedAt: d.tripStartedAt, EndedAt: s.Time()}
			d.toIdle()
			ended = true
			out = append(out, Event{Kind: EventTripEnded, At: s.Time(), Reading: &reading, Trip: &trip})
			logrus.WithField("stopped_seconds", float64(stopped)/1000).Info("Trip end detected.")
		}

	case d.tracking && class.IsMoving && d.stopStartedAt != nil:
		d.stopStartedAt = nil
		logrus.Debug("Vehicle moving again, stop timer reset.")
	}

	if !ended {
		sample := s
		d.last = &sample
	}
	d.mu.Unlock()

	out = append(out, Event{Kind: EventSampleProcessed, At: s.Time(), Reading: &reading})
	for _, e := range out {
		d.events.Publish(e)
	}
	return reading, true, nil
}

// speedOf prefers the source speed and derives it from the previous sample
// when the source has none. Caller holds d.mu.
func (d *Detector) speedOf(s Sample) float64 {
	if s.SpeedMps != nil && *s.SpeedMps >= 0 {
		return *s.SpeedMps * MpsToMph
	}
	if d.last == nil {
		return 0
	}
	return SpeedFromSamples(*d.last, s)
}

// ProcessMotion evaluates an accelerometer reading. It never changes state:
// at most it emits a MotionHint while idle.
func (d *Detector) ProcessMotion(ctx context.Context, a Acceleration) (bool, error) {
	settings, err := d.settings.Current(ctx)
	if err != nil {
		return false, fmt.Errorf("read detector settings: %w", err)
	}
	if !settings.Enabled {
		return false, nil
	}
	profile, err := ProfileFor(settings.Sensitivity)
	if err != nil {
		return false, err
	}
	moving := MotionFromAcceleration(a, profile)

	d.mu.Lock()
	idle := !d.tracking
	d.mu.Unlock()

	if moving && idle {
		logrus.Debug("Motion detected, waiting for GPS confirmation.")
		d.events.Publish(Event{Kind: EventMotionHint, At: time.Now().UTC()})
	}
	return moving, nil
}

// Reset returns to Idle immediately and forgets the session. No event fires.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.toIdle()
}

// Fail handles a source failure the same way as Reset: the detector never
// assumes motion it can no longer observe.
func (d *Detector) Fail(err error) {
	d.mu.Lock()
	wasTracking := d.tracking
	d.toIdle()
	d.mu.Unlock()

	logrus.WithError(err).WithField("was_tracking", wasTracking).Warn("Position source failed, detector idle.")
}

// IsTracking reports whether a trip is in progress.
func (d *Detector) IsTracking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracking
}

func (d *Detector) toIdle() {
	d.tracking = false
	d.stopStartedAt = nil
	d.last = nil
	d.tripStartedAt = time.Time{}
}
