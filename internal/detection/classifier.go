// Package detection turns position samples into trip start and end events.
// GPS speed drives every transition; accelerometer readings are only hints.
package detection

import (
	"fmt"
	"math"
	"time"

	"control_miles/internal/geo"
	"control_miles/internal/models"
)

// MpsToMph converts metres per second to miles per hour.
const MpsToMph = 2.23694

const gravity = 9.8 // m/s²

// Profile is the set of thresholds behind a sensitivity level. Speeds between
// StopSpeedMph and MinMovingSpeedMph are transitional (in traffic).
type Profile struct {
	MinMovingSpeedMph     float64 `json:"min_moving_speed_mph"`
	StopSpeedMph          float64 `json:"stop_speed_mph"`
	AccelerationThreshold float64 `json:"acceleration_threshold"` // m/s²
}

var profiles = map[models.Sensitivity]Profile{
	models.SensitivityLow:    {MinMovingSpeedMph: 15, StopSpeedMph: 5, AccelerationThreshold: 0.5},
	models.SensitivityMedium: {MinMovingSpeedMph: 10, StopSpeedMph: 3, AccelerationThreshold: 0.3},
	models.SensitivityHigh:   {MinMovingSpeedMph: 5, StopSpeedMph: 1, AccelerationThreshold: 0.1},
}

// ProfileFor returns the thresholds for a sensitivity level.
func ProfileFor(s models.Sensitivity) (Profile, error) {
	p, ok := profiles[s]
	if !ok {
		return Profile{}, models.NewValidationError("sensitivity", "unknown sensitivity %q", s)
	}
	return p, nil
}

// Validate checks that the profile leaves a transitional band.
func (p Profile) Validate() error {
	if p.MinMovingSpeedMph <= p.StopSpeedMph {
		return fmt.Errorf("moving speed %.1f mph must exceed stop speed %.1f mph", p.MinMovingSpeedMph, p.StopSpeedMph)
	}
	if p.AccelerationThreshold < 0 {
		return fmt.Errorf("acceleration threshold must not be negative")
	}
	return nil
}

// Classification is the outcome of Classify. Exactly one flag is set.
type Classification struct {
	IsMoving       bool `json:"is_moving"`
	IsStopped      bool `json:"is_stopped"`
	IsTransitional bool `json:"is_transitional"`
}

// Classify buckets a speed against a profile.
func Classify(speedMph float64, p Profile) Classification {
	c := Classification{
		IsMoving:  speedMph >= p.MinMovingSpeedMph,
		IsStopped: speedMph < p.StopSpeedMph,
	}
	c.IsTransitional = !c.IsMoving && !c.IsStopped
	return c
}

// Sample is one position fix from the position source.
type Sample struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	TimestampMs    int64    `json:"timestamp"`
	AccuracyMeters float64  `json:"accuracy"`
	SpeedMps       *float64 `json:"speed,omitempty"` // nil when the source has no speed
}

// Time returns the sample timestamp.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// SpeedFromSamples derives mph from two consecutive fixes. It is 0 when no
// time elapsed between them.
func SpeedFromSamples(prev, curr Sample) float64 {
	elapsedMs := curr.TimestampMs - prev.TimestampMs
	if elapsedMs <= 0 {
		return 0
	}
	miles := geo.DistanceMiles(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)
	return miles / (float64(elapsedMs) / float64(time.Hour/time.Millisecond))
}

// Acceleration is a raw accelerometer vector in m/s², gravity included.
type Acceleration struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MotionFromAcceleration reports whether the net acceleration, after removing
// gravity, exceeds the profile threshold.
func MotionFromAcceleration(a Acceleration, p Profile) bool {
	magnitude := math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z)
	return math.Abs(magnitude-gravity) > p.AccelerationThreshold
}

// MotionReading is the per-sample view the detector derives.
type MotionReading struct {
	IsMoving   bool      `json:"is_moving"`
	SpeedMph   float64   `json:"speed_mph"`
	Confidence float64   `json:"confidence"`
	ObservedAt time.Time `json:"observed_at"`
}

// Confidence maps a GPS accuracy radius to [0,1]; a tighter radius is more
// trustworthy. Unknown accuracy gets 0.5.
func Confidence(accuracyMeters float64) float64 {
	if accuracyMeters <= 0 || math.IsNaN(accuracyMeters) {
		return 0.5
	}
	return math.Max(0, math.Min(1, 100/accuracyMeters))
}
