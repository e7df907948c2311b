package models

import "time"

// Sensitivity names a bundle of speed/acceleration thresholds.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// DetectorSettings configures automatic trip detection. There is a single
// record (ID 1) for the whole process.
type DetectorSettings struct {
	ID                       uint        `json:"-" gorm:"primaryKey"`
	Enabled                  bool        `json:"enabled"`
	Sensitivity              Sensitivity `json:"sensitivity" gorm:"size:8"`
	StopTimeThresholdSeconds int         `json:"stop_time_threshold_seconds"`
	MinimumTripDistanceMiles float64     `json:"minimum_trip_distance_miles"`
	AutomaticMode            bool        `json:"automatic_mode"` // start without a selected vehicle
	UpdatedAt                time.Time   `json:"updated_at"`
}

// DefaultDetectorSettings mirrors what a fresh install starts with.
func DefaultDetectorSettings() DetectorSettings {
	return DetectorSettings{
		ID:                       1,
		Enabled:                  false,
		Sensitivity:              SensitivityMedium,
		StopTimeThresholdSeconds: 300, // 5 minutes
		MinimumTripDistanceMiles: 0.1,
		AutomaticMode:            false,
	}
}
