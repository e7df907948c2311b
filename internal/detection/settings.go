package detection

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"control_miles/internal/models"
	"control_miles/internal/store"
)

// SettingsProvider hands the detector the settings in force right now. It is
// consulted on every sample so updates apply from the next one.
type SettingsProvider interface {
	Current(ctx context.Context) (models.DetectorSettings, error)
}

// SettingsPatch is a partial update; nil fields keep their stored value.
type SettingsPatch struct {
	Enabled                  *bool               `json:"enabled"`
	Sensitivity              *models.Sensitivity `json:"sensitivity"`
	StopTimeThresholdSeconds *int                `json:"stop_time_threshold_seconds"`
	MinimumTripDistanceMiles *float64            `json:"minimum_trip_distance_miles"`
	AutomaticMode            *bool               `json:"automatic_mode"`
}

// Apply returns s with the patch fields overlaid.
func (p SettingsPatch) Apply(s models.DetectorSettings) models.DetectorSettings {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.Sensitivity != nil {
		s.Sensitivity = *p.Sensitivity
	}
	if p.StopTimeThresholdSeconds != nil {
		s.StopTimeThresholdSeconds = *p.StopTimeThresholdSeconds
	}
	if p.MinimumTripDistanceMiles != nil {
		s.MinimumTripDistanceMiles = *p.MinimumTripDistanceMiles
	}
	if p.AutomaticMode != nil {
		s.AutomaticMode = *p.AutomaticMode
	}
	return s
}

// ValidateSettings rejects settings the detector cannot run with.
func ValidateSettings(s models.DetectorSettings) error {
	if _, err := ProfileFor(s.Sensitivity); err != nil {
		return err
	}
	if s.StopTimeThresholdSeconds < 0 {
		return models.NewValidationError("stop_time_threshold_seconds", "must not be negative")
	}
	if s.MinimumTripDistanceMiles < 0 {
		return models.NewValidationError("minimum_trip_distance_miles", "must not be negative")
	}
	return nil
}

// SettingsStore persists detector settings and is the only writer of them.
type SettingsStore struct {
	repo store.SettingsRepository
	mu   sync.Mutex
}

// NewSettingsStore wraps a settings repository.
func NewSettingsStore(repo store.SettingsRepository) *SettingsStore {
	return &SettingsStore{repo: repo}
}

// Current reads the stored settings, falling back to defaults.
func (s *SettingsStore) Current(ctx context.Context) (models.DetectorSettings, error) {
	return s.repo.DetectorSettings(ctx)
}

// Update validates and saves a partial update, returning the new settings.
func (s *SettingsStore) Update(ctx context.Context, patch SettingsPatch) (models.DetectorSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.DetectorSettings(ctx)
	if err != nil {
		return models.DetectorSettings{}, fmt.Errorf("load detector settings: %w", err)
	}
	next := patch.Apply(current)
	if err := ValidateSettings(next); err != nil {
		return current, err
	}
	if err := s.repo.SaveDetectorSettings(ctx, next); err != nil {
		return current, fmt.Errorf("save detector settings: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"enabled":        next.Enabled,
		"sensitivity":    next.Sensitivity,
		"stop_threshold": next.StopTimeThresholdSeconds,
		"min_trip_miles": next.MinimumTripDistanceMiles,
		"automatic_mode": next.AutomaticMode,
	}).Info("Detector settings updated.")
	return s.repo.DetectorSettings(ctx)
}
