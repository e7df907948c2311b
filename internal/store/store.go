// Package store persists the three logical collections of the app (ledgers,
// logs, settings) plus vehicles. Memory is the in-process key-value backend;
// Gorm stores the same records in Postgres.
package store

import (
	"context"
	"errors"

	"control_miles/internal/models"
)

// ErrDuplicateDate is returned by CreateLedger when a ledger already exists for the date.
var ErrDuplicateDate = errors.New("ledger already exists for date")

// LedgerRepository stores daily ledgers keyed by id and looked up by date.
type LedgerRepository interface {
	GetLedger(ctx context.Context, id string) (models.DailyLedger, error)
	LedgerByDate(ctx context.Context, date string) (models.DailyLedger, error)
	CreateLedger(ctx context.Context, l *models.DailyLedger) error
	// UpdateLedger replaces the stored record when l.Version matches the
	// stored version, and advances l.Version. Stale writes get models.ErrConflict.
	UpdateLedger(ctx context.Context, l *models.DailyLedger) error
	// DeleteLedger removes the ledger together with its log entries.
	DeleteLedger(ctx context.Context, id string) error
	LedgersInRange(ctx context.Context, from, to string) ([]models.DailyLedger, error)
}

// LogRepository stores IRS log entries. Entries are append-only.
type LogRepository interface {
	AppendLog(ctx context.Context, e *models.IRSLogEntry) error
	LogsByLedger(ctx context.Context, ledgerID string) ([]models.IRSLogEntry, error)
	LastLog(ctx context.Context, ledgerID string) (models.IRSLogEntry, error)
}

// SettingsRepository stores the single detector settings record.
type SettingsRepository interface {
	DetectorSettings(ctx context.Context) (models.DetectorSettings, error)
	SaveDetectorSettings(ctx context.Context, s models.DetectorSettings) error
}

// VehicleRepository stores vehicles; at most one is active.
type VehicleRepository interface {
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (models.Vehicle, error)
	// CreateVehicle activates the vehicle when it is the first one.
	CreateVehicle(ctx context.Context, v *models.Vehicle) error
	// UpdateVehicle leaves the active flag untouched.
	UpdateVehicle(ctx context.Context, v *models.Vehicle) error
	// ActivateVehicle marks id active and every other vehicle inactive.
	ActivateVehicle(ctx context.Context, id string) error
	HasActiveVehicle(ctx context.Context) (bool, error)
}

// Repository is the full persistence surface.
type Repository interface {
	LedgerRepository
	LogRepository
	SettingsRepository
	VehicleRepository
}

// Models lists every persisted model, for migrations.
func Models() []any {
	return []any{
		&models.DailyLedger{},
		&models.IRSLogEntry{},
		&models.DetectorSettings{},
		&models.Vehicle{},
	}
}
