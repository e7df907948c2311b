// internal/models/vehicle.go
package models

import (
	"time"
)

type Vehicle struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	Name            string    `json:"name"`
	Make            string    `json:"make"`
	Model           string    `json:"model"`
	Year            int       `json:"year"`
	LicensePlate    string    `json:"license_plate,omitempty"`
	FuelType        string    `json:"fuel_type,omitempty"` // Gasoline, Diesel, Electric, Hybrid
	InitialOdometer float64   `json:"initial_odometer"`
	CurrentOdometer float64   `json:"current_odometer"`
	IsActive        bool      `json:"is_active" gorm:"index"` // at most one vehicle is active
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
