package models

import (
	"time"

	"gorm.io/datatypes"
)

// CorrectionType tells which ledger figure a correction adjusts.
type CorrectionType string

const (
	CorrectionMileage CorrectionType = "mileage"
	CorrectionIncome  CorrectionType = "income"
)

// MinCorrectionReasonLength is the shortest justification accepted for a correction.
const MinCorrectionReasonLength = 10

// Correction is an append-only signed adjustment. NewValue == PreviousValue + Adjustment
// at write time, and PreviousValue is the figure displayed right before it was applied.
type Correction struct {
	ID            string         `json:"id"`
	Type          CorrectionType `json:"type"`
	Timestamp     int64          `json:"timestamp"` // epoch milliseconds
	Adjustment    float64        `json:"adjustment"`
	Reason        string         `json:"reason"`
	AppliedBy     string         `json:"applied_by"`
	PreviousValue float64        `json:"previous_value"`
	NewValue      float64        `json:"new_value"`
}

// DailyLedger is one calendar day's mileage and income record.
type DailyLedger struct {
	ID             string                          `json:"id" gorm:"primaryKey;size:36"`
	Date           string                          `json:"date" gorm:"uniqueIndex;size:10"` // YYYY-MM-DD
	OdometerStart  float64                         `json:"odometer_start"`
	OdometerEnd    float64                         `json:"odometer_end"`
	OriginalMiles  float64                         `json:"original_miles"`
	Income         float64                         `json:"income"`
	Corrections    datatypes.JSONSlice[Correction] `json:"corrections" gorm:"type:jsonb"`
	StartPhotoPath string                          `json:"start_photo_path,omitempty"`
	EndPhotoPath   string                          `json:"end_photo_path,omitempty"`
	RecordHash     string                          `json:"record_hash"`
	Timestamp      int64                           `json:"timestamp"` // lastModifiedAt, epoch milliseconds
	Device         string                          `json:"device"`
	Version        int64                           `json:"version"` // bumped by the store on every save
	CreatedAt      time.Time                       `json:"created_at"`
	UpdatedAt      time.Time                       `json:"updated_at"`
}

// CurrentDisplayedMiles is the original mileage plus every mileage correction.
// The result is not clamped at zero.
func (l *DailyLedger) CurrentDisplayedMiles() float64 {
	total := l.OriginalMiles
	for _, c := range l.Corrections {
		if c.Type == CorrectionMileage {
			total += c.Adjustment
		}
	}
	return total
}

// HasMileageCorrections reports whether the baseline has been corrected at least once.
func (l *DailyLedger) HasMileageCorrections() bool {
	for _, c := range l.Corrections {
		if c.Type == CorrectionMileage {
			return true
		}
	}
	return false
}

// LastModifiedAt returns the ledger timestamp as a time.Time.
func (l *DailyLedger) LastModifiedAt() time.Time {
	return time.UnixMilli(l.Timestamp)
}

// Clone returns a deep copy so callers never share the corrections backing array.
func (l DailyLedger) Clone() DailyLedger {
	out := l
	if l.Corrections != nil {
		out.Corrections = make(datatypes.JSONSlice[Correction], len(l.Corrections))
		copy(out.Corrections, l.Corrections)
	}
	return out
}
