package models

import (
	"time"
)

// IRSLogEntry is one hash-stamped position record written while a tracking
// session is active. Entries are immutable once written and are only removed
// together with their parent ledger.
type IRSLogEntry struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	DailyLedgerID    string    `json:"daily_ledger_id" gorm:"index;size:36"` // association only, no FK constraint
	Timestamp        int64     `json:"timestamp"`                            // epoch milliseconds of the sample
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Accuracy         float64   `json:"accuracy"`          // GPS accuracy in meters
	Bearing          float64   `json:"bearing"`           // Direction in degrees from the previous entry
	MilesAccumulated float64   `json:"miles_accumulated"` // non-decreasing within a ledger
	GigApp           string    `json:"gig_app,omitempty"`
	Hash             string    `json:"hash"`
	CreatedAt        time.Time `json:"created_at"`
}
