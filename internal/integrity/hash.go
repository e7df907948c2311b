// Package integrity computes the SHA-256 fingerprints stamped on ledgers and
// log entries. The pre-image format is fixed: fields joined with "|" in a
// fixed order, numbers rendered the way JavaScript's String(number) renders
// them, so hashes produced by the mobile client and by this service agree.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"control_miles/internal/models"
)

const delimiter = "|"

// LedgerFields is the canonical subset of a ledger covered by its hash.
type LedgerFields struct {
	Date          string
	OdometerStart float64
	OdometerEnd   float64
	Income        float64
	Timestamp     int64
	// Corrections is only serialized when non-nil.
	Corrections []models.Correction
}

// LogFields is the canonical subset of a log entry covered by its hash.
type LogFields struct {
	Timestamp        int64
	Latitude         float64
	Longitude        float64
	MilesAccumulated float64
}

// canonicalCorrection fixes key names and order of the serialized correction list.
type canonicalCorrection struct {
	ID            string  `json:"id"`
	Type          string  `json:"type"`
	Timestamp     int64   `json:"timestamp"`
	Adjustment    float64 `json:"adjustment"`
	Reason        string  `json:"reason"`
	AppliedBy     string  `json:"appliedBy"`
	PreviousValue float64 `json:"previousValue"`
	NewValue      float64 `json:"newValue"`
}

// Sum returns the lowercase hex SHA-256 digest of data.
func Sum(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// LedgerPreimage builds date|odometerStart|odometerEnd|income|timestamp[|corrections].
func LedgerPreimage(f LedgerFields) string {
	parts := []string{
		f.Date,
		FormatNumber(f.OdometerStart),
		FormatNumber(f.OdometerEnd),
		FormatNumber(f.Income),
		strconv.FormatInt(f.Timestamp, 10),
	}
	if f.Corrections != nil {
		parts = append(parts, serializeCorrections(f.Corrections))
	}
	return strings.Join(parts, delimiter)
}

// LogPreimage builds timestamp|latitude|longitude|milesAccumulated.
func LogPreimage(f LogFields) string {
	return strings.Join([]string{
		strconv.FormatInt(f.Timestamp, 10),
		FormatNumber(f.Latitude),
		FormatNumber(f.Longitude),
		FormatNumber(f.MilesAccumulated),
	}, delimiter)
}

// HashFields hashes a canonical ledger tuple.
func HashFields(f LedgerFields) string {
	return Sum(LedgerPreimage(f))
}

// FieldsOf extracts the canonical tuple of a ledger. The correction list is
// covered once the ledger carries a mileage correction.
func FieldsOf(l *models.DailyLedger) LedgerFields {
	f := LedgerFields{
		Date:          l.Date,
		OdometerStart: l.OdometerStart,
		OdometerEnd:   l.OdometerEnd,
		Income:        l.Income,
		Timestamp:     l.Timestamp,
	}
	if l.HasMileageCorrections() {
		f.Corrections = l.Corrections
	}
	return f
}

// HashLedger computes the record hash of a ledger in its current state.
func HashLedger(l *models.DailyLedger) string {
	return HashFields(FieldsOf(l))
}

// Stamp recomputes and stores the ledger's record hash.
func Stamp(l *models.DailyLedger) {
	l.RecordHash = HashLedger(l)
}

// HashLog computes the hash of a log entry.
func HashLog(e *models.IRSLogEntry) string {
	return Sum(LogPreimage(LogFields{
		Timestamp:        e.Timestamp,
		Latitude:         e.Latitude,
		Longitude:        e.Longitude,
		MilesAccumulated: e.MilesAccumulated,
	}))
}

// VerifyLedger returns *models.IntegrityMismatch when the stored hash is stale or altered.
func VerifyLedger(l *models.DailyLedger) error {
	computed := HashLedger(l)
	if computed != l.RecordHash {
		return &models.IntegrityMismatch{Kind: "ledger", ID: l.ID, Stored: l.RecordHash, Computed: computed}
	}
	return nil
}

// VerifyLog returns *models.IntegrityMismatch when the stored hash is stale or altered.
func VerifyLog(e *models.IRSLogEntry) error {
	computed := HashLog(e)
	if computed != e.Hash {
		return &models.IntegrityMismatch{Kind: "log", ID: e.ID, Stored: e.Hash, Computed: computed}
	}
	return nil
}

func serializeCorrections(list []models.Correction) string {
	out := make([]canonicalCorrection, len(list))
	for i, c := range list {
		out[i] = canonicalCorrection{
			ID:            c.ID,
			Type:          string(c.Type),
			Timestamp:     c.Timestamp,
			Adjustment:    c.Adjustment,
			Reason:        c.Reason,
			AppliedBy:     c.AppliedBy,
			PreviousValue: c.PreviousValue,
			NewValue:      c.NewValue,
		}
	}
	// JSON.stringify leaves &, < and > alone.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Plain structs of strings and finite numbers always encode.
	_ = enc.Encode(out)
	return strings.TrimSuffix(buf.String(), "\n")
}

// FormatNumber renders v like JavaScript's String(v): shortest round-trip
// digits, plain notation between 1e-6 and 1e21, exponent notation outside.
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}

	abs := math.Abs(v)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	s := strconv.FormatFloat(v, 'e', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mantissa + "e" + sign + digits
}
