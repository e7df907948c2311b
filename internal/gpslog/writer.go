// Package gpslog writes the hash-stamped position log kept during tracking
// and reads it back as a path for export.
package gpslog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom"
	gjson "github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"

	"control_miles/internal/detection"
	"control_miles/internal/geo"
	"control_miles/internal/integrity"
	"control_miles/internal/models"
	"control_miles/internal/store"
)

// ErrNonMonotonic is returned when cumulative miles would go backwards.
var ErrNonMonotonic = errors.New("miles accumulated must not decrease within a ledger")

// Writer appends IRS log entries. Entries are never updated; they disappear
// only when their ledger is deleted.
type Writer struct {
	logs store.LogRepository

	mu   sync.Mutex
	last map[string]models.IRSLogEntry // newest entry per ledger
}

// NewWriter builds a writer over a log repository.
func NewWriter(logs store.LogRepository) *Writer {
	return &Writer{logs: logs, last: make(map[string]models.IRSLogEntry)}
}

// Append persists one entry for the sample. cumulativeMiles must not be lower
// than the previous entry of the same ledger.
func (w *Writer) Append(ctx context.Context, ledgerID string, s detection.Sample, cumulativeMiles float64, gigApp string) (models.IRSLogEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, hasPrev, err := w.previous(ctx, ledgerID)
	if err != nil {
		return models.IRSLogEntry{}, err
	}
	if hasPrev && cumulativeMiles < prev.MilesAccumulated {
		return models.IRSLogEntry{}, fmt.Errorf("%w: %.4f after %.4f", ErrNonMonotonic, cumulativeMiles, prev.MilesAccumulated)
	}

	entry := models.IRSLogEntry{
		ID:               uuid.NewString(),
		DailyLedgerID:    ledgerID,
		Timestamp:        s.TimestampMs,
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		Accuracy:         s.AccuracyMeters,
		MilesAccumulated: cumulativeMiles,
		GigApp:           gigApp,
	}
	if hasPrev {
		entry.Bearing = geo.Bearing(prev.Latitude, prev.Longitude, s.Latitude, s.Longitude)
	}
	entry.Hash = integrity.HashLog(&entry)

	if err := w.logs.AppendLog(ctx, &entry); err != nil {
		logrus.WithError(err).WithField("ledger_id", ledgerID).Error("Failed to save IRS log entry.")
		return models.IRSLogEntry{}, fmt.Errorf("append log: %w", err)
	}
	w.last[ledgerID] = entry

	logrus.WithFields(logrus.Fields{
		"ledger_id": ledgerID,
		"miles":     fmt.Sprintf("%.3f", cumulativeMiles),
		"gig_app":   gigApp,
	}).Debug("IRS log entry written.")
	return entry, nil
}

func (w *Writer) previous(ctx context.Context, ledgerID string) (models.IRSLogEntry, bool, error) {
	if e, ok := w.last[ledgerID]; ok {
		return e, true, nil
	}
	e, err := w.logs.LastLog(ctx, ledgerID)
	if errors.Is(err, models.ErrNotFound) {
		return models.IRSLogEntry{}, false, nil
	}
	if err != nil {
		return models.IRSLogEntry{}, false, fmt.Errorf("load last log entry: %w", err)
	}
	return e, true, nil
}

// LastMiles returns the cumulative miles of the ledger's newest entry, or 0.
func (w *Writer) LastMiles(ctx context.Context, ledgerID string) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok, err := w.previous(ctx, ledgerID)
	if err != nil || !ok {
		return 0, err
	}
	return prev.MilesAccumulated, nil
}

// Forget drops the cached tail of a ledger, e.g. after the ledger is deleted.
func (w *Writer) Forget(ledgerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.last, ledgerID)
}

// Entries returns a ledger's log in write order.
func (w *Writer) Entries(ctx context.Context, ledgerID string) ([]models.IRSLogEntry, error) {
	return w.logs.LogsByLedger(ctx, ledgerID)
}

// Track builds the ledger's path as a line string in lon/lat order.
func (w *Writer) Track(ctx context.Context, ledgerID string) (*geom.LineString, error) {
	entries, err := w.logs.LogsByLedger(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	coords := make([]geom.Coord, 0, len(entries))
	for _, e := range entries {
		coords = append(coords, geom.Coord{e.Longitude, e.Latitude})
	}
	return geom.NewLineString(geom.XY).SetCoords(coords)
}

// TrackGeoJSON is Track encoded as a GeoJSON geometry.
func (w *Writer) TrackGeoJSON(ctx context.Context, ledgerID string) ([]byte, error) {
	ls, err := w.Track(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	return gjson.Marshal(ls)
}

// TrackWKB is Track encoded as little-endian WKB.
func (w *Writer) TrackWKB(ctx context.Context, ledgerID string) ([]byte, error) {
	ls, err := w.Track(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	return wkb.Marshal(ls, binary.LittleEndian)
}
