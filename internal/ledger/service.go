// Package ledger owns every mutation of a daily ledger: lazy creation, the
// odometer baseline, income, and the append-only correction list.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"control_miles/internal/integrity"
	"control_miles/internal/models"
	"control_miles/internal/store"
)

// DateLayout is the calendar-day key of a ledger.
const DateLayout = "2006-01-02"

const maxWriteAttempts = 3

// errSkip aborts a mutation without saving and without failing the call.
var errSkip = errors.New("skip")

// Service applies ledger mutations as read-modify-write of the latest stored
// record, one at a time per ledger.
type Service struct {
	ledgers store.LedgerRepository
	logs    store.LogRepository
	now     func() time.Time
	device  string

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is dropped from Service.locks once nobody holds or waits on it.
type keyLock struct {
	sync.Mutex
	refs int
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDevice sets the device descriptor written on every save.
func WithDevice(device string) Option {
	return func(s *Service) { s.device = device }
}

// NewService builds a ledger service over the given repositories.
func NewService(ledgers store.LedgerRepository, logs store.LogRepository, opts ...Option) *Service {
	s := &Service{
		ledgers: ledgers,
		logs:    logs,
		now:     time.Now,
		device:  "control_miles",
		locks:   make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Today returns the ledger for the current local date, creating it if needed.
func (s *Service) Today(ctx context.Context) (models.DailyLedger, error) {
	return s.GetOrCreate(ctx, s.now().Format(DateLayout))
}

// GetOrCreate returns the ledger for date, creating an empty one the first
// time the date is touched. It never creates two ledgers for one date.
func (s *Service) GetOrCreate(ctx context.Context, date string) (models.DailyLedger, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return models.DailyLedger{}, models.NewValidationError("date", "expected YYYY-MM-DD, got %q", date)
	}
	unlock := s.lock("date:" + date)
	defer unlock()

	existing, err := s.ledgers.LedgerByDate(ctx, date)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.DailyLedger{}, fmt.Errorf("look up ledger for %s: %w", date, err)
	}

	l := models.DailyLedger{
		ID:        uuid.NewString(),
		Date:      date,
		Timestamp: s.now().UnixMilli(),
		Device:    s.device,
	}
	integrity.Stamp(&l)
	if err := s.ledgers.CreateLedger(ctx, &l); err != nil {
		if errors.Is(err, store.ErrDuplicateDate) {
			// Another process won the race.
			return s.ledgers.LedgerByDate(ctx, date)
		}
		return models.DailyLedger{}, fmt.Errorf("create ledger for %s: %w", date, err)
	}

	logrus.WithFields(logrus.Fields{"ledger_id": l.ID, "date": date}).Info("Daily ledger created.")
	return l, nil
}

// Get returns a ledger by id.
func (s *Service) Get(ctx context.Context, id string) (models.DailyLedger, error) {
	return s.ledgers.GetLedger(ctx, id)
}

// Range lists ledgers whose date falls in [from, to], oldest first.
func (s *Service) Range(ctx context.Context, from, to string) ([]models.DailyLedger, error) {
	if _, err := time.Parse(DateLayout, from); err != nil {
		return nil, models.NewValidationError("from", "expected YYYY-MM-DD, got %q", from)
	}
	if _, err := time.Parse(DateLayout, to); err != nil {
		return nil, models.NewValidationError("to", "expected YYYY-MM-DD, got %q", to)
	}
	if from > to {
		return nil, models.NewValidationError("from", "must not be after to")
	}
	return s.ledgers.LedgersInRange(ctx, from, to)
}

// Delete removes a ledger and its log entries. Only an explicit user action
// reaches this.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()
	if err := s.ledgers.DeleteLedger(ctx, id); err != nil {
		return err
	}
	logrus.WithField("ledger_id", id).Warn("Daily ledger deleted with its log entries.")
	return nil
}

// mutate runs fn on a fresh copy of the stored ledger, then restamps and saves
// it. A rejected fn leaves the stored record untouched. Version conflicts from
// other writers are retried against the newer record.
func (s *Service) mutate(ctx context.Context, id string, fn func(l *models.DailyLedger) error) (models.DailyLedger, error) {
	unlock := s.lock(id)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		stored, err := s.ledgers.GetLedger(ctx, id)
		if err != nil {
			return models.DailyLedger{}, err
		}
		next := stored.Clone()
		if err := fn(&next); err != nil {
			return stored, err
		}
		next.Timestamp = s.now().UnixMilli()
		next.Device = s.device
		integrity.Stamp(&next)

		err = s.ledgers.UpdateLedger(ctx, &next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return stored, fmt.Errorf("save ledger %s: %w", id, err)
		}
		lastErr = err
		logrus.WithFields(logrus.Fields{"ledger_id": id, "attempt": attempt + 1}).Warn("Ledger changed underneath, retrying.")
	}
	return models.DailyLedger{}, lastErr
}

func checkNumber(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return models.NewValidationError(field, "must be a number")
	}
	return nil
}

func checkReading(field string, v float64) error {
	if err := checkNumber(field, v); err != nil {
		return err
	}
	if v < 0 {
		return models.NewValidationError(field, "must not be negative")
	}
	return nil
}

// setBaseline writes the odometer pair and derives originalMiles. The
// baseline is frozen once a mileage correction exists.
func setBaseline(l *models.DailyLedger, start, end float64) error {
	if l.HasMileageCorrections() {
		return models.ErrBaselineLocked
	}
	if end < start {
		return models.NewValidationError("odometer_end", "end must be >= start")
	}
	l.OdometerStart = start
	l.OdometerEnd = end
	l.OriginalMiles = end - start
	return nil
}

// SetOdometerReadings sets originalMiles = end - start. It may be called again
// until the first mileage correction.
func (s *Service) SetOdometerReadings(ctx context.Context, id string, start, end float64) (models.DailyLedger, error) {
	if err := checkReading("odometer_start", start); err != nil {
		return models.DailyLedger{}, err
	}
	if err := checkReading("odometer_end", end); err != nil {
		return models.DailyLedger{}, err
	}
	return s.mutate(ctx, id, func(l *models.DailyLedger) error {
		return setBaseline(l, start, end)
	})
}

// CaptureStartOdometer records the morning reading with its photo evidence.
func (s *Service) CaptureStartOdometer(ctx context.Context, id string, reading float64, photoRef string) (models.DailyLedger, error) {
	if err := checkReading("odometer_start", reading); err != nil {
		return models.DailyLedger{}, err
	}
	return s.mutate(ctx, id, func(l *models.DailyLedger) error {
		if l.HasMileageCorrections() {
			return models.ErrBaselineLocked
		}
		if l.EndPhotoPath != "" {
			if err := setBaseline(l, reading, l.OdometerEnd); err != nil {
				return err
			}
		} else {
			l.OdometerStart = reading
		}
		l.StartPhotoPath = photoRef
		return nil
	})
}

// CaptureEndOdometer records the closing reading with its photo evidence and
// derives originalMiles from the start reading.
func (s *Service) CaptureEndOdometer(ctx context.Context, id string, reading float64, photoRef string) (models.DailyLedger, error) {
	if err := checkReading("odometer_end", reading); err != nil {
		return models.DailyLedger{}, err
	}
	return s.mutate(ctx, id, func(l *models.DailyLedger) error {
		if err := setBaseline(l, l.OdometerStart, reading); err != nil {
			return err
		}
		l.EndPhotoPath = photoRef
		return nil
	})
}

// RecordTrackedMiles uses GPS distance as the baseline while no end odometer
// reading or mileage correction exists. Otherwise the call is a no-op.
func (s *Service) RecordTrackedMiles(ctx context.Context, id string, miles float64) (models.DailyLedger, error) {
	if err := checkReading("miles", miles); err != nil {
		return models.DailyLedger{}, err
	}
	skipped := false
	l, err := s.mutate(ctx, id, func(l *models.DailyLedger) error {
		if l.HasMileageCorrections() || l.OdometerEnd > 0 {
			skipped = true
			return errSkip
		}
		l.OriginalMiles = miles
		return nil
	})
	if skipped {
		return l, nil
	}
	return l, err
}

// RecordIncome overwrites the day's income.
func (s *Service) RecordIncome(ctx context.Context, id string, amount float64) (models.DailyLedger, error) {
	if err := checkReading("income", amount); err != nil {
		return models.DailyLedger{}, err
	}
	return s.mutate(ctx, id, func(l *models.DailyLedger) error {
		l.Income = amount
		return nil
	})
}

func validateCorrection(adjustment float64, reason string) (string, error) {
	if err := checkNumber("adjustment", adjustment); err != nil {
		return "", err
	}
	if adjustment == 0 {
		return "", models.NewValidationError("adjustment", "must not be zero")
	}
	trimmed := strings.TrimSpace(reason)
	if len([]rune(trimmed)) < models.MinCorrectionReasonLength {
		return "", models.NewValidationError("reason", "must be at least %d characters", models.MinCorrectionReasonLength)
	}
	return trimmed, nil
}

// AddIncomeCorrection appends an income correction and adds it to income.
func (s *Service) AddIncomeCorrection(ctx context.Context, id, reason string, amount float64, appliedBy string) (models.DailyLedger, error) {
	trimmed, err := validateCorrection(amount, reason)
	if err != nil {
		return models.DailyLedger{}, err
	}
	l, err := s.mutate(ctx, id, func(l *models.DailyLedger) error {
		c := s.newCorrection(models.CorrectionIncome, amount, trimmed, appliedBy, l.Income)
		l.Corrections = append(l.Corrections, c)
		l.Income = c.NewValue
		return nil
	})
	if err == nil {
		logrus.WithFields(logrus.Fields{"ledger_id": id, "adjustment": amount, "applied_by": appliedBy}).Info("Income correction applied.")
	}
	return l, err
}

// ApplyMileageCorrection appends a mileage correction chained to the current
// displayed miles. The original baseline is never touched.
func (s *Service) ApplyMileageCorrection(ctx context.Context, id string, adjustment float64, reason, appliedBy string) (models.DailyLedger, error) {
	trimmed, err := validateCorrection(adjustment, reason)
	if err != nil {
		return models.DailyLedger{}, err
	}
	l, err := s.mutate(ctx, id, func(l *models.DailyLedger) error {
		c := s.newCorrection(models.CorrectionMileage, adjustment, trimmed, appliedBy, l.CurrentDisplayedMiles())
		l.Corrections = append(l.Corrections, c)
		return nil
	})
	if err == nil {
		logrus.WithFields(logrus.Fields{
			"ledger_id":  id,
			"adjustment": adjustment,
			"new_value":  l.CurrentDisplayedMiles(),
			"applied_by": appliedBy,
		}).Info("Mileage correction applied.")
	}
	return l, err
}

func (s *Service) newCorrection(kind models.CorrectionType, adjustment float64, reason, appliedBy string, previous float64) models.Correction {
	return models.Correction{
		ID:            uuid.NewString(),
		Type:          kind,
		Timestamp:     s.now().UnixMilli(),
		Adjustment:    adjustment,
		Reason:        reason,
		AppliedBy:     appliedBy,
		PreviousValue: previous,
		NewValue:      previous + adjustment,
	}
}

// Verify recomputes the ledger hash and the hash of each of its log entries.
// An empty result means the records are intact.
func (s *Service) Verify(ctx context.Context, id string) ([]*models.IntegrityMismatch, error) {
	l, err := s.ledgers.GetLedger(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.logs.LogsByLedger(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load logs for %s: %w", id, err)
	}

	var mismatches []*models.IntegrityMismatch
	var m *models.IntegrityMismatch
	if err := integrity.VerifyLedger(&l); errors.As(err, &m) {
		mismatches = append(mismatches, m)
	}
	for i := range entries {
		if err := integrity.VerifyLog(&entries[i]); errors.As(err, &m) {
			mismatches = append(mismatches, m)
		}
	}
	if len(mismatches) > 0 {
		logrus.WithFields(logrus.Fields{"ledger_id": id, "mismatches": len(mismatches)}).Warn("Integrity check failed.")
	}
	return mismatches, nil
}
