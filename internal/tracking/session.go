// Package tracking runs one tracking session at a time: samples flow from the
// position source through the distance accumulator into the GPS log and the
// trip detector.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"control_miles/internal/detection"
	"control_miles/internal/geo"
	"control_miles/internal/gpslog"
	"control_miles/internal/ledger"
)

var (
	// ErrSessionActive is returned by Start while a session is still open.
	ErrSessionActive = errors.New("a tracking session is already active")
	// ErrNoSession is returned by Stop when nothing is being tracked.
	ErrNoSession = errors.New("no tracking session is active")
)

// Config wires a Session. Motion and Events are optional.
type Config struct {
	Positions PositionSource
	Motion    MotionSource
	Settings  detection.SettingsProvider
	Vehicles  detection.VehicleLookup
	Ledgers   *ledger.Service
	Logs      *gpslog.Writer
	GigApps   *GigApps
	Events    detection.Publisher
}

// Summary describes a finished session.
type Summary struct {
	LedgerID     string    `json:"ledger_id"`
	StartedAt    time.Time `json:"started_at"`
	StoppedAt    time.Time `json:"stopped_at"`
	SessionMiles float64   `json:"session_miles"`
	LedgerMiles  float64   `json:"ledger_miles"` // cumulative log miles for the day
	Samples      int       `json:"samples"`
}

// Status is a snapshot of the current session.
type Status struct {
	Active       bool      `json:"active"`
	Running      bool      `json:"running"` // false once the source failed
	LedgerID     string    `json:"ledger_id,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	SessionMiles float64   `json:"session_miles"`
	Samples      int       `json:"samples"`
	OnTrip       bool      `json:"on_trip"`
	GigApp       string    `json:"gig_app,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Session owns the single tracking pipeline of the process.
type Session struct {
	cfg      Config
	detector *detection.Detector

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	ledgerID  string
	startedAt time.Time
	base      float64 // ledger miles logged before this session
	acc       geo.Accumulator
	tripFrom  float64
	samples   int
	failure   error
}

// NewSession builds a session and the detector it drives.
func NewSession(cfg Config) *Session {
	if cfg.GigApps == nil {
		cfg.GigApps = &GigApps{}
	}
	s := &Session{cfg: cfg}
	s.detector = detection.NewDetector(cfg.Settings, cfg.Vehicles, s)
	return s
}

// Detector exposes the trip detector, e.g. for Reset from a manual stop.
func (s *Session) Detector() *detection.Detector { return s.detector }

// GigApps returns the declared-app holder used for log entries.
func (s *Session) GigApps() *GigApps { return s.cfg.GigApps }

// Start subscribes to the sources and begins logging against ledgerID. The
// session outlives ctx; only Stop ends it.
func (s *Session) Start(ctx context.Context, ledgerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSessionActive
	}

	base, err := s.cfg.Logs.LastMiles(ctx, ledgerID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	samples, errs, err := s.cfg.Positions.Subscribe(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to positions: %w", err)
	}
	var motions <-chan detection.Acceleration
	if s.cfg.Motion != nil {
		if motions, err = s.cfg.Motion.SubscribeMotion(runCtx); err != nil {
			logrus.WithError(err).Warn("Motion sensor unavailable, using GPS speed only.")
			motions = nil
		}
	}

	s.detector.Reset()
	s.acc.Reset()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.ledgerID = ledgerID
	s.startedAt = time.Now().UTC()
	s.base = base
	s.tripFrom = base
	s.samples = 0
	s.failure = nil

	go s.run(runCtx, ledgerID, samples, errs, motions, s.done)

	logrus.WithFields(logrus.Fields{"ledger_id": ledgerID, "base_miles": base}).Info("Tracking session started.")
	return nil
}

func (s *Session) run(ctx context.Context, ledgerID string, samples <-chan detection.Sample, errs <-chan error, motions <-chan detection.Acceleration, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			s.drain(ledgerID, samples, motions)
			return
		case smp, ok := <-samples:
			if !ok {
				return
			}
			s.handle(ctx, ledgerID, smp)
		case a, ok := <-motions:
			if !ok {
				motions = nil
				continue
			}
			if _, err := s.detector.ProcessMotion(ctx, a); err != nil {
				logrus.WithError(err).Warn("Motion reading not processed.")
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.detector.Fail(err)
			s.mu.Lock()
			s.failure = err
			s.mu.Unlock()
			return
		}
	}
}

// drain processes what the source delivered before the stop.
func (s *Session) drain(ledgerID string, samples <-chan detection.Sample, motions <-chan detection.Acceleration) {
	ctx := context.Background()
	for {
		select {
		case smp, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			s.handle(ctx, ledgerID, smp)
		case a, ok := <-motions:
			if !ok {
				motions = nil
				continue
			}
			_, _ = s.detector.ProcessMotion(ctx, a)
		default:
			return
		}
	}
}

func (s *Session) handle(ctx context.Context, ledgerID string, smp detection.Sample) {
	s.mu.Lock()
	s.acc.Add(smp.Latitude, smp.Longitude)
	cumulative := s.base + s.acc.Total()
	s.samples++
	s.mu.Unlock()

	if _, err := s.cfg.Logs.Append(ctx, ledgerID, smp, cumulative, s.cfg.GigApps.Active()); err != nil {
		logrus.WithError(err).WithField("ledger_id", ledgerID).Error("Failed to log position sample.")
	}
	if _, _, err := s.detector.Process(ctx, smp); err != nil {
		logrus.WithError(err).WithField("ledger_id", ledgerID).Warn("Detector skipped sample.")
	}
}

// Publish decorates detector events with trip distance and forwards them.
func (s *Session) Publish(e detection.Event) {
	switch e.Kind {
	case detection.EventTripStarted:
		s.mu.Lock()
		s.tripFrom = s.base + s.acc.Total()
		s.mu.Unlock()
	case detection.EventTripEnded:
		s.mu.Lock()
		miles := s.base + s.acc.Total() - s.tripFrom
		s.mu.Unlock()

		trip := detection.TripSummary{}
		if e.Trip != nil {
			trip = *e.Trip
		}
		trip.Miles = miles
		if settings, err := s.cfg.Settings.Current(context.Background()); err == nil {
			trip.BelowMinimum = miles < settings.MinimumTripDistanceMiles
		}
		e.Trip = &trip
		logrus.WithFields(logrus.Fields{
			"miles":         fmt.Sprintf("%.2f", miles),
			"below_minimum": trip.BelowMinimum,
		}).Info("Trip finished.")
	}
	if s.cfg.Events != nil {
		s.cfg.Events.Publish(e)
	}
}

// Stop halts the subscription, clears detector state and stores the tracked
// miles on the ledger.
func (s *Session) Stop(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return Summary{}, ErrNoSession
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.detector.Reset()

	s.mu.Lock()
	summary := Summary{
		LedgerID:     s.ledgerID,
		StartedAt:    s.startedAt,
		StoppedAt:    time.Now().UTC(),
		SessionMiles: s.acc.Total(),
		LedgerMiles:  s.base + s.acc.Total(),
		Samples:      s.samples,
	}
	s.cancel, s.done = nil, nil
	s.ledgerID = ""
	s.acc.Reset()
	s.mu.Unlock()

	if _, err := s.cfg.Ledgers.RecordTrackedMiles(ctx, summary.LedgerID, summary.LedgerMiles); err != nil {
		return summary, fmt.Errorf("record tracked miles: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"ledger_id":     summary.LedgerID,
		"session_miles": fmt.Sprintf("%.2f", summary.SessionMiles),
		"samples":       summary.Samples,
	}).Info("Tracking session stopped.")
	return summary, nil
}

// Status reports the current session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Active:       s.cancel != nil,
		LedgerID:     s.ledgerID,
		StartedAt:    s.startedAt,
		SessionMiles: s.acc.Total(),
		Samples:      s.samples,
		GigApp:       s.cfg.GigApps.Active(),
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			st.Running = true
		}
	}
	if s.failure != nil {
		st.Error = s.failure.Error()
	}
	st.OnTrip = s.detector.IsTracking()
	return st
}
