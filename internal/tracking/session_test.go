package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"control_miles/internal/detection"
	"control_miles/internal/gpslog"
	"control_miles/internal/integrity"
	"control_miles/internal/ledger"
	"control_miles/internal/models"
	"control_miles/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []detection.Event
}

func (r *recorder) Publish(e detection.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) of(kind detection.EventKind) []detection.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []detection.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	mem     *store.Memory
	feed    *Feed
	ledgers *ledger.Service
	session *Session
	events  *recorder
	ledger  models.DailyLedger
}

func newFixture(t *testing.T, patch detection.SettingsPatch) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	if err := mem.CreateVehicle(ctx, &models.Vehicle{ID: "v1", Name: "Prius"}); err != nil {
		t.Fatalf("vehicle: %v", err)
	}
	settings := detection.NewSettingsStore(mem)
	enabled := true
	patch.Enabled = &enabled
	if _, err := settings.Update(ctx, patch); err != nil {
		t.Fatalf("settings: %v", err)
	}

	f := &fixture{mem: mem, feed: NewFeed(256), events: &recorder{}}
	f.ledgers = ledger.NewService(mem, mem)
	f.session = NewSession(Config{
		Positions: f.feed,
		Motion:    f.feed,
		Settings:  settings,
		Vehicles:  mem,
		Ledgers:   f.ledgers,
		Logs:      gpslog.NewWriter(mem),
		Events:    f.events,
	})
	l, err := f.ledgers.GetOrCreate(ctx, "2024-03-01")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	f.ledger = l
	return f
}

func speed(mph float64) *float64 {
	v := mph / detection.MpsToMph
	return &v
}

// northbound returns samples 0.001° of latitude apart (~0.069 mi), one per 10s.
func northbound(from int64, speeds ...float64) []detection.Sample {
	out := make([]detection.Sample, len(speeds))
	for i, v := range speeds {
		out[i] = detection.Sample{
			Latitude:    37.7749 + 0.001*float64(int(from)+i),
			Longitude:   -122.4194,
			TimestampMs: (from + int64(i)) * 10_000,
			SpeedMps:    speed(v),
		}
	}
	return out
}

func (f *fixture) push(t *testing.T, samples []detection.Sample) {
	t.Helper()
	for _, s := range samples {
		if err := f.feed.Push(s); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
}

func TestSessionLogsAndRecordsMiles(t *testing.T) {
	f := newFixture(t, detection.SettingsPatch{})
	ctx := context.Background()
	if err := f.session.GigApps().Declare(DoorDash); err != nil {
		t.Fatalf("declare: %v", err)
	}

	if err := f.session.Start(ctx, f.ledger.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.push(t, northbound(0, 0, 20, 25, 30, 25))

	summary, err := f.session.Stop(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if summary.Samples != 5 {
		t.Fatalf("expected 5 samples, got %d", summary.Samples)
	}
	if summary.SessionMiles < 0.27 || summary.SessionMiles > 0.28 {
		t.Fatalf("expected ~0.276 miles, got %v", summary.SessionMiles)
	}

	logs, _ := f.mem.LogsByLedger(ctx, f.ledger.ID)
	if len(logs) != 5 {
		t.Fatalf("expected a log entry per sample, got %d", len(logs))
	}
	for i, e := range logs {
		if err := integrity.VerifyLog(&e); err != nil {
			t.Fatalf("entry %d: %v", i, err)
		}
		if e.GigApp != string(DoorDash) {
			t.Fatalf("entry %d missing declared app", i)
		}
		if i > 0 && e.MilesAccumulated < logs[i-1].MilesAccumulated {
			t.Fatalf("miles decreased at entry %d", i)
		}
	}

	l, _ := f.ledgers.Get(ctx, f.ledger.ID)
	if l.OriginalMiles != summary.LedgerMiles {
		t.Fatalf("expected ledger baseline %v, got %v", summary.LedgerMiles, l.OriginalMiles)
	}
	if f.session.Detector().IsTracking() {
		t.Fatalf("detector must be reset on stop")
	}
	if len(f.events.of(detection.EventTripStarted)) != 1 {
		t.Fatalf("expected one trip start")
	}
}

func TestSessionSingleActive(t *testing.T) {
	f := newFixture(t, detection.SettingsPatch{})
	ctx := context.Background()

	if _, err := f.session.Stop(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected no session, got %v", err)
	}
	if err := f.session.Start(ctx, f.ledger.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.session.Start(ctx, f.ledger.ID); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected active session error, got %v", err)
	}
	if _, err := f.session.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := f.feed.Push(detection.Sample{}); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("expected the subscription to be halted, got %v", err)
	}
	if err := f.session.Start(ctx, f.ledger.ID); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_, _ = f.session.Stop(ctx)
}

func TestSessionContinuesLedgerMiles(t *testing.T) {
	f := newFixture(t, detection.SettingsPatch{})
	ctx := context.Background()

	_ = f.session.Start(ctx, f.ledger.ID)
	f.push(t, northbound(0, 20, 20, 20))
	first, _ := f.session.Stop(ctx)

	_ = f.session.Start(ctx, f.ledger.ID)
	f.push(t, northbound(10, 20, 20))
	second, err := f.session.Stop(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	if second.LedgerMiles <= first.LedgerMiles {
		t.Fatalf("expected ledger miles to grow across sessions: %v then %v", first.LedgerMiles, second.LedgerMiles)
	}
	logs, _ := f.mem.LogsByLedger(ctx, f.ledger.ID)
	if len(logs) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(logs))
	}
	if logs[3].MilesAccumulated != first.LedgerMiles {
		t.Fatalf("second session must start from the logged total")
	}
}

func TestSessionFlagsShortTrips(t *testing.T) {
	f := newFixture(t, detection.SettingsPatch{StopTimeThresholdSeconds: intPtr(15)})
	ctx := context.Background()

	_ = f.session.Start(ctx, f.ledger.ID)
	// Moving for one hop (~0.069 mi), then stopped in place.
	samples := northbound(0, 20, 20)
	for i := int64(2); i < 6; i++ {
		samples = append(samples, detection.Sample{Latitude: samples[1].Latitude, Longitude: -122.4194, TimestampMs: i * 10_000, SpeedMps: speed(0)})
	}
	f.push(t, samples)
	_, _ = f.session.Stop(ctx)

	ended := f.events.of(detection.EventTripEnded)
	if len(ended) != 1 {
		t.Fatalf("expected one trip end, got %d", len(ended))
	}
	trip := ended[0].Trip
	if trip == nil || !trip.BelowMinimum {
		t.Fatalf("expected a sub-minimum trip, got %+v", trip)
	}
	if trip.Miles < 0.06 || trip.Miles > 0.08 {
		t.Fatalf("expected ~0.069 trip miles, got %v", trip.Miles)
	}
}

func TestSessionSourceFailureGoesIdle(t *testing.T) {
	f := newFixture(t, detection.SettingsPatch{})
	ctx := context.Background()

	_ = f.session.Start(ctx, f.ledger.ID)
	f.push(t, northbound(0, 30, 30))
	waitFor(t, func() bool { return f.session.Status().OnTrip })

	if err := f.feed.Deny(errors.New("user revoked location")); err != nil {
		t.Fatalf("deny: %v", err)
	}
	waitFor(t, func() bool { return !f.session.Status().Running })

	st := f.session.Status()
	if st.OnTrip || !st.Active || st.Error == "" {
		t.Fatalf("expected an idle, failed but still open session: %+v", st)
	}
	if err := f.session.Start(ctx, f.ledger.ID); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("a failed session must be stopped before restarting, got %v", err)
	}
	if _, err := f.session.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSessionMotionOnlyHints(t *testing.T) {
	f := newFixture(t, detection.SettingsPatch{})
	ctx := context.Background()

	_ = f.session.Start(ctx, f.ledger.ID)
	for i := 0; i < 5; i++ {
		if err := f.feed.PushMotion(detection.Acceleration{X: 4, Z: 9.8}); err != nil {
			t.Fatalf("push motion: %v", err)
		}
	}
	_, _ = f.session.Stop(ctx)

	if len(f.events.of(detection.EventMotionHint)) != 5 {
		t.Fatalf("expected motion hints")
	}
	if len(f.events.of(detection.EventTripStarted)) != 0 {
		t.Fatalf("motion alone must not start a trip")
	}
}

func TestGigAppsDeclare(t *testing.T) {
	var g GigApps
	if g.Active() != "" {
		t.Fatalf("expected no app declared")
	}
	if err := g.Declare(Lyft); err != nil || g.Active() != "Lyft" {
		t.Fatalf("declare: %v %q", err, g.Active())
	}
	if err := g.Declare("MySpace"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected unknown app rejection, got %v", err)
	}
	if g.Active() != "Lyft" {
		t.Fatalf("rejected declaration must keep the previous app")
	}
	_ = g.Declare("")
	if g.Active() != "" {
		t.Fatalf("expected declaration cleared")
	}
}

func intPtr(i int) *int { return &i }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
