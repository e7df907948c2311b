package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"control_miles/internal/controllers"
	"control_miles/internal/detection"
	"control_miles/internal/gpslog"
	"control_miles/internal/hub"
	"control_miles/internal/ledger"
	"control_miles/internal/middleware"
	"control_miles/internal/store"
	"control_miles/internal/tracking"
)

const passcode = "open-sesame"

type testServer struct {
	router *gin.Engine
	hub    *hub.Hub
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := store.NewMemory()
	settings := detection.NewSettingsStore(repo)
	ledgers := ledger.NewService(repo, repo, ledger.WithDevice("test-device"))
	logs := gpslog.NewWriter(repo)
	feed := tracking.NewFeed(64)
	events := hub.NewHub(nil)
	t.Cleanup(events.Close)
	session := tracking.NewSession(tracking.Config{
		Positions: feed,
		Motion:    feed,
		Settings:  settings,
		Vehicles:  repo,
		Ledgers:   ledgers,
		Logs:      logs,
		Events:    events,
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	controllers.Bind(controllers.Deps{
		Ledgers:      ledgers,
		Logs:         logs,
		Settings:     settings,
		Vehicles:     repo,
		Session:      session,
		Feed:         feed,
		Hub:          events,
		MileageRate:  decimal.RequireFromString("0.67"),
		PasscodeHash: hash,
	})

	token, err := middleware.GenerateToken("alex", "driver")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return &testServer{router: SetupRouter(), hub: events, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

type ledgerBody struct {
	Ledger struct {
		ID            string  `json:"id"`
		OriginalMiles float64 `json:"original_miles"`
		Income        float64 `json:"income"`
		RecordHash    string  `json:"record_hash"`
		Device        string  `json:"device"`
		Corrections   []struct {
			AppliedBy     string  `json:"applied_by"`
			PreviousValue float64 `json:"previous_value"`
			NewValue      float64 `json:"new_value"`
		} `json:"corrections"`
	} `json:"ledger"`
	DisplayedMiles float64 `json:"displayed_miles"`
}

func (s *testServer) today(t *testing.T) ledgerBody {
	t.Helper()
	w := s.do(t, http.MethodGet, "/ledgers/today", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("today: %d %s", w.Code, w.Body)
	}
	var lb ledgerBody
	decode(t, w, &lb)
	return lb
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	s.token = ""
	if w := s.do(t, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}

func TestIssueToken(t *testing.T) {
	s := newTestServer(t)
	s.token = ""

	w := s.do(t, http.MethodPost, "/auth/token", gin.H{"driver": "alex", "passcode": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/auth/token", gin.H{"driver": "alex", "passcode": passcode})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body)
	}
	var body struct {
		Token string `json:"token"`
	}
	decode(t, w, &body)

	s.token = body.Token
	if w := s.do(t, http.MethodGet, "/ledgers/today", nil); w.Code != http.StatusOK {
		t.Fatalf("issued token rejected: %d", w.Code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)
	s.token = ""
	for _, path := range []string{"/ledgers/today", "/tracking/status", "/vehicles", "/settings/detection"} {
		if w := s.do(t, http.MethodGet, path, nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

func TestLedgerCorrectionFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.today(t).Ledger.ID

	w := s.do(t, http.MethodPut, "/ledgers/"+id+"/odometer", gin.H{"odometer_start": 12000, "odometer_end": 12050})
	if w.Code != http.StatusOK {
		t.Fatalf("odometer: %d %s", w.Code, w.Body)
	}
	var lb ledgerBody
	decode(t, w, &lb)
	if lb.DisplayedMiles != 50 {
		t.Fatalf("expected 50 miles, got %v", lb.DisplayedMiles)
	}
	hashBefore := lb.Ledger.RecordHash

	w = s.do(t, http.MethodPost, "/ledgers/"+id+"/corrections/mileage", gin.H{"adjustment": 5.5, "reason": "Forgot the airport run"})
	if w.Code != http.StatusCreated {
		t.Fatalf("correction: %d %s", w.Code, w.Body)
	}
	lb = ledgerBody{}
	decode(t, w, &lb)
	if lb.DisplayedMiles != 55.5 || lb.Ledger.OriginalMiles != 50 {
		t.Fatalf("expected 55.5 displayed over 50 original, got %+v", lb)
	}
	if len(lb.Ledger.Corrections) != 1 || lb.Ledger.Corrections[0].AppliedBy != "alex" {
		t.Fatalf("unexpected corrections %+v", lb.Ledger.Corrections)
	}
	if lb.Ledger.RecordHash == hashBefore {
		t.Fatalf("hash did not change after correction")
	}

	w = s.do(t, http.MethodPost, "/ledgers/"+id+"/corrections/mileage", gin.H{"adjustment": 1, "reason": "short"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a short reason, got %d", w.Code)
	}
	var verr struct {
		Field string `json:"field"`
	}
	decode(t, w, &verr)
	if verr.Field != "reason" {
		t.Fatalf("expected reason field, got %q", verr.Field)
	}

	w = s.do(t, http.MethodPut, "/ledgers/"+id+"/odometer", gin.H{"odometer_start": 1, "odometer_end": 2})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected a locked baseline, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/ledgers/"+id+"/verify", nil)
	var verify struct {
		Valid bool `json:"valid"`
	}
	decode(t, w, &verify)
	if w.Code != http.StatusOK || !verify.Valid {
		t.Fatalf("verify: %d %s", w.Code, w.Body)
	}
}

func TestMileageCorrectionLoggedOnce(t *testing.T) {
	s := newTestServer(t)
	hook := logtest.NewGlobal()
	t.Cleanup(hook.Reset)
	id := s.today(t).Ledger.ID

	s.do(t, http.MethodPut, "/ledgers/"+id+"/odometer", gin.H{"odometer_start": 10, "odometer_end": 20})
	w := s.do(t, http.MethodPost, "/ledgers/"+id+"/corrections/mileage", gin.H{"adjustment": 2, "reason": "Forgot the airport run"})
	if w.Code != http.StatusCreated {
		t.Fatalf("correction: %d %s", w.Code, w.Body)
	}

	count := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "Mileage correction applied." {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one correction log line, got %d", count)
	}
}

func TestIncomeAndEarnings(t *testing.T) {
	s := newTestServer(t)
	lb := s.today(t)
	id := lb.Ledger.ID

	s.do(t, http.MethodPut, "/ledgers/"+id+"/odometer", gin.H{"odometer_start": 100, "odometer_end": 200})
	if w := s.do(t, http.MethodPut, "/ledgers/"+id+"/income", gin.H{"amount": 150}); w.Code != http.StatusOK {
		t.Fatalf("income: %d %s", w.Code, w.Body)
	}
	w := s.do(t, http.MethodPost, "/ledgers/"+id+"/corrections/income", gin.H{"adjustment": 30, "reason": "Tip arrived the next morning"})
	if w.Code != http.StatusCreated {
		t.Fatalf("income correction: %d %s", w.Code, w.Body)
	}

	date := time.Now().Format(ledger.DateLayout)
	w = s.do(t, http.MethodGet, "/earnings?from="+date+"&to="+date, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("earnings: %d %s", w.Code, w.Body)
	}
	var sum struct {
		TotalMiles    string `json:"total_miles"`
		TotalIncome   string `json:"total_income"`
		IncomePerMile string `json:"income_per_mile"`
		TaxDeduction  string `json:"tax_deduction"`
	}
	decode(t, w, &sum)
	if sum.TotalMiles != "100" || sum.TotalIncome != "180" || sum.IncomePerMile != "1.8" || sum.TaxDeduction != "67" {
		t.Fatalf("unexpected summary %+v", sum)
	}

	if w := s.do(t, http.MethodGet, "/earnings?from="+date, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without to, got %d", w.Code)
	}
}

func TestLedgerNotFoundAndDelete(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/ledgers/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w := s.do(t, http.MethodPost, "/ledgers", gin.H{"date": "2025-03-14"})
	if w.Code != http.StatusOK {
		t.Fatalf("open: %d %s", w.Code, w.Body)
	}
	var lb ledgerBody
	decode(t, w, &lb)

	if w := s.do(t, http.MethodPost, "/ledgers", gin.H{"date": "14/03/2025"}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a bad date, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/ledgers?from=2025-03-01&to=2025-03-31", nil)
	var list struct {
		Data []json.RawMessage `json:"data"`
	}
	decode(t, w, &list)
	if len(list.Data) != 1 {
		t.Fatalf("expected one ledger in range, got %d", len(list.Data))
	}

	if w := s.do(t, http.MethodDelete, "/ledgers/"+lb.Ledger.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/ledgers/"+lb.Ledger.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestTrackingFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.today(t).Ledger.ID

	one := []gin.H{{"latitude": 40.0, "longitude": -74.0, "accuracy": 5, "timestamp": 1_700_000_000_000}}
	if w := s.do(t, http.MethodPost, "/tracking/samples", gin.H{"samples": one}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a session, got %d", w.Code)
	}

	if w := s.do(t, http.MethodPost, "/tracking/start", nil); w.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodPost, "/tracking/start", gin.H{"ledger_id": id}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a second session, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/tracking/gig-app", gin.H{"app": "Lyft"}); w.Code != http.StatusOK {
		t.Fatalf("gig app: %d %s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodPut, "/tracking/gig-app", gin.H{"app": "Pedicab"}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for an unknown app, got %d", w.Code)
	}

	samples := []gin.H{
		{"latitude": 40.000, "longitude": -74.0, "accuracy": 5, "timestamp": 1_700_000_000_000},
		{"latitude": 40.001, "longitude": -74.0, "accuracy": 5, "timestamp": 1_700_000_010_000},
		{"latitude": 40.002, "longitude": -74.0, "accuracy": 5, "timestamp": "2023-11-14T22:13:40Z"},
	}
	if w := s.do(t, http.MethodPost, "/tracking/samples", gin.H{"samples": samples}); w.Code != http.StatusAccepted {
		t.Fatalf("samples: %d %s", w.Code, w.Body)
	}
	bad := []gin.H{{"latitude": 123.0, "longitude": -74.0, "accuracy": 5, "timestamp": 1_700_000_030_000}}
	if w := s.do(t, http.MethodPost, "/tracking/samples", gin.H{"samples": bad}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a bad latitude, got %d", w.Code)
	}

	w := s.do(t, http.MethodPost, "/tracking/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: %d %s", w.Code, w.Body)
	}
	var stopped struct {
		Summary struct {
			Samples      int     `json:"samples"`
			SessionMiles float64 `json:"session_miles"`
		} `json:"summary"`
		DisplayedMiles float64 `json:"displayed_miles"`
	}
	decode(t, w, &stopped)
	if stopped.Summary.Samples != 3 {
		t.Fatalf("expected 3 samples, got %d", stopped.Summary.Samples)
	}
	if stopped.Summary.SessionMiles < 0.13 || stopped.Summary.SessionMiles > 0.15 {
		t.Fatalf("unexpected session miles %v", stopped.Summary.SessionMiles)
	}
	if stopped.DisplayedMiles != stopped.Summary.SessionMiles {
		t.Fatalf("tracked miles not stored: %v vs %v", stopped.DisplayedMiles, stopped.Summary.SessionMiles)
	}

	w = s.do(t, http.MethodGet, "/ledgers/"+id+"/logs", nil)
	var logs struct {
		Data []struct {
			GigApp string `json:"gig_app"`
			Hash   string `json:"hash"`
		} `json:"data"`
	}
	decode(t, w, &logs)
	if len(logs.Data) != 3 || logs.Data[0].GigApp != "Lyft" || logs.Data[0].Hash == "" {
		t.Fatalf("unexpected logs %+v", logs.Data)
	}

	w = s.do(t, http.MethodGet, "/ledgers/"+id+"/track", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"LineString"`) {
		t.Fatalf("track: %d %s", w.Code, w.Body)
	}
	w = s.do(t, http.MethodGet, "/ledgers/"+id+"/track?format=wkb", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("wkb track: %d", w.Code)
	}

	if w := s.do(t, http.MethodPost, "/tracking/stop", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 stopping twice, got %d", w.Code)
	}
}

func TestDetectionSettings(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPatch, "/settings/detection", gin.H{"enabled": true, "sensitivity": "high"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body)
	}

	w = s.do(t, http.MethodPatch, "/settings/detection", gin.H{"sensitivity": "extreme"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	var body struct {
		Settings struct {
			Enabled     bool   `json:"enabled"`
			Sensitivity string `json:"sensitivity"`
		} `json:"settings"`
	}
	decode(t, w, &body)
	if !body.Settings.Enabled || body.Settings.Sensitivity != "high" {
		t.Fatalf("rejected update must leave settings unchanged, got %+v", body.Settings)
	}
}

func TestVehicles(t *testing.T) {
	s := newTestServer(t)

	type vehicleBody struct {
		Vehicle struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			IsActive bool   `json:"is_active"`
		} `json:"vehicle"`
	}
	var first, second vehicleBody
	w := s.do(t, http.MethodPost, "/vehicles", gin.H{"name": "Prius", "initial_odometer": 42000})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body)
	}
	decode(t, w, &first)
	w = s.do(t, http.MethodPost, "/vehicles", gin.H{"name": "Van"})
	decode(t, w, &second)
	if !first.Vehicle.IsActive || second.Vehicle.IsActive {
		t.Fatalf("only the first vehicle starts active")
	}

	if w := s.do(t, http.MethodPost, "/vehicles", gin.H{"name": "Bad", "initial_odometer": -1}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/vehicles/"+second.Vehicle.ID+"/activate", nil)
	var activated vehicleBody
	decode(t, w, &activated)
	if !activated.Vehicle.IsActive {
		t.Fatalf("activate did not stick")
	}

	w = s.do(t, http.MethodPut, "/vehicles/"+second.Vehicle.ID, gin.H{"name": "Cargo Van"})
	var updated vehicleBody
	decode(t, w, &updated)
	if updated.Vehicle.Name != "Cargo Van" || !updated.Vehicle.IsActive {
		t.Fatalf("unexpected update %+v", updated.Vehicle)
	}

	if w := s.do(t, http.MethodGet, "/vehicles/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func wsURL(srv *httptest.Server, path, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?token=" + token
}

func TestEventsWebSocket(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/events", s.token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.hub.Publish(detection.Event{Kind: detection.EventTripStarted, At: time.Now()})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e detection.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.Kind != detection.EventTripStarted {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestDeviceWebSocket(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	if w := s.do(t, http.MethodPost, "/tracking/start", nil); w.Code != http.StatusCreated {
		t.Fatalf("start: %d", w.Code)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/device", s.token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ack map[string]any
	send := func(msg any) {
		t.Helper()
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		ack = nil
		if err := conn.ReadJSON(&ack); err != nil {
			t.Fatalf("read: %v", err)
		}
	}

	send(gin.H{"type": "position", "latitude": 40.0, "longitude": -74.0, "accuracy": 4, "timestamp": "2023-11-14T22:13:20"})
	if ack["status"] != "accepted" {
		t.Fatalf("position not accepted: %v", ack)
	}
	send(gin.H{"type": "motion", "x": 0.1, "y": 0, "z": 9.8})
	if ack["status"] != "accepted" {
		t.Fatalf("motion not accepted: %v", ack)
	}
	send(gin.H{"type": "teleport"})
	if ack["error"] == nil {
		t.Fatalf("expected an error ack, got %v", ack)
	}

	w := s.do(t, http.MethodPost, "/tracking/stop", nil)
	var stopped struct {
		Summary struct {
			Samples int `json:"samples"`
		} `json:"summary"`
	}
	decode(t, w, &stopped)
	if stopped.Summary.Samples != 1 {
		t.Fatalf("expected 1 sample, got %d", stopped.Summary.Samples)
	}
}
