package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"control_miles/internal/detection"
	"control_miles/internal/models"
	"control_miles/internal/tracking"
)

// positionMessage is one position fix as sent by the device. The timestamp is
// either epoch milliseconds or an RFC 3339 string.
type positionMessage struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Speed     *float64 `json:"speed"` // m/s, omitted when the device has none
	Timestamp int64    `json:"-"`
}

func (p *positionMessage) UnmarshalJSON(data []byte) error {
	type alias positionMessage
	aux := &struct {
		Timestamp json.RawMessage `json:"timestamp"`
		*alias
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	ts, err := parseTimestamp(aux.Timestamp)
	if err != nil {
		return err
	}
	p.Timestamp = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("timestamp is required")
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return int64(ms), nil
	}
	var ts string
	if err := json.Unmarshal(raw, &ts); err != nil || ts == "" {
		return 0, fmt.Errorf("invalid timestamp %s", raw)
	}
	// Devices sometimes drop the zone; treat those as UTC.
	if !(strings.HasSuffix(ts, "Z") || (len(ts) > 6 && strings.ContainsAny(ts[len(ts)-6:], "+-"))) {
		ts += "Z"
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	return t.UnixMilli(), nil
}

func (p positionMessage) sample() (detection.Sample, error) {
	switch {
	case math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90:
		return detection.Sample{}, models.NewValidationError("latitude", "must be within [-90, 90]")
	case math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180:
		return detection.Sample{}, models.NewValidationError("longitude", "must be within [-180, 180]")
	case p.Accuracy < 0:
		return detection.Sample{}, models.NewValidationError("accuracy", "must be >= 0")
	case p.Timestamp <= 0:
		return detection.Sample{}, models.NewValidationError("timestamp", "must be positive")
	}
	return detection.Sample{
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		TimestampMs:    p.Timestamp,
		AccuracyMeters: p.Accuracy,
		SpeedMps:       p.Speed,
	}, nil
}

// StartTracking opens the tracking session against the given ledger, or
// today's ledger when none is named.
func StartTracking(c *gin.Context) {
	var input struct {
		LedgerID string `json:"ledger_id"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	var (
		l   models.DailyLedger
		err error
	)
	if input.LedgerID == "" {
		l, err = deps.Ledgers.Today(ctx)
	} else {
		l, err = deps.Ledgers.Get(ctx, input.LedgerID)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if err := deps.Session.Start(ctx, l.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": deps.Session.Status()})
}

// StopTracking ends the session and stores the tracked miles on the ledger.
func StopTracking(c *gin.Context) {
	ctx := c.Request.Context()
	summary, err := deps.Session.Stop(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	l, err := deps.Ledgers.Get(ctx, summary.LedgerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "ledger": l, "displayed_miles": l.CurrentDisplayedMiles()})
}

func TrackingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": deps.Session.Status(), "listeners": deps.Hub.Clients()})
}

// PushSamples feeds a batch of position fixes to the running session, in
// order. Processing stops at the first rejected fix.
func PushSamples(c *gin.Context) {
	var input struct {
		Samples []positionMessage `json:"samples" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for i, msg := range input.Samples {
		s, err := msg.sample()
		if err == nil {
			err = deps.Feed.Push(s)
		}
		if err != nil {
			logrus.WithError(err).WithField("accepted", i).Warn("Position batch cut short.")
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(input.Samples)})
}

// PushMotion feeds one accelerometer reading (m/s^2) to the running session.
func PushMotion(c *gin.Context) {
	var a detection.Acceleration
	if err := c.ShouldBindJSON(&a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := deps.Feed.PushMotion(a); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": 1})
}

// ReportPermissionDenied tells the session the device lost location access.
// The detector goes idle; the session stays open until stopped.
func ReportPermissionDenied(c *gin.Context) {
	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&input)
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "location permission denied"
	}
	if err := deps.Feed.Deny(errors.New(reason)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "reported"})
}

func ListGigApps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": tracking.KnownGigApps, "active": deps.Session.GigApps().Active()})
}

// DeclareGigApp sets the app stamped on new log entries. An empty app clears it.
func DeclareGigApp(c *gin.Context) {
	var input struct {
		App string `json:"app"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := deps.Session.GigApps().Declare(tracking.GigApp(input.App)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": deps.Session.GigApps().Active()})
}
