package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"control_miles/internal/detection"
	"control_miles/internal/gpslog"
	"control_miles/internal/hub"
	"control_miles/internal/ledger"
	"control_miles/internal/models"
	"control_miles/internal/store"
	"control_miles/internal/tracking"
)

// Deps holds everything the handlers reach for.
type Deps struct {
	Ledgers      *ledger.Service
	Logs         *gpslog.Writer
	Settings     *detection.SettingsStore
	Vehicles     store.VehicleRepository
	Session      *tracking.Session
	Feed         *tracking.Feed
	Hub          *hub.Hub
	MileageRate  decimal.Decimal
	PasscodeHash []byte
}

var deps Deps

// Bind installs the handler dependencies. Call it once before serving.
func Bind(d Deps) {
	deps = d
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var verr *models.ValidationError
	var perm *models.PermissionError
	switch {
	case errors.As(err, &verr):
		body := gin.H{"error": verr.Error()}
		if verr.Field != "" {
			body["field"] = verr.Field
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, gpslog.ErrNonMonotonic):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrConflict),
		errors.Is(err, tracking.ErrSessionActive),
		errors.Is(err, tracking.ErrNoSession),
		errors.Is(err, tracking.ErrNotSubscribed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &perm):
		c.JSON(http.StatusForbidden, gin.H{"error": perm.Error()})
	case errors.Is(err, tracking.ErrFeedFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed.")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
