package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"control_miles/internal/earnings"
	"control_miles/internal/middleware"
	"control_miles/internal/models"
)

func ledgerResponse(l models.DailyLedger) gin.H {
	return gin.H{
		"ledger":          l,
		"displayed_miles": l.CurrentDisplayedMiles(),
	}
}

// GetTodayLedger returns today's ledger, creating it on first touch.
func GetTodayLedger(c *gin.Context) {
	l, err := deps.Ledgers.Today(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledgerResponse(l))
}

// OpenLedger returns the ledger for the posted date, creating it if needed.
func OpenLedger(c *gin.Context) {
	var input struct {
		Date string `json:"date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	l, err := deps.Ledgers.GetOrCreate(c.Request.Context(), input.Date)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledgerResponse(l))
}

// ListLedgers returns ledgers dated within ?from=&to=, oldest first.
func ListLedgers(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to are required"})
		return
	}
	ledgers, err := deps.Ledgers.Range(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ledgers})
}

func GetLedger(c *gin.Context) {
	l, err := deps.Ledgers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledgerResponse(l))
}

// DeleteLedger removes a ledger and every log entry that belongs to it.
func DeleteLedger(c *gin.Context) {
	id := c.Param("id")
	if err := deps.Ledgers.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	deps.Logs.Forget(id)
	c.JSON(http.StatusOK, gin.H{"message": "ledger deleted"})
}

// SetOdometer records manually entered start and end readings.
func SetOdometer(c *gin.Context) {
	var input struct {
		Start *float64 `json:"odometer_start" binding:"required"`
		End   *float64 `json:"odometer_end" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	l, err := deps.Ledgers.SetOdometerReadings(c.Request.Context(), c.Param("id"), *input.Start, *input.End)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledgerResponse(l))
}

// CaptureOdometer records a photographed reading for the start or end of the
// day, selected by the :edge path segment.
func CaptureOdometer(c *gin.Context) {
	var input struct {
		Reading   *float64 `json:"reading" binding:"required"`
		PhotoPath string   `json:"photo_path"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, id := c.Request.Context(), c.Param("id")
	var (
		l   models.DailyLedger
		err error
	)
	switch c.Param("edge") {
	case "start":
		l, err = deps.Ledgers.CaptureStartOdometer(ctx, id, *input.Reading, input.PhotoPath)
	case "end":
		l, err = deps.Ledgers.CaptureEndOdometer(ctx, id, *input.Reading, input.PhotoPath)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown odometer edge"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledgerResponse(l))
}

// RecordIncome sets the day's base income figure.
func RecordIncome(c *gin.Context) {
	var input struct {
		Amount *float64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	l, err := deps.Ledgers.RecordIncome(c.Request.Context(), c.Param("id"), *input.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledgerResponse(l))
}

type correctionInput struct {
	Adjustment *float64 `json:"adjustment" binding:"required"`
	Reason     string   `json:"reason"`
}

// ApplyMileageCorrection appends a signed mileage adjustment. The caller's
// identity is recorded as applied_by.
func ApplyMileageCorrection(c *gin.Context) {
	var input correctionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	l, err := deps.Ledgers.ApplyMileageCorrection(c.Request.Context(), c.Param("id"), *input.Adjustment, input.Reason, middleware.CurrentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ledgerResponse(l))
}

// AddIncomeCorrection appends a signed income adjustment.
func AddIncomeCorrection(c *gin.Context) {
	var input correctionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	l, err := deps.Ledgers.AddIncomeCorrection(c.Request.Context(), c.Param("id"), input.Reason, *input.Adjustment, middleware.CurrentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ledgerResponse(l))
}

// VerifyLedger recomputes the ledger and log hashes.
func VerifyLedger(c *gin.Context) {
	mismatches, err := deps.Ledgers.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(mismatches))
	for _, m := range mismatches {
		out = append(out, gin.H{
			"kind":     m.Kind,
			"id":       m.ID,
			"stored":   m.Stored,
			"computed": m.Computed,
		})
	}
	c.JSON(http.StatusOK, gin.H{"valid": len(out) == 0, "mismatches": out})
}

// GetLedgerLogs lists the position log of a ledger in write order.
func GetLedgerLogs(c *gin.Context) {
	ctx, id := c.Request.Context(), c.Param("id")
	if _, err := deps.Ledgers.Get(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	entries, err := deps.Logs.Entries(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// GetLedgerTrack returns the logged positions as a GeoJSON LineString, or as
// WKB with ?format=wkb.
func GetLedgerTrack(c *gin.Context) {
	ctx, id := c.Request.Context(), c.Param("id")
	if _, err := deps.Ledgers.Get(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	if c.Query("format") == "wkb" {
		body, err := deps.Logs.TrackWKB(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/octet-stream", body)
		return
	}
	body, err := deps.Logs.TrackGeoJSON(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}

// GetEarnings totals miles, income and the mileage deduction over ?from=&to=.
func GetEarnings(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to are required"})
		return
	}
	ledgers, err := deps.Ledgers.Range(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, earnings.Summarize(ledgers, deps.MileageRate))
}
