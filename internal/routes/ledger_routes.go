package routes

import (
	"github.com/gin-gonic/gin"

	"control_miles/internal/controllers"
	"control_miles/internal/middleware"
)

func LedgerRoutes(r *gin.Engine) {
	ledgers := r.Group("/ledgers")
	ledgers.Use(middleware.RequireAuth())
	{
		ledgers.GET("", controllers.ListLedgers)
		ledgers.POST("", controllers.OpenLedger)
		ledgers.GET("/today", controllers.GetTodayLedger)
		ledgers.GET("/:id", controllers.GetLedger)
		ledgers.DELETE("/:id", controllers.DeleteLedger)
		ledgers.PUT("/:id/odometer", controllers.SetOdometer)
		ledgers.POST("/:id/odometer/:edge", controllers.CaptureOdometer) // edge is start or end
		ledgers.PUT("/:id/income", controllers.RecordIncome)
		ledgers.POST("/:id/corrections/mileage", controllers.ApplyMileageCorrection)
		ledgers.POST("/:id/corrections/income", controllers.AddIncomeCorrection)
		ledgers.GET("/:id/verify", controllers.VerifyLedger)
		ledgers.GET("/:id/logs", controllers.GetLedgerLogs)
		ledgers.GET("/:id/track", controllers.GetLedgerTrack)
	}

	r.GET("/earnings", middleware.RequireAuth(), controllers.GetEarnings)
}
