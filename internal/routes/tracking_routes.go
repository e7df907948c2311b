package routes

import (
	"github.com/gin-gonic/gin"

	"control_miles/internal/controllers"
	"control_miles/internal/middleware"
)

func TrackingRoutes(r *gin.Engine) {
	tracking := r.Group("/tracking")
	tracking.Use(middleware.RequireAuth())
	{
		tracking.POST("/start", controllers.StartTracking)
		tracking.POST("/stop", controllers.StopTracking)
		tracking.GET("/status", controllers.TrackingStatus)
		tracking.POST("/samples", controllers.PushSamples)
		tracking.POST("/motion", controllers.PushMotion)
		tracking.POST("/permission-denied", controllers.ReportPermissionDenied)
		tracking.GET("/gig-apps", controllers.ListGigApps)
		tracking.PUT("/gig-app", controllers.DeclareGigApp)
	}
}
