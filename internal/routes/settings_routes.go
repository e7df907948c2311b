package routes

import (
	"github.com/gin-gonic/gin"

	"control_miles/internal/controllers"
	"control_miles/internal/middleware"
)

func SettingsRoutes(r *gin.Engine) {
	settings := r.Group("/settings")
	settings.Use(middleware.RequireAuth())
	{
		settings.GET("/detection", controllers.GetDetectionSettings)
		settings.PATCH("/detection", controllers.UpdateDetectionSettings)
	}
}
