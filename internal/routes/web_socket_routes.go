package routes

import (
	"github.com/gin-gonic/gin"

	"control_miles/internal/controllers"
	"control_miles/internal/middleware"
)

// WebSocketRoutes authenticate with the token query parameter, since browsers
// cannot set headers on an upgrade request.
func WebSocketRoutes(r *gin.Engine) {
	wsRoutes := r.Group("/ws")
	wsRoutes.Use(middleware.RequireAuth())
	{
		wsRoutes.GET("/events", controllers.HandleEventsWebSocket)
		wsRoutes.GET("/device", controllers.HandleDeviceWebSocket)
	}
}
