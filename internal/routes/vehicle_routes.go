package routes

import (
	"github.com/gin-gonic/gin"

	"control_miles/internal/controllers"
	"control_miles/internal/middleware"
)

func VehicleRoutes(r *gin.Engine) {
	vehicle := r.Group("/vehicles")
	vehicle.Use(middleware.RequireAuth())
	{
		vehicle.POST("", controllers.CreateVehicle)
		vehicle.GET("", controllers.ListVehicles)
		vehicle.GET("/:id", controllers.GetVehicle)
		vehicle.PUT("/:id", controllers.UpdateVehicle)
		vehicle.POST("/:id/activate", controllers.ActivateVehicle)
	}
}
