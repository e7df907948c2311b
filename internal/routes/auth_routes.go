package routes

import (
	"github.com/gin-gonic/gin"

	"control_miles/internal/controllers"
)

func AuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/token", controllers.IssueToken)
	}
}
