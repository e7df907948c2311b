package routes

import (
	"net/http"

	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRouter builds the engine. Handlers read their dependencies from
// controllers.Bind, so call that first.
func SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginlog.SetLogger(
		ginlog.WithWriter(logrus.StandardLogger().Writer()),
		ginlog.WithSkipPath([]string{"/healthz"}),
		ginlog.WithUTC(true),
	))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	AuthRoutes(r)
	LedgerRoutes(r)
	TrackingRoutes(r)
	SettingsRoutes(r)
	VehicleRoutes(r)
	WebSocketRoutes(r)

	return r
}
