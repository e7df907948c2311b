package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"control_miles/internal/config"
	"control_miles/internal/controllers"
	"control_miles/internal/detection"
	"control_miles/internal/earnings"
	"control_miles/internal/gpslog"
	"control_miles/internal/hub"
	"control_miles/internal/ledger"
	"control_miles/internal/logger"
	"control_miles/internal/middleware"
	"control_miles/internal/routes"
	"control_miles/internal/store"
	"control_miles/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration.")
	}

	// Initialize structured logging to file
	logger.Setup(cfg.LogFile, cfg.LogLevel)
	middleware.SetSecret(cfg.JWTSecret)

	repo, err := openStore(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Could not open storage.")
	}

	redisClient := config.ConnectRedis(cfg)
	events := hub.NewHub(redisClient)

	rate, err := decimal.NewFromString(cfg.MileageRate)
	if err != nil {
		logrus.WithError(err).WithField("mileage_rate", cfg.MileageRate).Warn("Bad mileage rate, using the default.")
		rate = earnings.DefaultMileageRate
	}

	settings := detection.NewSettingsStore(repo)
	ledgers := ledger.NewService(repo, repo, ledger.WithDevice(cfg.DeviceName))
	logs := gpslog.NewWriter(repo)
	feed := tracking.NewFeed(cfg.FeedBuffer)
	session := tracking.NewSession(tracking.Config{
		Positions: feed,
		Motion:    feed,
		Settings:  settings,
		Vehicles:  repo,
		Ledgers:   ledgers,
		Logs:      logs,
		Events:    events,
	})

	controllers.Bind(controllers.Deps{
		Ledgers:      ledgers,
		Logs:         logs,
		Settings:     settings,
		Vehicles:     repo,
		Session:      session,
		Feed:         feed,
		Hub:          events,
		MileageRate:  rate,
		PasscodeHash: []byte(cfg.PasscodeHash),
	})

	r := routes.SetupRouter()

	// Wrap with CORS
	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: middleware.EnableCORS(r),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.WithFields(logrus.Fields{"addr": cfg.ServerAddr, "storage": cfg.StorageDriver}).Info("Server running.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Server failed.")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown did not finish cleanly.")
	}
	if summary, err := session.Stop(shutdownCtx); err == nil {
		logrus.WithField("ledger_id", summary.LedgerID).Info("Open tracking session closed on shutdown.")
	} else if !errors.Is(err, tracking.ErrNoSession) {
		logrus.WithError(err).Warn("Could not close tracking session.")
	}
	events.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

func openStore(cfg config.Config) (store.Repository, error) {
	if cfg.StorageDriver != "postgres" {
		logrus.Warn("Using in-memory storage; ledgers are lost on restart.")
		return store.NewMemory(), nil
	}
	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	return store.NewGorm(db), nil
}
