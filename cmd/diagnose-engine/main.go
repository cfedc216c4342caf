package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retailpulse/diagnose/internal/api"
	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/detector"
	"github.com/retailpulse/diagnose/internal/engine"
	"github.com/retailpulse/diagnose/internal/hypotheses"
	"github.com/retailpulse/diagnose/internal/metrics"
	"github.com/retailpulse/diagnose/internal/pubsub"
	"github.com/retailpulse/diagnose/internal/services"
	"github.com/retailpulse/diagnose/internal/store"
	"github.com/retailpulse/diagnose/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting diagnose-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open store", slog.String("path", cfg.Storage.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		logger.Error("failed to migrate store", slog.Any("error", err))
		os.Exit(1)
	}
	cancelMigrate()

	calendar, err := hypotheses.LoadCalendar(cfg.Calendar.Path)
	if err != nil {
		logger.Error("failed to load festival calendar", slog.String("path", cfg.Calendar.Path), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("festival calendar loaded", slog.Int("entries", len(calendar)))

	anomalyDetector := detector.New(logger, db, db, cfg.Tuning)
	registry := hypotheses.NewRegistry(db, calendar, cfg.Tuning)
	broker := pubsub.NewBroker()

	pipeline := engine.NewPipeline(
		logger,
		db,
		anomalyDetector,
		registry,
		cfg.Tuning,
		cfg.Server.StageTimeout,
		broker.Publish,
	)

	diagnosisService := services.NewDiagnosisService(logger, db, pipeline, broker)
	handler := api.NewHandler(logger, diagnosisService)
	server := api.NewServer(logger, cfg.Server, handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Let in-flight diagnosis runs write their final state.
	diagnosisService.Wait()
	logger.Info("diagnose-engine stopped")
}
