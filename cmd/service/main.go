package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/config"
	httphandler "github.com/kjstillabower/weather-lookup-service/internal/http"
	"github.com/kjstillabower/weather-lookup-service/internal/lifecycle"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/service"
	"github.com/kjstillabower/weather-lookup-service/internal/store"
	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if cfg.WeatherAPIKey == "" {
		logger.Warn("WEATHER_API_KEY not set; provider-backed requests will fail with 500")
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}

	go func() {
		logger.Info("server starting", zap.String("addr", app.server.Addr), zap.String("database", cfg.DatabasePath))
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	app.shutdown(cfg, logger)
	logger.Info("shutdown complete")
}

// app is the wired service: HTTP server plus the resources it must release.
type app struct {
	server *http.Server
	store  *store.SQLiteStore
}

// newApp builds the client, store, service and router from cfg.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	weatherClient, err := client.NewWeatherbitClient(client.Config{
		APIKey:                  cfg.WeatherAPIKey,
		BaseURL:                 cfg.WeatherAPIURL,
		Timeout:                 cfg.WeatherAPITimeout,
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerTimeout:          cfg.BreakerTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
		zap.Duration("timeout", cfg.BreakerTimeout))

	recordStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}

	weatherService := service.NewWeatherService(weatherClient, recordStore, cfg.ForecastDays, cfg.RangeForecastDays)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	tracker := traffic.NewTracker(cfg.HealthWindow)
	handler := httphandler.NewHandler(weatherService, httphandler.HandlerConfig{
		LocationMinLength:  cfg.LocationMinLength,
		LocationMaxLength:  cfg.LocationMaxLength,
		StorePing:          recordStore.Ping,
		BreakerState:       weatherClient.BreakerState,
		Traffic:            tracker,
		HealthMinSamples:   cfg.HealthMinSamples,
		DegradedErrorRate:  float64(cfg.DegradedErrorRatePct) / 100,
		OverloadDenialRate: float64(cfg.OverloadDenialRatePct) / 100,
	}, logger)

	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
		Traffic:        tracker,
	}, logger)

	return &app{
		server: &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		},
		store: recordStore,
	}, nil
}

// shutdown drains the server, waits for in-flight requests, flushes logs and closes the store.
func (a *app) shutdown(cfg *config.Config, logger *zap.Logger) {
	lifecycle.SetShuttingDown(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := a.store.Close(); err != nil {
		logger.Error("record store close", zap.Error(err))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
}
