package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/i474232898/weather-series/internal/api/http"
	"github.com/i474232898/weather-series/internal/config"
	"github.com/i474232898/weather-series/internal/metrics"
	"github.com/i474232898/weather-series/internal/scheduler"
	"github.com/i474232898/weather-series/internal/store"
	"github.com/i474232898/weather-series/internal/weather"
	"github.com/i474232898/weather-series/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Metrics registry; nil when disabled.
	var (
		reg      *prometheus.Registry
		recorder weather.Metrics
	)
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.New(reg)
	}

	// Persistent store, opened once per process.
	seriesStore, err := store.New(cfg.StoreConfig())
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	openCtx, cancelOpen := context.WithTimeout(context.Background(), 30*time.Second)
	err = seriesStore.Open(openCtx)
	cancelOpen()
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer func() {
		if err := seriesStore.Close(); err != nil {
			log.Printf("error closing store: %v", err)
		}
	}()

	// Shared HTTP client for outbound dataset downloads.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Remote source with resilience (backoff + circuit breaker).
	remote := providers.NewDatasetSource(httpClient, cfg.RemoteConfig())

	// Cache coordinator over store and remote source.
	service := weather.NewService(seriesStore, remote, weather.ServiceConfig{
		Datasets: cfg.Datasets,
		Metrics:  recorder,
	})

	// Scheduler that keeps every dataset populated.
	sched := scheduler.New(cfg.Datasets, cfg.WarmInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "weather-series",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// A cold query downloads the full dataset before responding.
		WriteTimeout: cfg.HTTPTimeout + 10*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-series",
		})
	})

	if reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	// API routes.
	httpapi.RegisterRoutes(app, service, recorder)

	// Start server with graceful shutdown
	go func() {
		log.Printf("INFO: listening on :%s (store=%s, datasets=%v)", cfg.Port, cfg.StoreDriver, cfg.Datasets)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
