package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
	"github.com/velodata/cycling-data-aggregation/internal/activity/sources"
	httpapi "github.com/velodata/cycling-data-aggregation/internal/api/http"
	"github.com/velodata/cycling-data-aggregation/internal/cache"
	"github.com/velodata/cycling-data-aggregation/internal/clients"
	"github.com/velodata/cycling-data-aggregation/internal/config"
	"github.com/velodata/cycling-data-aggregation/internal/ratelimit"
	"github.com/velodata/cycling-data-aggregation/internal/scheduler"
	"github.com/velodata/cycling-data-aggregation/internal/store"
)

func main() {
	// Load configuration (including .env if present).
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound API calls.
	httpClient := &http.Client{
		Timeout: cfg.APITimeout,
	}

	// Disk cache for fetched payloads. An unusable cache directory is fatal.
	cacheStore, err := cache.New(cfg.CacheDir, cfg.CacheExpiry)
	if err != nil {
		log.Fatalf("failed to initialize cache: %v", err)
	}

	// Sources in fixed fetch order: Peloton first, then Strava.
	var srcs []activity.Source

	if cfg.PelotonConfigured() {
		peloton := clients.NewPelotonClient(httpClient, cfg.PelotonUserID, cfg.PelotonSessionID, cfg.PelotonAPIBase, cfg.PelotonTimezone)
		srcs = append(srcs, sources.NewPeloton(peloton, cfg.APITimeout))
	} else {
		log.Println("INFO: Peloton credentials not configured, skipping source")
	}

	if cfg.StravaConfigured() {
		strava := clients.NewStravaClient(httpClient, cfg.StravaClientID, cfg.StravaClientSecret, cfg.StravaRefreshToken, cfg.StravaAthleteID, "", "")
		limiter := ratelimit.New(activity.SourceStrava, cfg.RateWindowLimit, cfg.RateDailyLimit)
		srcs = append(srcs, sources.NewStrava(strava, limiter, cfg.APITimeout))
	} else {
		log.Println("INFO: Strava credentials not configured, skipping source")
	}

	if len(srcs) == 0 {
		log.Fatal("no activity sources configured; set Peloton and/or Strava credentials")
	}

	// Core orchestration and aggregation.
	retry := activity.NewRetryPolicy(cfg.MaxRetries, cfg.BaseRetryDelay)
	orch := activity.NewOrchestrator(cacheStore, srcs, retry, cfg.CacheExpiry)
	agg := activity.NewAggregator()

	// In-memory summary history with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	// Scheduler that periodically collects and aggregates data.
	sched := scheduler.New(cfg.FetchInterval, orch, agg, memStore)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "cycling-data-aggregation",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
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
			"service": "cycling-data-aggregation",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, orch, agg, memStore, cacheStore)

	// Start server with graceful shutdown
	go func() {
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
