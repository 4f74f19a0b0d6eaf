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
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httpapi "github.com/mvenkat/home-automation-hub/internal/api/http"
	"github.com/mvenkat/home-automation-hub/internal/config"
	"github.com/mvenkat/home-automation-hub/internal/device"
	"github.com/mvenkat/home-automation-hub/internal/hub"
	"github.com/mvenkat/home-automation-hub/internal/observability"
	"github.com/mvenkat/home-automation-hub/internal/poll"
	"github.com/mvenkat/home-automation-hub/internal/predict"
	"github.com/mvenkat/home-automation-hub/internal/scheduler"
	"github.com/mvenkat/home-automation-hub/internal/state"
	"github.com/mvenkat/home-automation-hub/internal/upstream"
)

func main() {
	zlog, err := observability.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal("failed to load config", zap.Error(err))
	}

	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	store := state.NewStore(cfg.MaxHistory)
	store.SetLocation(cfg.DefaultLocation)

	broadcast := hub.New(zlog)

	owm := upstream.NewOpenWeatherClient(httpClient, cfg.OWMAPIKey)
	wapi := upstream.NewWeatherAPIClient(httpClient, cfg.WeatherAPIKey)

	poller := poll.New(store, broadcast, owm, wapi, zlog)
	devices := device.NewProxy(httpClient, cfg.DeviceBaseURL, store, broadcast, zlog)
	predictor := predict.NewBridge(httpClient, cfg.PredictorURL)

	sched := scheduler.New(poller, devices, cfg.Intervals, zlog)
	if err := sched.Start(); err != nil {
		zlog.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "home-automation-hub",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "home-automation-hub",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Store:     store,
		Hub:       broadcast,
		Geo:       owm,
		Devices:   devices,
		Predictor: predictor,
		Live:      poller,
		Refresh:   sched,
		Log:       zlog,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			zlog.Error("fiber server stopped", zap.Error(err))
		}
	}()
	zlog.Info("api and realtime channel listening", zap.String("port", cfg.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zlog.Error("error during shutdown", zap.Error(err))
	}
}
