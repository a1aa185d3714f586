package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/leatham22/Friend-convenient-meetup/internal/api"
	"github.com/leatham22/Friend-convenient-meetup/internal/cache"
	"github.com/leatham22/Friend-convenient-meetup/internal/config"
	"github.com/leatham22/Friend-convenient-meetup/internal/db"
	"github.com/leatham22/Friend-convenient-meetup/internal/graph"
	"github.com/leatham22/Friend-convenient-meetup/internal/logging"
	"github.com/leatham22/Friend-convenient-meetup/internal/middleware"
	"github.com/leatham22/Friend-convenient-meetup/internal/query"
	"github.com/leatham22/Friend-convenient-meetup/internal/tfl"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	verbose := flag.BoolP("verbose", "v", false, "Enable debug logging")
	flag.Parse()

	_ = godotenv.Load(*envFile)

	log := logging.New(*verbose)
	log.Info("starting meetup API server")

	cfg := config.LoadQueryFromEnv()
	if cfg.APIToken == "" {
		log.Error("TFL_API_TOKEN is required")
		os.Exit(1)
	}

	g, err := graph.LoadFile(cfg.GraphPath)
	if err != nil {
		log.Error("failed to load graph", "path", cfg.GraphPath, "error", err)
		os.Exit(1)
	}
	log.Info("graph loaded", "hubs", g.HubCount(), "edges", g.EdgeCount())

	rdb, err := cache.GetClient()
	if err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer cache.Close()
	log.Info("redis connection established")

	// Analytics are best-effort: the API runs without Postgres
	pool, err := db.GetDB()
	if err != nil {
		log.Warn("database unavailable, analytics disabled", "error", err)
		pool = nil
	} else {
		defer db.Close()
		log.Info("database connection established")
	}

	client := tfl.NewClient(tfl.DefaultConfig(cfg.APIToken), nil, log)
	engine := query.NewEngine(g, client, cfg, log)

	cacheCfg := cache.LoadConfigFromEnv()
	handlers := api.NewHandlers(engine, cacheCfg.TTL, cacheCfg.MutexTTL, log)

	app := fiber.New(fiber.Config{
		AppName:      "Meetup API",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: errorHandler(log),
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	app.Use(middleware.AnalyticsMiddleware(pool, log))
	app.Use(middleware.RateLimitMiddleware(rdb, middleware.DefaultRateLimits))

	app.Get("/health", handlers.Health)
	app.Get("/v2/hubs/search", handlers.HubsSearch)
	app.Post("/v2/meetup", handlers.Meetup)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	})

	port := os.Getenv("API_PORT")
	if port == "" {
		port = "8080"
	}
	addr := fmt.Sprintf(":%s", port)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down gracefully")
		if err := app.Shutdown(); err != nil {
			log.Error("error during shutdown", "error", err)
		}
	}()

	log.Info("server listening", "addr", addr)
	if err := app.Listen(addr); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}

// errorHandler renders unhandled handler errors as JSON
func errorHandler(log interface{ Error(string, ...any) }) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}
		log.Error("request failed", "path", c.Path(), "error", err)
		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
