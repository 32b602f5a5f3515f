package bootstrap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"teamera_server/adapter/in/http"
	"teamera_server/config"
	"teamera_server/infra/database"
	"teamera_server/infra/middleware"
	"teamera_server/pkg/logger"
	"teamera_server/pkg/metrics"
)

const (
	bodyLimit      = 1 << 20
	maxProfileBody = 256 << 10
	sweepInterval  = 5 * time.Minute
	allowedHeaders = "Origin,Content-Type,Accept,Authorization,X-Request-ID"
)

// NewAPI builds the HTTP server. The returned cleanup closes every
// connection opened for it.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.ParseLevel(cfg.LogLevel)
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "teamera-api",
	})
	log := NewLogger(cfg, "teamera-api")

	deps, cleanup, err := NewDependencies(context.Background(), cfg, log)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             bodyLimit,
		ServerHeader:          "",
		IdleTimeout:           2 * time.Minute,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/stream")
		},
	}))
	app.Use(cors.New(corsConfig(cfg)))

	app.Get("/metrics", metrics.Handler())
	healthHandler(deps).Register(app)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	stopSweep := startSweeper(limiter)

	public := app.Group("/api")
	http.NewHelloHandler().Register(public)

	users := http.NewUserHandler(deps.Supabase)
	users.RegisterPublic(app.Group("/api/v1"), limiter.Handler(), middleware.JSONBody())

	api := app.Group("/api/v1",
		deps.Authenticator.Required(),
		limiter.Handler(),
		middleware.JSONBody(),
		middleware.MaxBodySize(maxProfileBody),
		middleware.Audit(log, deps.AuditSink),
	)
	http.NewProfileHandler(deps.ProfileService, deps.SSEHub, deps.SSEHub.Heartbeat(), log).Register(api)
	http.NewAuthHandler(deps.Authenticator.Blacklist()).Register(api)
	users.Register(api)

	logger.Info("API server initialized")

	return app, func() {
		stopSweep()
		cleanup()
	}, nil
}

// corsConfig keeps credentials off when origins are not listed explicitly.
func corsConfig(cfg *config.Config) cors.Config {
	origins := strings.Join(cfg.AllowedOrigins, ",")
	credentials := true
	if origins == "" || origins == "*" {
		if cfg.IsProduction() {
			origins = ""
			credentials = false
		} else {
			origins = "http://localhost:3000,http://localhost:5173"
		}
	}
	return cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     allowedHeaders,
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset,Retry-After",
		AllowCredentials: credentials,
		MaxAge:           86400,
	}
}

func healthHandler(deps *Dependencies) *http.HealthHandler {
	h := http.NewHealthHandler().
		AddCheck("supabase", func(ctx context.Context) error {
			if !deps.Supabase.TestConnection(ctx) {
				return errors.New("supabase unreachable")
			}
			return nil
		}).
		AddInfo("sse", func() any { return deps.SSEHub.Stats() }).
		AddInfo("backend_latency", func() any { return metrics.Global().Snapshot() }).
		AddInfo("profile_watches", func() any { return deps.ProfileService.Watching() })

	if deps.Redis != nil {
		h.AddOptionalCheck("redis", deps.Cache.Ping).
			AddInfo("redis_pool", func() any { return database.GetRedisStats(deps.Redis) })
	}
	if deps.DB != nil {
		h.AddOptionalCheck("postgres", deps.DB.Ping).
			AddInfo("db_pools", func() any { return metrics.PoolHealthAll() })
	}
	return h
}

func startSweeper(limiter *middleware.RateLimiter) func() {
	ticker := time.NewTicker(sweepInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := limiter.Sweep(); n > 0 {
					logger.Debug("Swept %d idle rate limit buckets", n)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}
