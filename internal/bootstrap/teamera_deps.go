package bootstrap

import (
	"context"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"teamera_server/adapter/out/persistence"
	"teamera_server/adapter/out/realtime"
	"teamera_server/adapter/out/supabase"
	"teamera_server/config"
	"teamera_server/core/port/out"
	"teamera_server/core/service/profile"
	"teamera_server/infra/database"
	"teamera_server/infra/middleware"
	"teamera_server/internal/stream"
	"teamera_server/pkg/cache"
	"teamera_server/pkg/httputil"
	"teamera_server/pkg/logger"
)

const cachePrefix = "teamera"

type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	// Optional infrastructure; nil when not configured.
	DB    *pgxpool.Pool
	SQLDB *sqlx.DB
	Redis *redis.Client
	Cache *cache.RedisCache

	Supabase *supabase.Facade
	Realtime *supabase.Realtime
	Profiles out.ProfileStore
	SSEHub   *realtime.SSEHub

	ProfileService *profile.Service
	Authenticator  *middleware.Authenticator

	// AuditSink is nil without Redis.
	AuditSink middleware.AuditSink
}

// NewLogger builds the zerolog root logger handed to components.
func NewLogger(cfg *config.Config, service string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsDevelopment() && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}

	var log zerolog.Logger
	if cfg.IsDevelopment() {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.Level(level).With().Timestamp().Str("service", service).Logger()
}

func NewDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Log: log}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	facade, err := supabase.NewFacade(supabase.FacadeConfig{
		URL:            cfg.SupabaseURL,
		ServiceRoleKey: cfg.SupabaseServiceRoleKey,
		AnonKey:        cfg.SupabaseAnonKey,
		HTTPClient:     httputil.SupabaseClient(),
		Logger:         log,
	})
	if err != nil {
		return nil, nil, err
	}
	deps.Supabase = facade

	// Direct database access is optional; PostgREST is used otherwise.
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.DB = pool
		cleanups = append(cleanups, pool.Close)

		sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL, int(database.DefaultPostgresConfig().MaxConns))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { _ = sqlDB.Close() })
		logger.Info("Profiles served from Postgres directly")
	}

	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			// Redis only backs the cache and the blacklist.
			logger.WithError(err).Warn("Redis unavailable, continuing without cache")
		} else {
			deps.Redis = client
			deps.Cache = cache.NewRedisCache(client, cachePrefix)
			deps.AuditSink = stream.NewAuditLog(stream.NewRedisStream(client, 0))
			cleanups = append(cleanups, func() { _ = client.Close() })
		}
	}

	var store out.ProfileStore
	if deps.SQLDB != nil {
		store = persistence.NewProfileRepository(deps.SQLDB)
	} else {
		store = supabase.NewProfileStore(facade.Admin, nil)
	}
	if deps.Cache != nil {
		store = persistence.NewCachedProfileStore(store, persistence.NewProfileCache(deps.Cache), cfg.ProfileCacheTTL, log)
	}
	deps.Profiles = store

	deps.Realtime = supabase.NewRealtime(facade.Admin, supabase.RealtimeConfig{Heartbeat: cfg.RealtimeHeartbeat})
	cleanups = append(cleanups, func() { _ = deps.Realtime.Close() })

	deps.SSEHub = realtime.NewSSEHub(log)
	deps.SSEHub.SetHeartbeat(cfg.RealtimeHeartbeat)

	deps.ProfileService = profile.NewService(store, deps.Realtime, deps.SSEHub, log)
	cleanups = append(cleanups, deps.ProfileService.Close)

	var blacklist *middleware.TokenBlacklist
	if deps.Cache != nil {
		blacklist = middleware.NewTokenBlacklist(deps.Cache, log)
	}
	deps.Authenticator = middleware.NewAuthenticator(middleware.AuthConfig{
		JWTSecret: cfg.JWTSecret,
		JWKS:      middleware.NewJWKSCache(cfg.JWKSURL(), httputil.DefaultClient(), log),
		Blacklist: blacklist,
		Remote:    facade,
		Logger:    log,
	})

	return deps, cleanup, nil
}
