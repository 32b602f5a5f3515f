package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"teamera_server/adapter/out/supabase"
	"teamera_server/config"
	"teamera_server/internal/bootstrap"
	"teamera_server/pkg/httputil"
	"teamera_server/pkg/logger"
)

const (
	shutdownTimeout = 30 * time.Second
	probeTimeout    = 15 * time.Second
)

func main() {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "teamera",
	})

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "api", "Run mode: api, probe")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	switch *mode {
	case "api":
		runAPI(cfg)
	case "probe":
		if !runProbe(cfg) {
			os.Exit(1)
		}
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runAPI(cfg *config.Config) {
	app, cleanup, err := bootstrap.NewAPI(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize API: %v", err)
	}
	defer cleanup()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
			return
		}
		logger.Info("API server shut down gracefully")
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

// runProbe checks the connection, the admin listing and that an anonymous
// client starts without a session.
func runProbe(cfg *config.Config) bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	log := bootstrap.NewLogger(cfg, "teamera-probe")
	facade, err := supabase.NewFacade(supabase.FacadeConfig{
		URL:            cfg.SupabaseURL,
		ServiceRoleKey: cfg.SupabaseServiceRoleKey,
		AnonKey:        cfg.SupabaseAnonKey,
		HTTPClient:     httputil.SupabaseClient(),
		Logger:         log,
	})
	if err != nil {
		logger.Error("Probe setup failed: %v", err)
		return false
	}

	ok := true
	if facade.TestConnection(ctx) {
		logger.Info("Connection: ok")
	} else {
		logger.Error("Connection: failed")
		ok = false
	}

	users, err := facade.ListUsers(ctx, 1, 10)
	if err != nil {
		logger.Error("Admin user listing failed: %v", err)
		ok = false
	} else {
		logger.Info("Admin user listing: %d users on the first page", len(users))
		for _, u := range users {
			logger.WithField("user_id", u.ID).Info("  %s", u.Email)
		}
	}

	anon := supabase.NewAuthSession(facade.Anon)
	defer anon.Close()
	sess, err := anon.GetSession(ctx)
	switch {
	case err != nil:
		logger.Error("Anon session check failed: %v", err)
		ok = false
	case sess != nil:
		logger.Warn("Anon client unexpectedly holds a session")
	default:
		logger.Info("Anon session check: no session, as expected")
	}
	return ok
}
