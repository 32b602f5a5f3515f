package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"teamera_server/adapter/out/persistence"
	"teamera_server/adapter/out/supabase"
	"teamera_server/config"
	"teamera_server/core/port/in"
	"teamera_server/core/port/out"
	"teamera_server/core/service/session"
	"teamera_server/infra/database"
	"teamera_server/pkg/apperr"
	"teamera_server/pkg/cache"
	"teamera_server/pkg/crypto"
	"teamera_server/pkg/httputil"
)

var (
	noColor      bool
	verbose      bool
	sessionFile  string
	redisSession bool
)

var rootCmd = &cobra.Command{
	Use:           "teamera",
	Short:         "Sign in to Teamera and manage your profile",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log backend calls")
	rootCmd.PersistentFlags().StringVar(&sessionFile, "session-file", "", "where the session is kept (default from TEAMERA_SESSION_FILE)")
	rootCmd.PersistentFlags().BoolVar(&redisSession, "redis-session", false, "keep the session in Redis at REDIS_URL instead of a file")

	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd, whoamiCmd, profileCmd,
		updateProfileCmd, resetPasswordCmd, oauthCmd, watchCmd)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%s", apperr.Message(err))
		os.Exit(1)
	}
}

// openSession is replaced in tests.
var openSession = func(ctx context.Context) (in.SessionManager, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if sessionFile != "" {
		cfg.SessionFile = sessionFile
	}
	return newManager(ctx, cfg)
}

// newManager wires a session manager against the anon key. The session is
// persisted to cfg.SessionFile, or to Redis with --redis-session, and is
// encrypted when ENCRYPTION_KEY is set.
func newManager(ctx context.Context, cfg *config.Config) (in.SessionManager, func(), error) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: noColor}).
		Level(level).With().Timestamp().Logger()

	var enc *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		e, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			return nil, nil, fmt.Errorf("encryption key: %w", err)
		}
		enc = e
	}

	client, err := supabase.NewClient(supabase.Config{
		URL:        cfg.SupabaseURL,
		APIKey:     cfg.SupabaseAnonKey,
		Name:       "anon",
		HTTPClient: httputil.SupabaseClient(),
		Logger:     log,
	})
	if err != nil {
		return nil, nil, err
	}

	var closers []func()
	var sessions out.SessionStore = persistence.NewFileSessionStore(cfg.SessionFile, enc)
	if redisSession {
		if cfg.RedisURL == "" {
			return nil, nil, errors.New("--redis-session needs REDIS_URL")
		}
		rdb, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		sessions = persistence.NewRedisSessionStore(cache.NewRedisCache(rdb, "teamera"), "session:cli", 0, enc)
	}

	auth := supabase.NewAuthSession(client,
		supabase.WithSessionStore(sessions),
		supabase.WithEmailRedirect(cfg.SiteURL),
	)
	store := supabase.NewProfileStore(client, auth.AccessToken)
	rt := supabase.NewRealtime(client, supabase.RealtimeConfig{
		Heartbeat:   cfg.RealtimeHeartbeat,
		AccessToken: auth.AccessToken,
	})

	m := session.NewManager(auth, store,
		session.WithSiteURL(cfg.SiteURL),
		session.WithLogger(log),
		session.WithChangeFeed(rt),
		session.WithTimings(session.Timings{
			ProfileFetchTimeout:  cfg.ProfileFetchTimeout,
			SignupReconcileDelay: cfg.SignupReconcileDelay,
			UserRetryDelay:       cfg.UserRetryDelay,
		}),
	)
	closeAll := func() {
		m.Dispose()
		_ = rt.Close()
		auth.Close()
		for _, c := range closers {
			c()
		}
	}
	if err := m.Initialize(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	return m, closeAll, nil
}
