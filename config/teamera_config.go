package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Supabase
	SupabaseURL            string
	SupabaseAnonKey        string
	SupabaseServiceRoleKey string
	JWTSecret              string

	// Site the auth flows redirect back to
	SiteURL string

	// Optional infrastructure
	DatabaseURL string
	RedisURL    string

	// Session persistence
	EncryptionKey string
	SessionFile   string

	// Session manager timings
	ProfileFetchTimeout  time.Duration
	SignupReconcileDelay time.Duration
	UserRetryDelay       time.Duration

	// Cache
	ProfileCacheTTL time.Duration

	// Realtime
	RealtimeHeartbeat time.Duration

	// Rate limiting (per client IP)
	RateLimitPerMinute int

	// CORS
	AllowedOrigins []string
}

// Load reads the configuration from the environment. The Supabase URL and
// both keys are required.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		SupabaseURL:            strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseAnonKey:        getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", getEnv("SUPABASE_SERVICE_KEY", "")),
		JWTSecret:              getEnv("SUPABASE_JWT_SECRET", ""),

		SiteURL: strings.TrimRight(getEnv("SITE_URL", "http://localhost:3000"), "/"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		SessionFile:   getEnv("TEAMERA_SESSION_FILE", defaultSessionFile()),

		ProfileFetchTimeout:  getEnvDuration("PROFILE_FETCH_TIMEOUT", 5*time.Second),
		SignupReconcileDelay: getEnvDuration("SIGNUP_RECONCILE_DELAY", 100*time.Millisecond),
		UserRetryDelay:       getEnvDuration("USER_RETRY_DELAY", 300*time.Millisecond),

		ProfileCacheTTL: getEnvDuration("PROFILE_CACHE_TTL", 5*time.Minute),

		RealtimeHeartbeat: getEnvDuration("REALTIME_HEARTBEAT", 25*time.Second),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	var missing []string
	if cfg.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if cfg.SupabaseServiceRoleKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_ROLE_KEY")
	}
	if cfg.SupabaseAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}
	if len(missing) > 0 {
		return nil, errors.New("missing Supabase environment variables: " + strings.Join(missing, ", "))
	}

	return cfg, nil
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".teamera-session.json"
	}
	return dir + string(os.PathSeparator) + "teamera" + string(os.PathSeparator) + "session.json"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("250ms") or bare milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// JWKSURL is the project's signing-key endpoint.
func (c *Config) JWKSURL() string {
	return c.SupabaseURL + "/auth/v1/.well-known/jwks.json"
}
