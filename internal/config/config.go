// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	ShutdownTimeout time.Duration
	DB              DBConfig
	Auth            AuthConfig
	Redis           RedisConfig
	Media           MediaConfig
	Relay           RelayConfig
	RateLimit       RateLimitConfig
}

// DBConfig selects the storage driver.
type DBConfig struct {
	Driver string // "sqlite" or "postgres"
	Path   string // SQLite file
	DSN    string // PostgreSQL connection string
}

// AuthConfig holds user token verification settings.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// RedisConfig enables the shared feed bus when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	Channel  string
}

// MediaConfig controls audio clip storage.
type MediaConfig struct {
	Dir           string
	PublicBaseURL string
	MaxBytes      int64
}

// RelayConfig controls the webhook relay worker pool.
type RelayConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseBackoff    time.Duration
}

// RateLimitConfig limits inbound webhook calls per API key.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		Port:            port,
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		DB:              loadDB(),
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer: getEnv("AUTH_JWT_ISSUER", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			Channel:  getEnv("REDIS_CHANNEL", "amora:feed"),
		},
		Media: MediaConfig{
			Dir:           getEnv("MEDIA_DIR", "./data/media"),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:"+port),
			MaxBytes:      int64(getEnvInt("MEDIA_MAX_BYTES", 10<<20)),
		},
		Relay: RelayConfig{
			Workers:        getEnvInt("RELAY_WORKERS", 4),
			QueueSize:      getEnvInt("RELAY_QUEUE_SIZE", 256),
			MaxAttempts:    getEnvInt("RELAY_MAX_ATTEMPTS", 3),
			AttemptTimeout: getEnvDuration("RELAY_ATTEMPT_TIMEOUT", 10*time.Second),
			BaseBackoff:    getEnvDuration("RELAY_BACKOFF", 500*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("WEBHOOK_RATE_LIMIT_ENABLED", true),
			RPS:     getEnvFloat("WEBHOOK_RATE_LIMIT_RPS", 10),
			Burst:   getEnvInt("WEBHOOK_RATE_LIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET cannot be empty")
	}
	if c.Media.Dir == "" {
		return fmt.Errorf("MEDIA_DIR cannot be empty")
	}
	if c.Media.MaxBytes <= 0 {
		return fmt.Errorf("MEDIA_MAX_BYTES must be > 0")
	}
	if c.Relay.Workers <= 0 || c.Relay.QueueSize <= 0 || c.Relay.MaxAttempts <= 0 {
		return fmt.Errorf("RELAY_WORKERS, RELAY_QUEUE_SIZE and RELAY_MAX_ATTEMPTS must be > 0")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT_RPS and WEBHOOK_RATE_LIMIT_BURST must be > 0")
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string { return c.DB.Source() }

// LoadDB reads only the storage settings, for tooling that runs without the
// server's secrets.
func LoadDB() (DBConfig, error) {
	db := loadDB()
	if err := db.Validate(); err != nil {
		return DBConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return db, nil
}

func loadDB() DBConfig {
	return DBConfig{
		Driver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		Path:   getEnv("DB_PATH", "./data/amora.db"),
		DSN:    getEnv("DB_DSN", ""),
	}
}

// Validate checks the driver and its connection setting.
func (d DBConfig) Validate() error {
	switch d.Driver {
	case "sqlite":
		if d.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if d.DSN == "" {
			return fmt.Errorf("DB_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", d.Driver)
	}
	return nil
}

// Source returns the SQLite path or the PostgreSQL DSN.
func (d DBConfig) Source() string {
	if d.Driver == "postgres" {
		return d.DSN
	}
	return d.Path
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origin list.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
