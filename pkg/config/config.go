// Package config loads application configuration from BZR_* environment
// variables. Secrets are validated at startup; a missing JWT secret is a
// fatal, not a request-time surprise.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bzrportal/bzrportal/pkg/observability"
	"github.com/bzrportal/bzrportal/pkg/quota"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Token         TokenConfig
	Quota         QuotaConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CookieSecure marks auth cookies Secure; disable only for local
	// development over plain HTTP.
	CookieSecure bool

	CORSAllowedOrigins []string
}

// PostgresConfig holds the primary database settings
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the quota counter backend settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// TokenConfig holds signing and lifetime settings
type TokenConfig struct {
	// Secret signs both token classes. Required.
	Secret []byte
	// RefreshTTL is configurable per deployment. The access TTL is fixed
	// at 15 minutes and deliberately not exposed here: it bounds how long
	// a revoked credential keeps working.
	RefreshTTL time.Duration
}

// QuotaConfig holds the per-tier fixed-window rules
type QuotaConfig struct {
	AnonymousLimit      int64
	AnonymousWindow     time.Duration
	AuthenticatedLimit  int64
	AuthenticatedWindow time.Duration
	StrictLimit         int64
	StrictWindow        time.Duration

	// SweepInterval is how often expired counters and sessions are swept
	SweepInterval time.Duration
}

// Rules converts the config to the limiter's rule set.
func (q QuotaConfig) Rules() map[quota.Tier]quota.Rule {
	return map[quota.Tier]quota.Rule{
		quota.TierAnonymous:     {Limit: q.AnonymousLimit, Window: q.AnonymousWindow},
		quota.TierAuthenticated: {Limit: q.AuthenticatedLimit, Window: q.AuthenticatedWindow},
		quota.TierStrict:        {Limit: q.StrictLimit, Window: q.StrictWindow},
	}
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	defaults := quota.DefaultRules()

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("BZR_HOST", "0.0.0.0"),
			Port:               getEnv("BZR_PORT", "8080"),
			ReadTimeout:        getEnvDuration("BZR_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvDuration("BZR_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:        getEnvDuration("BZR_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout:    getEnvDuration("BZR_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:         getEnv("BZR_HEALTH_PORT", "9090"),
			CookieSecure:       getEnvBool("BZR_COOKIE_SECURE", true),
			CORSAllowedOrigins: splitNonEmpty(getEnv("BZR_CORS_ORIGINS", "")),
		},
		Postgres: PostgresConfig{
			URL:             getEnv("BZR_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("BZR_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("BZR_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("BZR_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("BZR_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("BZR_REDIS_PASSWORD", ""),
			DB:       getEnvInt("BZR_REDIS_DB", 0),
			PoolSize: getEnvInt("BZR_REDIS_POOL_SIZE", 10),
		},
		Token: TokenConfig{
			Secret:     []byte(getEnv("BZR_JWT_SECRET", "")),
			RefreshTTL: getEnvDuration("BZR_REFRESH_TTL", 30*24*time.Hour),
		},
		Quota: QuotaConfig{
			AnonymousLimit:      getEnvInt64("BZR_QUOTA_ANON_LIMIT", defaults[quota.TierAnonymous].Limit),
			AnonymousWindow:     getEnvDuration("BZR_QUOTA_ANON_WINDOW", defaults[quota.TierAnonymous].Window),
			AuthenticatedLimit:  getEnvInt64("BZR_QUOTA_AUTH_LIMIT", defaults[quota.TierAuthenticated].Limit),
			AuthenticatedWindow: getEnvDuration("BZR_QUOTA_AUTH_WINDOW", defaults[quota.TierAuthenticated].Window),
			StrictLimit:         getEnvInt64("BZR_QUOTA_STRICT_LIMIT", defaults[quota.TierStrict].Limit),
			StrictWindow:        getEnvDuration("BZR_QUOTA_STRICT_WINDOW", defaults[quota.TierStrict].Window),
			SweepInterval:       getEnvDuration("BZR_SWEEP_INTERVAL", time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("BZR_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("BZR_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("BZR_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("BZR_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("BZR_OTEL_SERVICE_NAME", "bzr-portal"),
			OTelServiceVersion: getEnv("BZR_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("BZR_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if len(c.Token.Secret) == 0 {
		return fmt.Errorf("BZR_JWT_SECRET is required")
	}
	if len(c.Token.Secret) < 32 {
		return fmt.Errorf("BZR_JWT_SECRET must be at least 32 bytes")
	}
	if c.Token.RefreshTTL <= 0 {
		return fmt.Errorf("refresh TTL must be positive")
	}

	if c.Postgres.URL == "" {
		return fmt.Errorf("BZR_POSTGRES_URL is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("BZR_REDIS_ADDR is required")
	}

	if c.Quota.AnonymousLimit <= 0 || c.Quota.AuthenticatedLimit <= 0 || c.Quota.StrictLimit <= 0 {
		return fmt.Errorf("quota limits must be positive")
	}
	if c.Quota.AnonymousWindow <= 0 || c.Quota.AuthenticatedWindow <= 0 || c.Quota.StrictWindow <= 0 {
		return fmt.Errorf("quota windows must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
