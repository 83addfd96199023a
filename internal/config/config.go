package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	placeholderAccessSecret  = "dev-access-secret-change-in-production"
	placeholderRefreshSecret = "dev-refresh-secret-change-in-production"
)

// Token lifetimes per environment.
const (
	devAccessTTL   = 10 * time.Minute
	devRefreshTTL  = 7 * 24 * time.Hour
	prodAccessTTL  = 5 * 24 * time.Hour
	prodRefreshTTL = 30 * 24 * time.Hour
)

// Config holds runtime configuration for the auth service.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	Port        string `envconfig:"PORT" default:"9100"`

	DatabaseURL    string `envconfig:"DATABASE_URL" default:"file:auth.db"`
	DatabaseDriver string `envconfig:"DATABASE_DRIVER"`
	AutoMigrate    bool   `envconfig:"AUTO_MIGRATE" default:"false"`

	JWTAccessSecret  string        `envconfig:"JWT_ACCESS_SECRET" default:"dev-access-secret-change-in-production"`
	JWTRefreshSecret string        `envconfig:"JWT_REFRESH_SECRET" default:"dev-refresh-secret-change-in-production"`
	JWTAccessExpire  time.Duration `envconfig:"JWT_ACCESS_EXPIRE"`
	JWTRefreshExpire time.Duration `envconfig:"JWT_REFRESH_EXPIRE"`

	HashAlgorithm   string `envconfig:"HASH_ALGORITHM" default:"bcrypt"`
	BcryptCost      int    `envconfig:"BCRYPT_COST" default:"10"`
	HashConcurrency int64  `envconfig:"HASH_CONCURRENCY" default:"0"`

	RateLimitMax           int           `envconfig:"RATE_LIMIT_MAX" default:"5"`
	RateLimitWindow        time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	RateLimitSweepInterval time.Duration `envconfig:"RATE_LIMIT_SWEEP_INTERVAL" default:"60s"`
	RateLimitBackend       string        `envconfig:"RATE_LIMIT_BACKEND" default:"memory"`
	RedisAddr              string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	TrustProxyHeaders      bool          `envconfig:"TRUST_PROXY_HEADERS" default:"false"`

	ThrottleRPS   float64 `envconfig:"THROTTLE_RPS" default:"0"`
	ThrottleBurst int     `envconfig:"THROTTLE_BURST" default:"20"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,https://outs-www.vercel.app,capacitor://deno.dev,https://deno.dev,https://outs-sw.loca.lt,https://outs.tand.ing,https://server-new.onedrawtwo.com"`

	LogFormat      string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`

	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LoadDotEnv loads .env.<ENVIRONMENT> and then .env from the working
// directory. Variables already set in the process environment win, and
// missing files are skipped. It returns the files that were loaded.
func LoadDotEnv() []string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = EnvDevelopment
	}

	var loaded []string
	for _, name := range []string{".env." + env, ".env"} {
		if err := godotenv.Load(name); err == nil {
			loaded = append(loaded, name)
		}
	}
	return loaded
}

// Load reads configuration from the environment, fills in the
// environment-dependent token lifetimes and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}
	if cfg.JWTAccessExpire == 0 {
		cfg.JWTAccessExpire = devAccessTTL
		if cfg.IsProduction() {
			cfg.JWTAccessExpire = prodAccessTTL
		}
	}
	if cfg.JWTRefreshExpire == 0 {
		cfg.JWTRefreshExpire = devRefreshTTL
		if cfg.IsProduction() {
			cfg.JWTRefreshExpire = prodRefreshTTL
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and, in production, refuses placeholder or
// shared signing secrets.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must not be empty"))
	}
	if c.JWTAccessExpire <= 0 || c.JWTRefreshExpire <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.RateLimitMax < 1 || c.RateLimitWindow <= 0 || c.RateLimitSweepInterval <= 0 {
		errs = append(errs, errors.New("rate limit max, window and sweep interval must be positive"))
	}
	switch c.RateLimitBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimitBackend))
	}
	switch strings.ToLower(c.HashAlgorithm) {
	case "bcrypt", "argon2id", "argon2":
	default:
		errs = append(errs, fmt.Errorf("HASH_ALGORITHM must be bcrypt or argon2id, got %q", c.HashAlgorithm))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}

	if c.IsProduction() {
		if c.JWTAccessSecret == placeholderAccessSecret || c.JWTRefreshSecret == placeholderRefreshSecret {
			errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be set in production"))
		}
		if c.JWTAccessSecret == c.JWTRefreshSecret {
			errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Warnings lists settings that are acceptable in development but would be
// rejected in production.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.JWTAccessSecret == placeholderAccessSecret {
		warnings = append(warnings, "JWT_ACCESS_SECRET is the development placeholder")
	}
	if c.JWTRefreshSecret == placeholderRefreshSecret {
		warnings = append(warnings, "JWT_REFRESH_SECRET is the development placeholder")
	}
	return warnings
}

// IsProduction returns true when the service runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Environment == EnvProduction
}
