// Package config loads process configuration from an optional .env file and
// the environment using Viper. The result is immutable after Load.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"starterkit.dev/internal/store/pg"
)

// DevSecret is the signing secret written to .env.example. It is refused when
// APP_ENV=production.
const DevSecret = "change-me-in-production"

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment; "development" exposes internal
	// error messages in responses.
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the REST listener address.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr enables the gRPC health service when non-empty.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DatabaseURL is the Postgres DSN.
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxIdleTime time.Duration `mapstructure:"DB_CONN_MAX_IDLE_TIME"`
	DBConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	DBConnectTimeout  time.Duration `mapstructure:"DB_CONNECT_TIMEOUT"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	SeedsDir          string        `mapstructure:"SEEDS_DIR"`

	// JWTSecret signs HS256 access tokens. Required.
	JWTSecret string        `mapstructure:"JWT_SECRET"`
	JWTIssuer string        `mapstructure:"JWT_ISSUER"`
	JWTTTL    time.Duration `mapstructure:"JWT_TTL"`
	// BcryptCost is the bcrypt work factor (4-31).
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// RateLimitBurst and RateLimitPerSecond bound /auth/* calls per client IP.
	RateLimitBurst     int `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitPerSecond int `mapstructure:"RATE_LIMIT_PER_SECOND"`
	// RateLimitRedisAddr switches the limiter to a shared Redis counter.
	RateLimitRedisAddr     string `mapstructure:"RATE_LIMIT_REDIS_ADDR"`
	RateLimitRedisPassword string `mapstructure:"RATE_LIMIT_REDIS_PASSWORD"`
	RateLimitRedisDB       int    `mapstructure:"RATE_LIMIT_REDIS_DB"`
	// TrustProxyHeaders keys the limiter on X-Forwarded-For. Leave off
	// unless a reverse proxy overwrites or appends that header.
	TrustProxyHeaders bool `mapstructure:"TRUST_PROXY_HEADERS"`
}

var defaults = map[string]any{
	"APP_ENV":                   "development",
	"HTTP_ADDR":                 ":8080",
	"GRPC_ADDR":                 "",
	"LOG_LEVEL":                 "info",
	"DATABASE_URL":              "",
	"DB_MAX_OPEN_CONNS":         10,
	"DB_MAX_IDLE_CONNS":         10,
	"DB_CONN_MAX_IDLE_TIME":     "30s",
	"DB_CONN_MAX_LIFETIME":      "30m",
	"DB_CONNECT_TIMEOUT":        "2s",
	"MIGRATIONS_DIR":            "ops/migrations/sql",
	"SEEDS_DIR":                 "ops/migrations/seeds",
	"JWT_SECRET":                "",
	"JWT_ISSUER":                "starterkit",
	"JWT_TTL":                   "1h",
	"BCRYPT_COST":               10,
	"RATE_LIMIT_BURST":          10,
	"RATE_LIMIT_PER_SECOND":     5,
	"RATE_LIMIT_REDIS_ADDR":     "",
	"RATE_LIMIT_REDIS_PASSWORD": "",
	"RATE_LIMIT_REDIS_DB":       0,
	"TRUST_PROXY_HEADERS":       false,
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads the same sources as Load but skips the token and
// listener checks, for tools that only talk to the database.
func LoadDatabase() (*Config, error) {
	cfg, err := read(".env")
	if err != nil {
		return nil, err
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	return cfg, nil
}

func read(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !missingFile(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// missingFile reports whether err means the dotenv file is absent, which is
// fine, e.g. in CI.
func missingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func (c *Config) validate() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = "development"
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	if c.IsProduction() && c.JWTSecret == DevSecret {
		return errors.New("config: JWT_SECRET must be changed when APP_ENV=production")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.JWTTTL <= 0 {
		return errors.New("config: JWT_TTL must be positive")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 10
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.RateLimitBurst < 0 || c.RateLimitPerSecond < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	return nil
}

// IsDevelopment reports whether internal error details may be returned.
func (c *Config) IsDevelopment() bool { return c != nil && c.Env == "development" }

// IsProduction reports APP_ENV=production.
func (c *Config) IsProduction() bool { return c != nil && c.Env == "production" }

// StoreOptions returns the connection pool settings for the PostgreSQL store.
func (c *Config) StoreOptions() pg.Options {
	return pg.Options{
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxIdleTime: c.DBConnMaxIdleTime,
		ConnMaxLifetime: c.DBConnMaxLifetime,
		ConnectTimeout:  c.DBConnectTimeout,
	}
}
