// Package config loads server configuration from an optional .env file, an
// optional YAML file and environment variables, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/R3E-Network/apphost/pkg/logger"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string        `yaml:"host" env:"SERVER_HOST"`
	Port         int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	// AllowedOrigins is a ';'-separated list in the environment.
	AllowedOrigins []string `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the persistence backend. An empty DSN keeps state in
// memory.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	Migrate         bool          `yaml:"migrate" env:"DATABASE_MIGRATE"`
}

// RedisConfig enables cross-replica busy tokens when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"AUTH_ISSUER"`
	Anonymous bool   `yaml:"anonymous" env:"AUTH_ALLOW_ANONYMOUS"`
}

// RateLimitConfig bounds per-client request rates. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// RuntimeConfig selects the hosting runtime.
type RuntimeConfig struct {
	Mode         string        `yaml:"mode" env:"RUNTIME_MODE"`
	BaseURL      string        `yaml:"base_url" env:"RUNTIME_BASE_URL"`
	Token        string        `yaml:"token" env:"RUNTIME_TOKEN"`
	URLPath      string        `yaml:"url_path" env:"RUNTIME_URL_PATH"`
	Timeout      time.Duration `yaml:"timeout" env:"RUNTIME_TIMEOUT"`
	HostSuffix   string        `yaml:"host_suffix" env:"RUNTIME_HOST_SUFFIX"`
	StartupDelay time.Duration `yaml:"startup_delay" env:"RUNTIME_STARTUP_DELAY"`
}

// LifecycleConfig bounds load and unload operations.
type LifecycleConfig struct {
	LoadTimeout   time.Duration `yaml:"load_timeout" env:"LIFECYCLE_LOAD_TIMEOUT"`
	UnloadTimeout time.Duration `yaml:"unload_timeout" env:"LIFECYCLE_UNLOAD_TIMEOUT"`
	TickInterval  time.Duration `yaml:"tick_interval" env:"LIFECYCLE_TICK_INTERVAL"`
}

// ReconcileConfig schedules the housekeeping pass.
type ReconcileConfig struct {
	Schedule string `yaml:"schedule" env:"RECONCILE_SCHEDULE"`
}

// CatalogConfig names a directory of module manifests loaded at startup.
type CatalogConfig struct {
	Path string `yaml:"path" env:"CATALOG_PATH"`
}

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Database  DatabaseConfig       `yaml:"database"`
	Redis     RedisConfig          `yaml:"redis"`
	Auth      AuthConfig           `yaml:"auth"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Runtime   RuntimeConfig        `yaml:"runtime"`
	Lifecycle LifecycleConfig      `yaml:"lifecycle"`
	Reconcile ReconcileConfig      `yaml:"reconcile"`
	Catalog   CatalogConfig        `yaml:"catalog"`
}

// Runtime modes.
const (
	RuntimeLocal  = "local"
	RuntimeHTTP   = "http"
	RuntimeScript = "script"
)

// Load reads configuration. CONFIG_FILE names an optional YAML file; a
// missing .env file is ignored.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile reads the YAML file at path (if non-empty), overlays environment
// variables, applies defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 3 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Runtime.Mode == "" {
		c.Runtime.Mode = RuntimeLocal
	}
	c.Runtime.Mode = strings.ToLower(strings.TrimSpace(c.Runtime.Mode))
	if c.Runtime.URLPath == "" {
		c.Runtime.URLPath = "$.url"
	}
	if c.Runtime.Timeout == 0 {
		c.Runtime.Timeout = 30 * time.Second
	}
	if c.Lifecycle.LoadTimeout == 0 {
		c.Lifecycle.LoadTimeout = 2 * time.Minute
	}
	if c.Lifecycle.UnloadTimeout == 0 {
		c.Lifecycle.UnloadTimeout = 30 * time.Second
	}
	if c.Lifecycle.TickInterval == 0 {
		c.Lifecycle.TickInterval = 500 * time.Millisecond
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 2*c.Lifecycle.LoadTimeout + c.Lifecycle.UnloadTimeout
	}
	if c.Reconcile.Schedule == "" {
		c.Reconcile.Schedule = "@every 30s"
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(c.RateLimit.RequestsPerSecond) * 2
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Runtime.Mode {
	case RuntimeLocal, RuntimeScript:
	case RuntimeHTTP:
		if c.Runtime.BaseURL == "" {
			errs = append(errs, errors.New("runtime.base_url is required in http mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("runtime.mode %q is not one of local, http, script", c.Runtime.Mode))
	}
	if c.Lifecycle.LoadTimeout < 0 || c.Lifecycle.UnloadTimeout < 0 || c.Lifecycle.TickInterval < 0 {
		errs = append(errs, errors.New("lifecycle durations must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL <= c.Lifecycle.LoadTimeout {
		errs = append(errs, errors.New("redis.lock_ttl must exceed lifecycle.load_timeout"))
	}
	if c.Auth.JWTSecret == "" && !c.Auth.Anonymous {
		errs = append(errs, errors.New("auth.jwt_secret is required unless anonymous access is enabled"))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_second must not be negative"))
	}
	return errors.Join(errs...)
}
