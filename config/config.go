package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"questline/adapters/redis"
	"questline/adapters/sqlx"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "QUESTLINE"

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"ENV"`
	Profile     string      `json:"profile" env:"PROFILE"`

	Server       ServerConfig       `json:"server"`
	Storage      StorageConfig      `json:"storage"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	Security     SecurityConfig     `json:"security"`
	Engine       EngineConfig       `json:"engine"`
	Catalog      CatalogConfig      `json:"catalog"`
	Integrations IntegrationsConfig `json:"integrations"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string      `json:"adapter" env:"STORAGE_ADAPTER"`
	Redis   RedisConfig `json:"redis,omitempty"`
	SQL     SQLConfig   `json:"sql,omitempty"`
	File    FileConfig  `json:"file,omitempty"`
}

// RedisConfig mirrors redis.Config with env bindings.
type RedisConfig struct {
	Addr         string        `json:"addr" env:"REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"REDIS_PASSWORD,secret"`
	DB           int           `json:"db" env:"REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"REDIS_WRITE_TIMEOUT"`
	KeyPrefix    string        `json:"key_prefix" env:"REDIS_KEY_PREFIX"`
	MaxTxRetries int           `json:"max_tx_retries" env:"REDIS_MAX_TX_RETRIES"`
}

// Adapter converts the section to the adapter's config type.
func (r RedisConfig) Adapter() redis.Config {
	return redis.Config{
		Addr:         r.Addr,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
		KeyPrefix:    r.KeyPrefix,
		MaxTxRetries: r.MaxTxRetries,
	}
}

func redisSection(c redis.Config) RedisConfig {
	return RedisConfig{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		KeyPrefix:    c.KeyPrefix,
		MaxTxRetries: c.MaxTxRetries,
	}
}

// SQLConfig mirrors sqlx.Config with env bindings.
type SQLConfig struct {
	Driver          string        `json:"driver" env:"SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"SQL_DSN,secret"`
	MaxOpenConns    int           `json:"max_open_conns" env:"SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"SQL_CONN_MAX_LIFETIME"`
	Migrate         bool          `json:"migrate" env:"SQL_MIGRATE"`
}

// Adapter converts the section to the adapter's config type.
func (s SQLConfig) Adapter() sqlx.Config {
	return sqlx.Config{
		Driver:          sqlx.Driver(s.Driver),
		DSN:             s.DSN,
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxLifetime: s.ConnMaxLifetime,
		Migrate:         s.Migrate,
	}
}

func sqlSection(c sqlx.Config) SQLConfig {
	return SQLConfig{
		Driver:          string(c.Driver),
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		Migrate:         c.Migrate,
	}
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"STORAGE_FILE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"LOG_LEVEL"`
	Format     string            `json:"format" env:"LOG_FORMAT"`
	Output     string            `json:"output" env:"LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"LOG_ATTRIBUTES"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" env:"METRICS_ENABLED"`
	Address       string `json:"address" env:"METRICS_ADDR"`
	Path          string `json:"path" env:"METRICS_PATH"`
	CollectSystem bool   `json:"collect_system" env:"METRICS_COLLECT_SYSTEM"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"SECURITY_API_KEYS,secret"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"SECURITY_RATE_LIMIT_CLEANUP"`
}

// EngineConfig tunes the progression engine.
type EngineConfig struct {
	LeaderboardDefaultLimit int    `json:"leaderboard_default_limit" env:"ENGINE_LEADERBOARD_DEFAULT_LIMIT"`
	LeaderboardMaxLimit     int    `json:"leaderboard_max_limit" env:"ENGINE_LEADERBOARD_MAX_LIMIT"`
	SpinTimezone            string `json:"spin_timezone" env:"ENGINE_SPIN_TIMEZONE,zone"`
	RuleCacheSize           int    `json:"rule_cache_size" env:"ENGINE_RULE_CACHE_SIZE"`
	AsyncEvents             bool   `json:"async_events" env:"ENGINE_ASYNC_EVENTS"`
}

// Location resolves SpinTimezone. An empty zone is UTC.
func (e EngineConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(e.SpinTimezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(e.SpinTimezone)
}

// CatalogConfig selects the quest and badge catalog loaded at startup.
type CatalogConfig struct {
	Path        string `json:"path" env:"CATALOG_PATH"`
	SeedOnStart bool   `json:"seed_on_start" env:"CATALOG_SEED_ON_START"`
}

// IntegrationsConfig configures outbound event delivery.
type IntegrationsConfig struct {
	WebhookURLs    []string      `json:"webhook_urls,omitempty" env:"WEBHOOK_URLS"`
	WebhookEvents  []string      `json:"webhook_events,omitempty" env:"WEBHOOK_EVENTS"`
	WebhookTimeout time.Duration `json:"webhook_timeout" env:"WEBHOOK_TIMEOUT"`
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from .env and environment variables and validates it
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	return finish(DefaultConfig())
}

// finish applies environment overrides and validates cfg.
func finish(cfg *Config) (*Config, error) {
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file; environment variables override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	return finish(cfg)
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redisSection(redis.DefaultConfig()),
			SQL:     sqlSection(sqlx.DefaultConfig(sqlx.DriverPostgres)),
			File: FileConfig{
				Path: "./data/questline.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			Address:       ":9090",
			Path:          "/metrics",
			CollectSystem: true,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
		Engine: EngineConfig{
			LeaderboardDefaultLimit: 10,
			LeaderboardMaxLimit:     100,
			SpinTimezone:            "UTC",
			RuleCacheSize:           256,
		},
		Catalog: CatalogConfig{
			SeedOnStart: true,
		},
		Integrations: IntegrationsConfig{
			WebhookTimeout: 2 * time.Second,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &c.Server},
		{"storage", &c.Storage},
		{"logging", &c.Logging},
		{"metrics", &c.Metrics},
		{"security", c.Security},
		{"engine", c.Engine},
		{"integrations", c.Integrations},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
