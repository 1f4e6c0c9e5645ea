package config

import (
	"fmt"
	"time"

	"questline/adapters/sqlx"
)

// Profiles lists the names LoadProfile accepts.
var Profiles = []string{"development", "testing", "staging", "production"}

// ProfileConfig returns the preset for a deployment profile.
func ProfileConfig(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name
	switch name {
	case "development":
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
		cfg.Catalog.SeedOnStart = true
	case "testing":
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "warn"
		cfg.Logging.Format = "text"
		cfg.Logging.Output = "stderr"
		cfg.Server.Address = "127.0.0.1:0"
		cfg.Server.ShutdownTimeout = 5 * time.Second
	case "staging":
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "sql"
		cfg.Storage.SQL = sqlSection(sqlx.DefaultConfig(sqlx.DriverPostgres))
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true
		cfg.Engine.AsyncEvents = true
	case "production":
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "sql"
		cfg.Storage.SQL = sqlSection(sqlx.DefaultConfig(sqlx.DriverPostgres))
		cfg.Storage.SQL.MaxOpenConns = 25
		cfg.Storage.SQL.MaxIdleConns = 10
		cfg.Server.CORSOrigin = ""
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 120
		cfg.Security.RateLimit.BurstSize = 20
		cfg.Engine.AsyncEvents = true
		cfg.Catalog.SeedOnStart = false
	default:
		return nil, fmt.Errorf("unknown profile %q (want one of %v)", name, Profiles)
	}
	return cfg, nil
}

// LoadProfile starts from a profile preset, then applies .env and environment overrides.
func LoadProfile(name string) (*Config, error) {
	cfg, err := ProfileConfig(name)
	if err != nil {
		return nil, err
	}
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	return finish(cfg)
}
