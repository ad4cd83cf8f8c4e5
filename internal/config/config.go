// Package config provides configuration loading for the quicktrade service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Trade    TradeConfig    `yaml:"trade"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string `yaml:"port"`
	ShutdownSeconds int    `yaml:"shutdown_seconds"`
}

// DatabaseConfig controls storage. An empty URL selects the in-memory
// store; an empty RedisURL disables the cache layer.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	RedisURL        string `yaml:"redis_url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// TradeConfig controls quick-trade behavior.
type TradeConfig struct {
	BetSize         float64 `yaml:"bet_size"`        // fixed quick-bet stake in M$
	LiquidityFee    float64 `yaml:"liquidity_fee"`
	PlatformFee     float64 `yaml:"platform_fee"`
	CreatorFee      float64 `yaml:"creator_fee"`
	MaxSpend        float64 `yaml:"max_spend"`       // per-user exposure cap per contract
	RatePerSecond   float64 `yaml:"rate_per_second"` // per-user trade rate limit
	RateBurst       int     `yaml:"rate_burst"`
	AnalyticsBuffer int     `yaml:"analytics_buffer"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config file and the .env file if present. Values
// from the environment override the YAML for the keys that map to them.
// A missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	// Load .env if present (silently skip if absent).
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownSeconds: 10,
		},
		Database: DatabaseConfig{
			CacheTTLSeconds: 30,
		},
		Trade: TradeConfig{
			BetSize:         10,
			LiquidityFee:    0,
			PlatformFee:     0,
			CreatorFee:      0,
			MaxSpend:        1000,
			RatePerSecond:   5,
			RateBurst:       10,
			AnalyticsBuffer: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Database.RedisURL = v
	}
	if v := os.Getenv("BET_SIZE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trade.BetSize = f
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Trade.BetSize <= 0 {
		return fmt.Errorf("config: bet_size must be positive, got %v", c.Trade.BetSize)
	}
	if c.Trade.LiquidityFee < 0 || c.Trade.PlatformFee < 0 || c.Trade.CreatorFee < 0 {
		return fmt.Errorf("config: fee rates must be non-negative")
	}
	if c.Trade.RatePerSecond <= 0 || c.Trade.RateBurst <= 0 {
		return fmt.Errorf("config: rate limit must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: invalid log format %q", c.Log.Format)
	}
	return nil
}

// ShutdownTimeout returns the graceful shutdown window.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// CacheTTL returns the Redis cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Database.CacheTTLSeconds) * time.Second
}
