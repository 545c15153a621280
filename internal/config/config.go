// Package config defines all configuration for the trading backend.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via PM_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pavan9802/prediction-market/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Balance   BalanceConfig   `mapstructure:"balance"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Markets   []MarketSeed    `mapstructure:"markets"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`

	// ExemptPaths are path prefixes that bypass rate limiting.
	ExemptPaths []string `mapstructure:"exempt_paths"`
}

// RateLimitConfig tunes the per-caller token buckets.
type RateLimitConfig struct {
	Capacity   float64 `mapstructure:"capacity"`
	RefillRate float64 `mapstructure:"refill_rate"`
}

// StorageConfig selects the durable-storage adapter.
type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// EngineConfig tunes the execution lanes.
type EngineConfig struct {
	// QueueSize is the per-market lane capacity; a full lane rejects trades.
	QueueSize int `mapstructure:"queue_size"`

	// Workers and PoolCapacity size the async worker pool used for flushes
	// and balance recomputation.
	Workers      int `mapstructure:"workers"`
	PoolCapacity int `mapstructure:"pool_capacity"`
}

// BalanceConfig controls ledger reconciliation.
type BalanceConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// StoreConfig controls the write-behind flush of hot state.
type StoreConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MarketSeed declares a market created at bootstrap if it does not already
// exist in durable storage.
type MarketSeed struct {
	ID         string  `mapstructure:"id"`
	LiquidityB float64 `mapstructure:"liquidity_b"`
	Status     string  `mapstructure:"status"`
}

// Load reads config from a YAML file with PM_* env var overrides
// (e.g. PM_SERVER_ADDR, PM_STORAGE_PATH).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.exempt_paths", []string{"/health"})
	v.SetDefault("ratelimit.capacity", 100)
	v.SetDefault("ratelimit.refill_rate", 10)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "data/market.db")
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.pool_capacity", 1024)
	v.SetDefault("balance.reconcile_interval", 5*time.Minute)
	v.SetDefault("store.flush_interval", time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("ratelimit.capacity must be > 0")
	}
	if c.RateLimit.RefillRate <= 0 {
		return fmt.Errorf("ratelimit.refill_rate must be > 0")
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be sqlite or memory, got %q", c.Storage.Driver)
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be > 0")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be > 0")
	}
	if c.Balance.ReconcileInterval <= 0 {
		return fmt.Errorf("balance.reconcile_interval must be > 0")
	}
	if c.Store.FlushInterval <= 0 {
		return fmt.Errorf("store.flush_interval must be > 0")
	}
	for i, m := range c.Markets {
		if m.ID == "" {
			return fmt.Errorf("markets[%d].id is required", i)
		}
		if m.LiquidityB <= 0 {
			return fmt.Errorf("markets[%d].liquidity_b must be > 0", i)
		}
		if m.Status != "" && m.Status != string(types.MarketOpen) && m.Status != string(types.MarketResolved) {
			return fmt.Errorf("markets[%d].status must be OPEN or RESOLVED, got %q", i, m.Status)
		}
	}
	return nil
}
