// Package config holds the yaml-tagged configuration structs for the
// store, cache and engine layers, following the teacher's
// internal/infrastructure/db/connection.go Config idiom (yaml tags, an
// Enabled escape hatch, sane defaults).
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig configures the Postgres-backed time-series store adapter.
type StoreConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Enabled         bool          `yaml:"enabled"`
}

// DefaultStoreConfig mirrors connection.go's DefaultConfig: a disabled
// stub adapter usable in tests without a live database.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    5 * time.Second,
		Enabled:         false,
	}
}

// CacheConfig configures the redis/in-memory cache (C12).
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// EngineConfig configures the streaming engine's history retention and
// time-driven scheduling behavior.
type EngineConfig struct {
	HistoryRetentionSafetyFactor float64       `yaml:"history_retention_safety_factor"`
	TickLoopMinSleep             time.Duration `yaml:"tick_loop_min_sleep"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{HistoryRetentionSafetyFactor: 1.5, TickLoopMinSleep: 10 * time.Millisecond}
}

// Config is the top-level configuration document, loaded from a yaml
// file. Two environment variables override it: INDICATORENGINE_STORE_DSN
// (sets Store.DSN and enables the store) and REDIS_ADDR (sets
// Cache.RedisAddr); no other field has an environment override.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Cache  CacheConfig  `yaml:"cache"`
	Engine EngineConfig `yaml:"engine"`
}

// Default returns a Config usable without any external services.
func Default() Config {
	return Config{
		Store:  DefaultStoreConfig(),
		Cache:  CacheConfig{TTL: 5 * time.Second},
		Engine: DefaultEngineConfig(),
	}
}

// Load reads a yaml config file at path, applying defaults for anything
// unset, then overlays recognized environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("INDICATORENGINE_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
		cfg.Store.Enabled = true
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
}
