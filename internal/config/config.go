// Package config loads the runtime configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config maps the YAML configuration file. Durations are expressed as
// millisecond or second integers to keep the file format unambiguous.
type Config struct {
	Pool struct {
		Workers int `yaml:"workers"`
	} `yaml:"pool"`

	Scheduler struct {
		MaxConcurrent      int   `yaml:"max_concurrent"`
		MaxRetries         int   `yaml:"max_retries"`
		RetryDelayMs       int   `yaml:"retry_delay_ms"`
		RetryableStatuses  []int `yaml:"retryable_statuses"`
		DedupCap           int   `yaml:"dedup_cap"`
		ResponseCacheSize  int   `yaml:"response_cache_size"`
		ResponseCacheTTLMs int   `yaml:"response_cache_ttl_ms"`
	} `yaml:"scheduler"`

	Cache struct {
		FastCapacity   int `yaml:"fast_capacity"`
		SlowCapacity   int `yaml:"slow_capacity"`
		FastTTLSeconds int `yaml:"fast_ttl_seconds"`
		SlowTTLSeconds int `yaml:"slow_ttl_seconds"`
	} `yaml:"cache"`

	Adaptive struct {
		Enabled         bool    `yaml:"enabled"`
		OlderDevice     bool    `yaml:"older_device"`
		WindowSize      int     `yaml:"window_size"`
		CheckIntervalMs int     `yaml:"check_interval_ms"`
		MinFPS          float64 `yaml:"min_fps"`
	} `yaml:"adaptive"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Pool.Workers = 4
	cfg.Scheduler.MaxConcurrent = 6
	cfg.Scheduler.MaxRetries = 3
	cfg.Scheduler.RetryDelayMs = 300
	cfg.Scheduler.DedupCap = 256
	cfg.Scheduler.ResponseCacheSize = 128
	cfg.Scheduler.ResponseCacheTTLMs = 60_000
	cfg.Cache.FastCapacity = 100
	cfg.Cache.SlowCapacity = 500
	cfg.Cache.FastTTLSeconds = 60
	cfg.Cache.SlowTTLSeconds = 600
	cfg.Adaptive.Enabled = true
	cfg.Adaptive.WindowSize = 120
	cfg.Adaptive.CheckIntervalMs = 2000
	cfg.Adaptive.MinFPS = 40
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090
	return cfg
}

// Load reads path and overlays it onto the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Pool.Workers < 1 {
		return fmt.Errorf("pool.workers must be >= 1, got %d", c.Pool.Workers)
	}
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be >= 1, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Cache.FastCapacity < 1 || c.Cache.SlowCapacity < 1 {
		return fmt.Errorf("cache capacities must be >= 1")
	}
	if c.Adaptive.MinFPS < 0 {
		return fmt.Errorf("adaptive.min_fps must not be negative")
	}
	return nil
}

// RetryDelay returns the scheduler base retry delay.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Scheduler.RetryDelayMs) * time.Millisecond
}

// ResponseCacheTTL returns the response cache TTL.
func (c *Config) ResponseCacheTTL() time.Duration {
	return time.Duration(c.Scheduler.ResponseCacheTTLMs) * time.Millisecond
}

// FastTTL returns the fast tier TTL.
func (c *Config) FastTTL() time.Duration {
	return time.Duration(c.Cache.FastTTLSeconds) * time.Second
}

// SlowTTL returns the slow tier TTL.
func (c *Config) SlowTTL() time.Duration {
	return time.Duration(c.Cache.SlowTTLSeconds) * time.Second
}

// CheckInterval returns the detector evaluation interval.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Adaptive.CheckIntervalMs) * time.Millisecond
}
