// Package config provides configuration management for the statgate core.
// It supports loading configuration from a YAML file and environment
// variables, with environment variables taking precedence.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration settings for the statgate core.
type Config struct {
	// Observability - Logging
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat"`
	LogOutput string `json:"logOutput" yaml:"logOutput"`

	// Ports used by the composition-root binary only.
	MetricsPort int `json:"metricsPort" yaml:"metricsPort"`
	HealthPort  int `json:"healthPort" yaml:"healthPort"`

	// Upstream API client
	UpstreamBaseURL         string   `json:"upstreamBaseUrl" yaml:"upstreamBaseUrl"`
	UpstreamTimeout         Duration `json:"upstreamTimeout" yaml:"upstreamTimeout"`
	UpstreamMaxIdleConns    int      `json:"upstreamMaxIdleConns" yaml:"upstreamMaxIdleConns"`
	UpstreamMaxConnsPerHost int      `json:"upstreamMaxConnsPerHost" yaml:"upstreamMaxConnsPerHost"`
	UpstreamIdleConnTimeout Duration `json:"upstreamIdleConnTimeout" yaml:"upstreamIdleConnTimeout"`
	RetryMaxAttempts        int      `json:"retryMaxAttempts" yaml:"retryMaxAttempts"`
	RetryInitialBackoff     Duration `json:"retryInitialBackoff" yaml:"retryInitialBackoff"`
	RetryMaxBackoff         Duration `json:"retryMaxBackoff" yaml:"retryMaxBackoff"`
	RetryBackoffFactor      float64  `json:"retryBackoffFactor" yaml:"retryBackoffFactor"`
	RetryJitter             float64  `json:"retryJitter" yaml:"retryJitter"`
	StaleFallbackEnabled    bool     `json:"staleFallbackEnabled" yaml:"staleFallbackEnabled"`

	// Circuit breaker
	FailureThreshold    int      `json:"failureThreshold" yaml:"failureThreshold"`
	RecoveryTimeoutBase Duration `json:"recoveryTimeoutBase" yaml:"recoveryTimeoutBase"`
	RecoveryTimeoutMax  Duration `json:"recoveryTimeoutMax" yaml:"recoveryTimeoutMax"`

	// Rate limiting tiers (requests per window).
	BurstLimit       int      `json:"burstLimit" yaml:"burstLimit"`
	BurstWindow      Duration `json:"burstWindow" yaml:"burstWindow"`
	PerSecondLimit   int      `json:"perSecondLimit" yaml:"perSecondLimit"`
	PerMinuteLimit   int      `json:"perMinuteLimit" yaml:"perMinuteLimit"`
	PerHourLimit     int      `json:"perHourLimit" yaml:"perHourLimit"`
	PerDayLimit      int      `json:"perDayLimit" yaml:"perDayLimit"`
	RateLimitBackend string   `json:"rateLimitBackend" yaml:"rateLimitBackend"` // memory, redis, badger

	// Redis (shared counter store and cache backend)
	RedisAddress  string `json:"redisAddress" yaml:"redisAddress"`
	RedisPassword string `json:"redisPassword" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDB" yaml:"redisDB"`

	// Adaptive limiting
	AdjustmentFactor      float64  `json:"adjustmentFactor" yaml:"adjustmentFactor"`
	MinAdjustmentRatio    float64  `json:"minAdjustmentRatio" yaml:"minAdjustmentRatio"`
	MaxAdjustmentRatio    float64  `json:"maxAdjustmentRatio" yaml:"maxAdjustmentRatio"`
	ResponseTimeThreshold Duration `json:"responseTimeThreshold" yaml:"responseTimeThreshold"`

	// Threat scoring
	BlockDuration       Duration `json:"blockDuration" yaml:"blockDuration"`
	ThreatDecayHalfLife Duration `json:"threatDecayHalfLife" yaml:"threatDecayHalfLife"`
	ThreatFanoutWindow  Duration `json:"threatFanoutWindow" yaml:"threatFanoutWindow"`

	// Response cache
	CacheBackend    string   `json:"cacheBackend" yaml:"cacheBackend"` // memory, redis
	CacheTTL        Duration `json:"cacheTTL" yaml:"cacheTTL"`
	CacheMaxEntries int      `json:"cacheMaxEntries" yaml:"cacheMaxEntries"`

	// Metadata store (badger)
	MetadataPath string `json:"metadataPath" yaml:"metadataPath"`

	// Analytics store (influxdb)
	InfluxURL    string `json:"influxUrl" yaml:"influxUrl"`
	InfluxToken  string `json:"influxToken" yaml:"influxToken"`
	InfluxOrg    string `json:"influxOrg" yaml:"influxOrg"`
	InfluxBucket string `json:"influxBucket" yaml:"influxBucket"`

	// Repository read cache
	RepositoryCacheTTL Duration `json:"repositoryCacheTTL" yaml:"repositoryCacheTTL"`
}

// DefaultConfig returns a Config with default values. The numeric defaults
// are starting points meant to be tuned per deployment, not production
// constants.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		LogOutput: "stdout",

		MetricsPort: 9091,
		HealthPort:  8081,

		UpstreamBaseURL:         "",
		UpstreamTimeout:         Duration(30 * time.Second),
		UpstreamMaxIdleConns:    100,
		UpstreamMaxConnsPerHost: 32,
		UpstreamIdleConnTimeout: Duration(90 * time.Second),
		RetryMaxAttempts:        4,
		RetryInitialBackoff:     Duration(time.Second),
		RetryMaxBackoff:         Duration(30 * time.Second),
		RetryBackoffFactor:      2.0,
		RetryJitter:             0.25,
		StaleFallbackEnabled:    true,

		FailureThreshold:    5,
		RecoveryTimeoutBase: Duration(60 * time.Second),
		RecoveryTimeoutMax:  Duration(600 * time.Second),

		BurstLimit:       10,
		BurstWindow:      Duration(time.Second),
		PerSecondLimit:   10,
		PerMinuteLimit:   60,
		PerHourLimit:     1000,
		PerDayLimit:      10000,
		RateLimitBackend: "memory",

		RedisAddress:  "localhost:6379",
		RedisPassword: "",
		RedisDB:       0,

		AdjustmentFactor:      0.8,
		MinAdjustmentRatio:    0.1,
		MaxAdjustmentRatio:    1.0,
		ResponseTimeThreshold: Duration(2000 * time.Millisecond),

		BlockDuration:       Duration(15 * time.Minute),
		ThreatDecayHalfLife: Duration(5 * time.Minute),
		ThreatFanoutWindow:  Duration(10 * time.Second),

		CacheBackend:    "memory",
		CacheTTL:        Duration(5 * time.Minute),
		CacheMaxEntries: 10000,

		MetadataPath: "data/metadata",

		InfluxURL:    "http://localhost:8086",
		InfluxToken:  "",
		InfluxOrg:    "statgate",
		InfluxBucket: "observations",

		RepositoryCacheTTL: Duration(time.Minute),
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failureThreshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeoutBase <= 0 {
		return fmt.Errorf("recoveryTimeoutBase must be positive, got %v", c.RecoveryTimeoutBase.Duration())
	}
	if c.RecoveryTimeoutMax < c.RecoveryTimeoutBase {
		return fmt.Errorf("recoveryTimeoutMax (%v) must be >= recoveryTimeoutBase (%v)",
			c.RecoveryTimeoutMax.Duration(), c.RecoveryTimeoutBase.Duration())
	}
	if c.AdjustmentFactor <= 0 || c.AdjustmentFactor > 1 {
		return fmt.Errorf("adjustmentFactor must be in (0,1], got %v", c.AdjustmentFactor)
	}
	if c.MinAdjustmentRatio <= 0 || c.MinAdjustmentRatio > c.MaxAdjustmentRatio {
		return fmt.Errorf("minAdjustmentRatio must be in (0, maxAdjustmentRatio], got %v", c.MinAdjustmentRatio)
	}
	if c.MaxAdjustmentRatio > 1 {
		return fmt.Errorf("maxAdjustmentRatio must be <= 1, got %v", c.MaxAdjustmentRatio)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retryMaxAttempts must be >= 1, got %d", c.RetryMaxAttempts)
	}
	if c.RetryBackoffFactor < 1 {
		return fmt.Errorf("retryBackoffFactor must be >= 1, got %v", c.RetryBackoffFactor)
	}
	switch c.RateLimitBackend {
	case "memory", "redis", "badger":
	default:
		return fmt.Errorf("unknown rateLimitBackend %q", c.RateLimitBackend)
	}
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cacheBackend %q", c.CacheBackend)
	}
	for name, limit := range map[string]int{
		"burstLimit":     c.BurstLimit,
		"perSecondLimit": c.PerSecondLimit,
		"perMinuteLimit": c.PerMinuteLimit,
		"perHourLimit":   c.PerHourLimit,
		"perDayLimit":    c.PerDayLimit,
	} {
		if limit < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", name, limit)
		}
	}
	return nil
}
