package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every recognized environment variable.
const envPrefix = "STATGATE_"

// Load builds a Config from defaults, an optional YAML file, and environment
// variables, in that order of precedence (env wins).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile overlays YAML file contents onto cfg.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator input
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays recognized environment variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.LogOutput = getEnvOrDefault("LOG_OUTPUT", cfg.LogOutput)

	cfg.MetricsPort = getEnvInt("METRICS_PORT", cfg.MetricsPort)
	cfg.HealthPort = getEnvInt("HEALTH_PORT", cfg.HealthPort)

	cfg.UpstreamBaseURL = getEnvOrDefault("UPSTREAM_BASE_URL", cfg.UpstreamBaseURL)
	cfg.UpstreamTimeout = Duration(getEnvDuration("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout.Duration()))
	cfg.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.RetryInitialBackoff = Duration(getEnvDuration("RETRY_INITIAL_BACKOFF", cfg.RetryInitialBackoff.Duration()))
	cfg.RetryMaxBackoff = Duration(getEnvDuration("RETRY_MAX_BACKOFF", cfg.RetryMaxBackoff.Duration()))
	cfg.RetryBackoffFactor = getEnvFloat("RETRY_BACKOFF_FACTOR", cfg.RetryBackoffFactor)
	cfg.StaleFallbackEnabled = getEnvBool("STALE_FALLBACK_ENABLED", cfg.StaleFallbackEnabled)

	cfg.FailureThreshold = getEnvInt("FAILURE_THRESHOLD", cfg.FailureThreshold)
	cfg.RecoveryTimeoutBase = Duration(getEnvDuration("RECOVERY_TIMEOUT_BASE", cfg.RecoveryTimeoutBase.Duration()))
	cfg.RecoveryTimeoutMax = Duration(getEnvDuration("RECOVERY_TIMEOUT_MAX", cfg.RecoveryTimeoutMax.Duration()))

	cfg.BurstLimit = getEnvInt("BURST_LIMIT", cfg.BurstLimit)
	cfg.BurstWindow = Duration(getEnvDuration("BURST_WINDOW", cfg.BurstWindow.Duration()))
	cfg.PerSecondLimit = getEnvInt("PER_SECOND_LIMIT", cfg.PerSecondLimit)
	cfg.PerMinuteLimit = getEnvInt("PER_MINUTE_LIMIT", cfg.PerMinuteLimit)
	cfg.PerHourLimit = getEnvInt("PER_HOUR_LIMIT", cfg.PerHourLimit)
	cfg.PerDayLimit = getEnvInt("PER_DAY_LIMIT", cfg.PerDayLimit)
	cfg.RateLimitBackend = getEnvOrDefault("RATE_LIMIT_BACKEND", cfg.RateLimitBackend)

	cfg.RedisAddress = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisAddress)
	cfg.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)

	cfg.AdjustmentFactor = getEnvFloat("ADJUSTMENT_FACTOR", cfg.AdjustmentFactor)
	cfg.MinAdjustmentRatio = getEnvFloat("MIN_ADJUSTMENT_RATIO", cfg.MinAdjustmentRatio)
	cfg.MaxAdjustmentRatio = getEnvFloat("MAX_ADJUSTMENT_RATIO", cfg.MaxAdjustmentRatio)
	cfg.ResponseTimeThreshold = Duration(getEnvDuration("RESPONSE_TIME_THRESHOLD", cfg.ResponseTimeThreshold.Duration()))

	cfg.BlockDuration = Duration(getEnvDuration("BLOCK_DURATION", cfg.BlockDuration.Duration()))
	cfg.ThreatDecayHalfLife = Duration(getEnvDuration("THREAT_DECAY_HALF_LIFE", cfg.ThreatDecayHalfLife.Duration()))
	cfg.ThreatFanoutWindow = Duration(getEnvDuration("THREAT_FANOUT_WINDOW", cfg.ThreatFanoutWindow.Duration()))

	cfg.CacheBackend = getEnvOrDefault("CACHE_BACKEND", cfg.CacheBackend)
	cfg.CacheTTL = Duration(getEnvDuration("CACHE_TTL", cfg.CacheTTL.Duration()))
	cfg.CacheMaxEntries = getEnvInt("CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)

	cfg.MetadataPath = getEnvOrDefault("METADATA_PATH", cfg.MetadataPath)

	cfg.InfluxURL = getEnvOrDefault("INFLUX_URL", cfg.InfluxURL)
	cfg.InfluxToken = getEnvOrDefault("INFLUX_TOKEN", cfg.InfluxToken)
	cfg.InfluxOrg = getEnvOrDefault("INFLUX_ORG", cfg.InfluxOrg)
	cfg.InfluxBucket = getEnvOrDefault("INFLUX_BUCKET", cfg.InfluxBucket)

	cfg.RepositoryCacheTTL = Duration(getEnvDuration("REPOSITORY_CACHE_TTL", cfg.RepositoryCacheTTL.Duration()))
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvFloat returns the environment variable as a float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvBool returns the environment variable as a boolean or a default.
// Accepts "true", "1", "yes", "on" (case-insensitive) as true values.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}
