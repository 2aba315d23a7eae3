// Package config provides application configuration loading from environment variables and .env files.
// It uses viper for flexible configuration management with sensible defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration loaded from environment variables or .env file.
// Configuration priority: environment variables > .env file > defaults.
type Config struct {
	AppEnv            string        // Application environment (dev, staging, prod)
	LogLevel          string        // zerolog level name (debug, info, warn, error)
	LogFormat         string        // "json" or "text"
	CacheMaxSize      int           // Evaluation cache capacity in entries
	CacheTTL          time.Duration // Default lifetime of a cached evaluation
	CompilerCacheSize int           // Compiled rule cache capacity
	CompilerMaxDepth  int           // Deepest group nesting the compiler accepts
	BatchParallelism  int           // Concurrent contexts per batch; 1 is sequential
	MetricsWindow     int           // Latency samples kept for percentiles
}

// Load reads configuration from environment variables and .env file (if present).
// Environment variables take precedence over .env file values.
//
// Validation:
//
//	This function performs basic configuration loading but does NOT validate
//	configuration constraints. Use Validate() to reject unusable values.
func Load() (*Config, error) {
	return load(".env")
}

// LoadFile is Load with an explicit dotenv or YAML config file.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path) // Optional; silently ignored if file doesn't exist
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	setConfigDefaults(v)

	ttl, err := parseDuration(v.GetString("CACHE_TTL"))
	if err != nil {
		return nil, ValidationError{Field: "CACHE_TTL", Message: err.Error()}
	}

	return &Config{
		AppEnv:            v.GetString("APP_ENV"),
		LogLevel:          strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:         strings.ToLower(v.GetString("LOG_FORMAT")),
		CacheMaxSize:      v.GetInt("CACHE_MAX_SIZE"),
		CacheTTL:          ttl,
		CompilerCacheSize: v.GetInt("COMPILER_CACHE_SIZE"),
		CompilerMaxDepth:  v.GetInt("COMPILER_MAX_DEPTH"),
		BatchParallelism:  v.GetInt("BATCH_PARALLELISM"),
		MetricsWindow:     v.GetInt("METRICS_WINDOW"),
	}, nil
}

// setConfigDefaults sets default values for all configuration options.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CACHE_MAX_SIZE", 10000)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("COMPILER_CACHE_SIZE", 1000)
	v.SetDefault("COMPILER_MAX_DEPTH", 50)
	v.SetDefault("BATCH_PARALLELISM", 1)
	v.SetDefault("METRICS_WINDOW", 1000)
}

// parseDuration accepts Go durations ("90s") and bare seconds ("300").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var secs int
	if _, err := fmt.Sscanf(s, "%d", &secs); err == nil && fmt.Sprint(secs) == s {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// ValidationError represents a configuration validation error with details about what failed.
type ValidationError struct {
	Field   string // Name of the configuration field
	Message string // Human-readable error message
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// Validate checks that the configuration can build a working service.
//
// Validation Rules:
//  1. LOG_FORMAT must be "json" or "text"
//  2. LOG_LEVEL must be a known level
//  3. Cache sizes, compiler depth, parallelism and metrics window must be positive
//  4. CACHE_TTL must be positive
//
// Returns nil if configuration is valid, otherwise a ValidationError
// describing the first failure.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be 'json' or 'text', got '%s'", c.LogFormat),
		}
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("unknown level '%s'", c.LogLevel),
		}
	}

	positives := []struct {
		field string
		value int
	}{
		{"CACHE_MAX_SIZE", c.CacheMaxSize},
		{"COMPILER_CACHE_SIZE", c.CompilerCacheSize},
		{"COMPILER_MAX_DEPTH", c.CompilerMaxDepth},
		{"BATCH_PARALLELISM", c.BatchParallelism},
		{"METRICS_WINDOW", c.MetricsWindow},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("must be positive, got %d", p.value),
			}
		}
	}

	if c.CacheTTL <= 0 {
		return ValidationError{
			Field:   "CACHE_TTL",
			Message: fmt.Sprintf("must be positive, got %s", c.CacheTTL),
		}
	}

	return nil
}
