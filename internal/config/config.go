// Package config loads bookingsync settings.
//
// Precedence, lowest to highest: built-in defaults, the YAML config file,
// BOOKINGSYNC_* environment variables. Command-line flags are applied on top
// by the CLI.
//
// The config file is the first of:
//  1. the path passed to Load (the --config flag)
//  2. $BOOKINGSYNC_CONFIG
//  3. ./bookingsync.yaml
//  4. ~/.config/bookingsync/config.yaml
//
// Example file:
//
//	api:
//	  base_url: https://bookings.example.com/api/v1
//	  token: eyJhbGciOi...
//	cache:
//	  attendance_detail_ttl: 30s
//	timezone: Asia/Kolkata
//	role: admin
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/validation"
)

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = core.EnvPrefix + "CONFIG"

// Config is the complete bookingsync configuration.
type Config struct {
	API      APIConfig     `koanf:"api"`
	Cache    CacheConfig   `koanf:"cache"`
	Timezone string        `koanf:"timezone" validate:"required"`
	Role     string        `koanf:"role" validate:"required,oneof=worker customer admin"`
	Logging  LoggingConfig `koanf:"logging"`
	Metrics  MetricsConfig `koanf:"metrics"`

	// Path is the config file that was loaded, or "".
	Path string `koanf:"-"`
}

// APIConfig configures the backend client. The token is issued elsewhere;
// bookingsync only sends it.
type APIConfig struct {
	BaseURL    string        `koanf:"base_url" validate:"required,url"`
	Token      string        `koanf:"token"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxRetries int           `koanf:"max_retries" validate:"gte=1,lte=10"`
	RateLimit  float64       `koanf:"rate_limit" validate:"gte=0"`
	RateBurst  int           `koanf:"rate_burst" validate:"gte=1"`
}

// CacheConfig holds per-family TTLs.
type CacheConfig struct {
	MyBookingsTTL         time.Duration `koanf:"my_bookings_ttl" validate:"gt=0"`
	AttendanceDetailTTL   time.Duration `koanf:"attendance_detail_ttl" validate:"gt=0"`
	AttendanceOverviewTTL time.Duration `koanf:"attendance_overview_ttl" validate:"gt=0"`
	AnalyticsTTL          time.Duration `koanf:"analytics_ttl" validate:"gt=0"`
	ServiceCatalogTTL     time.Duration `koanf:"service_catalog_ttl" validate:"gt=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// MetricsConfig configures the Prometheus listener of the mcp server. An
// empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    core.APIBaseURL,
			Timeout:    core.DefaultRequestTimeout,
			MaxRetries: core.DefaultMaxRetries,
			RateLimit:  core.DefaultRateLimit,
			RateBurst:  core.DefaultRateBurst,
		},
		Cache: CacheConfig{
			MyBookingsTTL:         core.DefaultMyBookingsTTL,
			AttendanceDetailTTL:   core.DefaultAttendanceDetailTTL,
			AttendanceOverviewTTL: core.DefaultAttendanceOverviewTTL,
			AnalyticsTTL:          core.DefaultAnalyticsTTL,
			ServiceCatalogTTL:     core.DefaultServiceCatalogTTL,
		},
		Timezone: core.DefaultTZ,
		Role:     "worker",
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the config file and the
// environment. An explicit path that does not exist is an error; a missing
// default file is not.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(core.EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Path = configPath

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints and that the timezone exists.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// DefaultConfigPaths lists the fallback config files in priority order.
func DefaultConfigPaths() []string {
	return []string{
		"bookingsync.yaml",
		filepath.Join(core.ConfigDir(), "config.yaml"),
	}
}

func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("config file %s (from %s): %w", envPath, ConfigPathEnvVar, err)
		}
		return envPath, nil
	}
	for _, p := range DefaultConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config file %s: %w", p, err)
		}
	}
	return "", nil
}

// envMappings maps BOOKINGSYNC_* suffixes (lower-cased) to config paths.
var envMappings = map[string]string{
	"api_base_url":                  "api.base_url",
	"api_token":                     "api.token",
	"api_timeout":                   "api.timeout",
	"api_max_retries":               "api.max_retries",
	"api_rate_limit":                "api.rate_limit",
	"api_rate_burst":                "api.rate_burst",
	"cache_my_bookings_ttl":         "cache.my_bookings_ttl",
	"cache_attendance_detail_ttl":   "cache.attendance_detail_ttl",
	"cache_attendance_overview_ttl": "cache.attendance_overview_ttl",
	"cache_analytics_ttl":           "cache.analytics_ttl",
	"cache_service_catalog_ttl":     "cache.service_catalog_ttl",
	"timezone":                      "timezone",
	"tz":                            "timezone",
	"role":                          "role",
	"log_level":                     "logging.level",
	"log_format":                    "logging.format",
	"metrics_addr":                  "metrics.addr",
}

// envTransformFunc maps an environment variable to a config path, or "" to
// ignore it.
//
// Examples:
//   - BOOKINGSYNC_API_TOKEN -> api.token
//   - BOOKINGSYNC_CACHE_ANALYTICS_TTL -> cache.analytics_ttl
//   - BOOKINGSYNC_LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	suffix := strings.ToLower(strings.TrimPrefix(key, core.EnvPrefix))
	return envMappings[suffix]
}
