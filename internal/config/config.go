package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	RequireAPIKey     bool
	ForecastDays      int
	RangeForecastDays int

	RequestTimeout time.Duration

	DatabasePath string

	RateLimitRPS            int
	RateLimitBurst          int
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	LocationMinLength int
	LocationMaxLength int

	HealthWindow          time.Duration
	HealthMinSamples      int
	DegradedErrorRatePct  int
	OverloadDenialRatePct int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL               string `yaml:"url"`
		Timeout           string `yaml:"timeout"`
		RequireKey        *bool  `yaml:"require_key"`
		ForecastDays      int    `yaml:"forecast_days"`
		RangeForecastDays int    `yaml:"range_forecast_days"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Reliability struct {
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"inflight_timeout"`
		InFlightCheckInterval string `yaml:"inflight_check_interval"`
	} `yaml:"shutdown"`

	Validation struct {
		LocationMinLength int `yaml:"location_min_length"`
		LocationMaxLength int `yaml:"location_max_length"`
	} `yaml:"validation"`

	Health struct {
		Window                string `yaml:"window"`
		MinSamples            int    `yaml:"min_samples"`
		DegradedErrorRatePct  int    `yaml:"degraded_error_rate_pct"`
		OverloadDenialRatePct int    `yaml:"overload_denial_rate_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), an optional
// .env file and config/secrets.yaml. The API key comes from WEATHER_API_KEY
// (env or .env) or the secrets file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read .env file: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = strings.TrimSpace(os.Getenv("SERVER_PORT"))
	if cfg.ServerPort == "" {
		cfg.ServerPort = fc.Server.Port
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = strings.TrimSpace(os.Getenv("WEATHER_API_KEY"))
	if cfg.WeatherAPIKey == "" {
		key, err := readSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	cfg.RequireAPIKey = true
	if fc.WeatherAPI.RequireKey != nil {
		cfg.RequireAPIKey = *fc.WeatherAPI.RequireKey
	}

	cfg.WeatherAPIURL = strings.TrimRight(strings.TrimSpace(fc.WeatherAPI.URL), "/")
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.weatherbit.io/v2.0"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.ForecastDays = fc.WeatherAPI.ForecastDays
	if cfg.ForecastDays <= 0 {
		cfg.ForecastDays = 5
	}
	cfg.RangeForecastDays = fc.WeatherAPI.RangeForecastDays
	if cfg.RangeForecastDays <= 0 {
		cfg.RangeForecastDays = 7
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.DatabasePath = strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = strings.TrimSpace(fc.Database.Path)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join("data", "weather.db")
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.LocationMinLength = fc.Validation.LocationMinLength
	if cfg.LocationMinLength <= 0 {
		cfg.LocationMinLength = 1
	}
	cfg.LocationMaxLength = fc.Validation.LocationMaxLength
	if cfg.LocationMaxLength <= 0 {
		cfg.LocationMaxLength = 100
	}

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.HealthMinSamples = fc.Health.MinSamples
	if cfg.HealthMinSamples <= 0 {
		cfg.HealthMinSamples = 10
	}
	cfg.DegradedErrorRatePct = fc.Health.DegradedErrorRatePct
	if cfg.DegradedErrorRatePct <= 0 {
		cfg.DegradedErrorRatePct = 50
	}
	cfg.OverloadDenialRatePct = fc.Health.OverloadDenialRatePct
	if cfg.OverloadDenialRatePct <= 0 {
		cfg.OverloadDenialRatePct = 50
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readSecrets returns the API key from the secrets file, or "" when the file is absent.
func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised above
// WeatherAPITimeout so a lookup's two provider calls can finish.
func validate(cfg *Config) error {
	if cfg.RequireAPIKey && cfg.WeatherAPIKey == "" {
		return fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.ForecastDays > 16 || cfg.RangeForecastDays > 16 {
		return fmt.Errorf("forecast days must not exceed 16, got %d/%d", cfg.ForecastDays, cfg.RangeForecastDays)
	}
	if cfg.DegradedErrorRatePct > 100 || cfg.OverloadDenialRatePct > 100 {
		return fmt.Errorf("health rate thresholds must be percentages (1-100), got %d/%d", cfg.DegradedErrorRatePct, cfg.OverloadDenialRatePct)
	}
	if cfg.LocationMinLength > cfg.LocationMaxLength {
		return fmt.Errorf("validation.location_min_length (%d) exceeds location_max_length (%d)", cfg.LocationMinLength, cfg.LocationMaxLength)
	}
	return nil
}
