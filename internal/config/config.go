// Package config loads process configuration from the environment,
// optionally seeded from a local .env file via godotenv for development.
// This system's configuration surface (RPC endpoints, a master-key path, a
// database URL) is exactly the kind of thing container orchestrators
// inject as environment variables, so env vars are the source of truth
// rather than a config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/riftresearch/cbbtc-swapd/internal/apperr"
)

// Config is every externally supplied setting the daemon needs to start.
type Config struct {
	DatabaseURL string
	EthRPCURL   string
	BaseRPCURL  string

	ServerKeyPath string

	Port int

	LogLevel string

	HTTPRequestTimeout     time.Duration
	SettlementPollInterval time.Duration

	OrderbookBaseURL string
	SlippageBaseURL  string

	GrafanaCloudURL      string
	GrafanaCloudUsername string
	GrafanaCloudAPIKey   string
}

// Load reads configuration from the environment, first loading a .env file
// from the working directory if one is present (silently ignored if not —
// this is a development convenience, never required in production).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		EthRPCURL:              os.Getenv("ETH_RPC_URL"),
		BaseRPCURL:             os.Getenv("BASE_RPC_URL"),
		ServerKeyPath:          os.Getenv("SERVER_KEY_PATH"),
		LogLevel:               envOrDefault("LOG_LEVEL", "info"),
		OrderbookBaseURL:       envOrDefault("ORDERBOOK_BASE_URL", "https://api.cow.fi"),
		SlippageBaseURL:        os.Getenv("SLIPPAGE_BASE_URL"),
		GrafanaCloudURL:        os.Getenv("GRAFANA_CLOUD_URL"),
		GrafanaCloudUsername:   os.Getenv("GRAFANA_CLOUD_USERNAME"),
		GrafanaCloudAPIKey:     os.Getenv("GRAFANA_CLOUD_API_KEY"),
	}

	port, err := envIntOrDefault("PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.Port = port

	timeout, err := envDurationOrDefault("HTTP_REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.HTTPRequestTimeout = timeout

	pollInterval, err := envDurationOrDefault("SETTLEMENT_POLL_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.SettlementPollInterval = pollInterval

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return apperr.Config("DATABASE_URL is required", nil)
	}
	if c.EthRPCURL == "" {
		return apperr.Config("ETH_RPC_URL is required", nil)
	}
	if c.BaseRPCURL == "" {
		return apperr.Config("BASE_RPC_URL is required", nil)
	}
	if c.ServerKeyPath == "" {
		return apperr.Config("SERVER_KEY_PATH is required", nil)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Config(fmt.Sprintf("%s must be an integer, got %q", key, v), err)
	}
	return n, nil
}

func envDurationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, apperr.Config(fmt.Sprintf("%s must be a duration, got %q", key, v), err)
	}
	return d, nil
}
