package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`

	APIBaseURL  string        `env:"API_BASE_URL" default:"http://localhost:4000/api/v1"`
	WSURL       string        `env:"WS_URL" default:"ws://localhost:4000/api/v1/admin/"`
	APIToken    string        `env:"API_TOKEN"`
	APIUsername string        `env:"API_USERNAME"`
	APIPassword string        `env:"API_PASSWORD"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" default:"10s"`

	RealtimeEnabled      bool          `env:"REALTIME_ENABLED" default:"true"`
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY" default:"1s"`
	ReconnectMaxDelay    time.Duration `env:"RECONNECT_MAX_DELAY" default:"30s"`

	ProgressRetention     time.Duration `env:"PROGRESS_RETENTION" default:"30s"`
	ProgressSweepInterval time.Duration `env:"PROGRESS_SWEEP_INTERVAL" default:"5s"`

	ListingPollInterval time.Duration `env:"LISTING_POLL_INTERVAL" default:"30s"`
	ListingStaleTime    time.Duration `env:"LISTING_STALE_TIME" default:"1m"`
	ListingCacheTTL     time.Duration `env:"LISTING_CACHE_TTL" default:"2m"`

	BroadcastRateLimit float64 `env:"BROADCAST_RATE_LIMIT" default:"1"`
	BroadcastRateBurst int     `env:"BROADCAST_RATE_BURST" default:"5"`

	RedisURL string `env:"REDIS_URL"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// HasLogin reports whether the service should log in with a name and password
// instead of using a preset token.
func (c *Config) HasLogin() bool {
	return c.APIToken == "" && c.APIUsername != "" && c.APIPassword != ""
}

// IsDevelopment reports whether the console runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	if err := checkURL("APP_URL", cfg.AppURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("API_BASE_URL", cfg.APIBaseURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("WS_URL", cfg.WSURL, "ws", "wss"); err != nil {
		return err
	}

	if cfg.APIToken == "" && (cfg.APIUsername == "" || cfg.APIPassword == "") {
		return errors.New("API_TOKEN or API_USERNAME and API_PASSWORD are required")
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if cfg.ReconnectMaxAttempts < 0 {
		return errors.New("RECONNECT_MAX_ATTEMPTS must not be negative")
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		return errors.New("RECONNECT_MAX_DELAY must be at least RECONNECT_BASE_DELAY")
	}

	positive := map[string]time.Duration{
		"HTTP_TIMEOUT":            cfg.HTTPTimeout,
		"RECONNECT_BASE_DELAY":    cfg.ReconnectBaseDelay,
		"PROGRESS_RETENTION":      cfg.ProgressRetention,
		"PROGRESS_SWEEP_INTERVAL": cfg.ProgressSweepInterval,
		"LISTING_POLL_INTERVAL":   cfg.ListingPollInterval,
		"LISTING_STALE_TIME":      cfg.ListingStaleTime,
		"LISTING_CACHE_TTL":       cfg.ListingCacheTTL,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.BroadcastRateLimit <= 0 || cfg.BroadcastRateBurst < 1 {
		return errors.New("BROADCAST_RATE_LIMIT must be positive and BROADCAST_RATE_BURST at least 1")
	}

	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v with a host, got %q", name, schemes, raw)
}
