package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for a docjobs client process.
type Config struct {
	Env      string
	Remote   RemoteConfig
	Polling  PollingConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Stub     StubConfig
}

type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type PollingConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
}

// DatabaseConfig configures the optional job ledger. An empty URL disables it.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional terminal job cache. An empty URL disables it.
type RedisConfig struct {
	URL string
}

// StubConfig configures cmd/docjobs-stub, the local fake cluster.
type StubConfig struct {
	Port   int
	Nodes  int
	APIKey string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Env: envString("DOCJOBS_ENV", "development"),
		Remote: RemoteConfig{
			BaseURL: os.Getenv("DOCJOBS_BASE_URL"),
			APIKey:  os.Getenv("DOCJOBS_API_KEY"),
			Timeout: envDuration("DOCJOBS_TIMEOUT", 30*time.Second),
		},
		Polling: PollingConfig{
			Interval:    envDuration("DOCJOBS_POLL_INTERVAL", 500*time.Millisecond),
			MaxInterval: envDuration("DOCJOBS_POLL_MAX_INTERVAL", 5*time.Second),
			Multiplier:  envFloat("DOCJOBS_POLL_MULTIPLIER", 2),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Stub: loadStub(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadStub reads the stub server settings. It does not require DOCJOBS_BASE_URL.
func LoadStub() (*StubConfig, error) {
	cfg := loadStub()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadStub() StubConfig {
	return StubConfig{
		Port:   envInt("DOCJOBS_STUB_PORT", 18681),
		Nodes:  envInt("DOCJOBS_STUB_NODES", 3),
		APIKey: os.Getenv("DOCJOBS_API_KEY"),
	}
}

func (c StubConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("DOCJOBS_STUB_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.Nodes < 1 {
		return fmt.Errorf("DOCJOBS_STUB_NODES must be at least 1, got %d", c.Nodes)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("DOCJOBS_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("DOCJOBS_BASE_URL must start with http:// or https://, got %q", c.Remote.BaseURL)
	}

	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("DOCJOBS_TIMEOUT must be positive, got %s", c.Remote.Timeout)
	}

	if c.Polling.Interval <= 0 {
		return fmt.Errorf("DOCJOBS_POLL_INTERVAL must be positive, got %s", c.Polling.Interval)
	}
	if c.Polling.MaxInterval < c.Polling.Interval {
		return fmt.Errorf("DOCJOBS_POLL_MAX_INTERVAL (%s) must not be less than DOCJOBS_POLL_INTERVAL (%s)",
			c.Polling.MaxInterval, c.Polling.Interval)
	}
	if c.Polling.Multiplier < 1 {
		return fmt.Errorf("DOCJOBS_POLL_MULTIPLIER must be at least 1, got %g", c.Polling.Multiplier)
	}

	if c.Database.URL != "" && !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must be a postgres:// URL")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
