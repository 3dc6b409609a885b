package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all host runtime configuration.
type Config struct {
	Server     ServerConfig
	Extensions ExtensionConfig
	Storage    StorageConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// ExtensionConfig holds extension runtime configuration.
type ExtensionConfig struct {
	// Dir is the directory the seeder scans for pre-installed
	// extensions at boot.
	Dir string `envconfig:"EXTENSIONS_DIR" default:"./extensions"`

	ActivationTimeout time.Duration `envconfig:"EXT_ACTIVATION_TIMEOUT" default:"10s"`
	DeactivateGrace   time.Duration `envconfig:"EXT_DEACTIVATE_GRACE" default:"2s"`
	ExecTimeout       time.Duration `envconfig:"EXT_EXEC_TIMEOUT" default:"5s"`
}

// StorageConfig holds persistent extension storage configuration.
type StorageConfig struct {
	Dir string `envconfig:"STORAGE_DIR" default:"./data/storage"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Extensions: ExtensionConfig{
			Dir:               "./extensions",
			ActivationTimeout: 10 * time.Second,
			DeactivateGrace:   2 * time.Second,
			ExecTimeout:       5 * time.Second,
		},
		Storage: StorageConfig{
			Dir: "./data/storage",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
