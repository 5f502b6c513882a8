// Package config loads replicad settings from an optional YAML file with
// REPLICA_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-replica/pkg/message"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Config is the process configuration.
type Config struct {
	Role      string `yaml:"role" env:"ROLE"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	Store   StoreConfig   `yaml:"store" envPrefix:"STORE_"`
	Hub     HubConfig     `yaml:"hub" envPrefix:"HUB_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Refresh RefreshConfig `yaml:"refresh" envPrefix:"REFRESH_"`
}

// StoreConfig selects and configures the durable store.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path is the JSON file for the file backend.
	Path string `yaml:"path" env:"PATH"`
	// DSN is the database file for the sqlite backend.
	DSN    string `yaml:"dsn" env:"DSN"`
	Bucket string `yaml:"bucket" env:"BUCKET"`
	Prefix string `yaml:"prefix" env:"PREFIX"`
	Region string `yaml:"region" env:"REGION"`
	// Endpoint points the s3 backend at a compatible service such as MinIO.
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
}

// HubConfig configures the websocket hub and clients.
type HubConfig struct {
	Listen         string        `yaml:"listen" env:"LISTEN"`
	URL            string        `yaml:"url" env:"URL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// RefreshConfig configures the selector refresh.
type RefreshConfig struct {
	URLTemplate string        `yaml:"url_template" env:"URL_TEMPLATE"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ManualEvery time.Duration `yaml:"manual_every" env:"MANUAL_EVERY"`
	ManualBurst int           `yaml:"manual_burst" env:"MANUAL_BURST"`
	Disabled    bool          `yaml:"disabled" env:"DISABLED"`
}

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "REPLICA_"

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Role:      string(message.RoleBackground),
		Namespace: "settings",
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			Backend: BackendFile,
			Path:    "replica-settings.json",
		},
		Hub: HubConfig{
			Listen:         "127.0.0.1:7420",
			URL:            "ws://127.0.0.1:7420/bus",
			RequestTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "replica",
		},
		Refresh: RefreshConfig{
			Timeout:     30 * time.Second,
			ManualEvery: time.Minute,
			ManualBurst: 3,
		},
	}
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	environment map[string]string
}

// WithEnvironment replaces the process environment, mainly for tests.
func WithEnvironment(environment map[string]string) LoadOption {
	return func(cfg *loadConfig) {
		cfg.environment = environment
	}
}

// Load reads path when it is not empty, applies environment overrides and
// validates the result.
func Load(path string, opts ...LoadOption) (Config, error) {
	lc := loadConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&lc)
		}
	}

	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	envOpts := env.Options{Prefix: EnvPrefix}
	if lc.environment != nil {
		envOpts.Environment = lc.environment
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	var errs []error
	if _, err := message.ParseRole(c.Role); err != nil {
		errs = append(errs, fmt.Errorf("config: role: %w", err))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile:
		if strings.TrimSpace(c.Store.Path) == "" {
			errs = append(errs, errors.New("config: store.path is required for the file backend"))
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, errors.New("config: store.dsn is required for the sqlite backend"))
		}
	case BackendS3:
		if strings.TrimSpace(c.Store.Bucket) == "" {
			errs = append(errs, errors.New("config: store.bucket is required for the s3 backend"))
		}
		if strings.TrimSpace(c.Store.Region) == "" {
			errs = append(errs, errors.New("config: store.region is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown store backend %q", c.Store.Backend))
	}
	if c.Hub.RequestTimeout <= 0 {
		errs = append(errs, errors.New("config: hub.request_timeout must be positive"))
	}
	if c.Refresh.ManualBurst < 1 {
		errs = append(errs, errors.New("config: refresh.manual_burst must be at least 1"))
	}
	return errors.Join(errs...)
}

// ParsedRole returns Role as a message.Role.
func (c Config) ParsedRole() message.Role {
	role, _ := message.ParseRole(c.Role)
	return role
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}

// Logger builds the process logger on w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
