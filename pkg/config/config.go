package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const appDir = "sleeplog"

// Config holds application configuration
type Config struct {
	LogLevel     string        `yaml:"log_level" default:"warn"`
	Database     string        `yaml:"database,omitempty"`
	OutputFormat string        `yaml:"output_format" default:"table"`
	History      int           `yaml:"history" default:"64"`
	Device       DeviceConfig  `yaml:"device"`
	Monitor      MonitorConfig `yaml:"monitor"`
	Scan         ScanConfig    `yaml:"scan"`
}

// DeviceConfig is the selected heart rate monitor. An empty address means
// "use the first HRM found".
type DeviceConfig struct {
	Address string `yaml:"address,omitempty"`
	Name    string `yaml:"name,omitempty"`
}

type MonitorConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"30s"`
	Reconnect         bool          `yaml:"reconnect" default:"true"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" default:"2s"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" default:"1m"`
}

type ScanConfig struct {
	Period   time.Duration `yaml:"period" default:"2s"`
	Duration time.Duration `yaml:"duration" default:"10s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Database = DefaultDatabasePath()
	return cfg
}

// DefaultPath returns the config file location under the user config directory.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

func DefaultDatabasePath() string {
	return filepath.Join(baseDir(), "sleeplog.db")
}

func baseDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, appDir)
}

// Load reads the config file at path on top of the defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabasePath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("output_format: unsupported value %q (use table or json)", c.OutputFormat)
	}
	if c.History <= 0 {
		return fmt.Errorf("history must be positive, got %d", c.History)
	}
	if c.Monitor.ConnectTimeout <= 0 || c.Monitor.ReconnectDelay <= 0 {
		return errors.New("monitor timeouts must be positive")
	}
	if c.Monitor.MaxReconnectDelay < c.Monitor.ReconnectDelay {
		return errors.New("monitor.max_reconnect_delay must not be below monitor.reconnect_delay")
	}
	if c.Scan.Period <= 0 {
		return errors.New("scan.period must be positive")
	}
	return nil
}

// Level returns the parsed log level, InfoLevel when unparsable.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
