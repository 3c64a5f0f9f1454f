// Package config holds the scanlink configuration: defaults, YAML loading
// and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Radio backends.
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// Output formats.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"warn"`
	Backend  string `yaml:"backend" default:"goble"`

	ServiceUUID        string `yaml:"service_uuid" default:"4fafc201-1fb5-459e-8fcc-c5c9c331914b"`
	CharacteristicUUID string `yaml:"characteristic_uuid" default:"beb5483e-36e1-4688-b7f5-ea07361b26a8"`
	// DisplayName is the advertised name of the rig, used when the picker
	// shows a candidate without a name.
	DisplayName string `yaml:"display_name" default:"Scanner"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`

	// RegistryPath is where the paired accessory is stored.
	RegistryPath string `yaml:"registry_path"`

	AutoReconnect  bool          `yaml:"auto_reconnect" default:"false"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"2s"`

	EventBuffer  int    `yaml:"event_buffer" default:"256"`
	OutputFormat string `yaml:"output_format" default:"text"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.RegistryPath = filepath.Join(configDir(), "accessory.yaml")
	return cfg
}

// DefaultPath is the config file consulted when no path is given.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".scanlink"
	}
	return filepath.Join(dir, "scanlink")
}

// Load reads the YAML file at path over the defaults. An empty path loads
// DefaultPath if it exists and the defaults otherwise; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		errs = append(errs, fmt.Errorf("backend: unknown backend %q (expected %s or %s)", c.Backend, BackendGoBLE, BackendTinyGo))
	}
	if err := validateUUID(c.ServiceUUID); err != nil {
		errs = append(errs, fmt.Errorf("service_uuid: %w", err))
	}
	if err := validateUUID(c.CharacteristicUUID); err != nil {
		errs = append(errs, fmt.Errorf("characteristic_uuid: %w", err))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect_timeout: must be positive"))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, errors.New("scan_timeout: must be positive"))
	}
	if c.AutoReconnect && c.ReconnectDelay < 0 {
		errs = append(errs, errors.New("reconnect_delay: must not be negative"))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, errors.New("event_buffer: must be positive"))
	}
	if c.RegistryPath == "" {
		errs = append(errs, errors.New("registry_path: must be set"))
	}
	switch c.OutputFormat {
	case OutputText, OutputJSON:
	default:
		errs = append(errs, fmt.Errorf("output_format: unknown format %q", c.OutputFormat))
	}

	return errors.Join(errs...)
}

// validateUUID accepts 16-bit short UUIDs and full 128-bit UUIDs.
func validateUUID(s string) error {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if len(s) == 4 {
		for _, r := range s {
			if !strings.ContainsRune("0123456789abcdef", r) {
				return fmt.Errorf("invalid short uuid %q", s)
			}
		}
		return nil
	}
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
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
