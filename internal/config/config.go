// Package config loads, validates and saves the ospd daemon configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	ospderrors "github.com/anstrom/ospd/internal/errors"
	"github.com/anstrom/ospd/internal/logging"
)

const (
	configDirPerm  = 0o750
	configFilePerm = 0o600
)

// Config represents the complete daemon configuration
type Config struct {
	// Daemon process settings
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// OSP listener settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Wrapped scanner settings
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Status and metrics HTTP endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	// PID file location, empty disables it
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Working directory
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// User to run as after binding the listener
	User string `yaml:"user" json:"user"`

	// Group to run as
	Group string `yaml:"group" json:"group"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ServerConfig holds the OSP listener settings
type ServerConfig struct {
	// Listen address
	Address string `yaml:"address" json:"address" validate:"required"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// Inactivity timeout while reading a request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// Timeout for writing a response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// Maximum request size in bytes
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size" validate:"min=1"`

	// Mutual TLS credentials
	TLS TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig holds TLS settings
type TLSConfig struct {
	// Certificate file path
	CertFile string `yaml:"cert_file" json:"cert_file" validate:"required"`

	// Private key file path
	KeyFile string `yaml:"key_file" json:"key_file" validate:"required"`

	// CA certificate file used to verify client certificates
	CAFile string `yaml:"ca_file" json:"ca_file" validate:"required"`
}

// ScannerConfig holds settings for the wrapped scanner
type ScannerConfig struct {
	// Scanner wrapper to load
	Name string `yaml:"name" json:"name" validate:"required,oneof=nmap"`

	// Path to the scanner binary, empty means look it up in PATH
	BinaryPath string `yaml:"binary_path" json:"binary_path"`

	// Time a single scan may run before it is timed out
	ExecTimeout time.Duration `yaml:"exec_timeout" json:"exec_timeout"`

	// Scans executing at once, 0 means unlimited
	MaxConcurrentScans int `yaml:"max_concurrent_scans" json:"max_concurrent_scans" validate:"min=0"`
}

// MetricsConfig holds the status server settings
type MetricsConfig struct {
	// Enable the status server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required_if=Enabled true"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Log file rotation
	Rotation logging.RotationConfig `yaml:"rotation" json:"rotation"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "",
			WorkDir:         "",
			ShutdownTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Address:        "0.0.0.0",
			Port:           1234,
			ReadTimeout:    2 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxRequestSize: 1024 * 1024, // 1MB
			TLS: TLSConfig{
				CertFile: "/etc/ospd/cert.pem",
				KeyFile:  "/etc/ospd/key.pem",
				CAFile:   "/etc/ospd/ca.pem",
			},
		},
		Scanner: ScannerConfig{
			Name:        "nmap",
			ExecTimeout: 1 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1",
			Port:       9390,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			Rotation: logging.RotationConfig{
				Enabled:    false,
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// JSON is a subset of YAML, so both extensions go through the same decoder.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return ospderrors.NewConfigFieldError(ospderrors.CodeValidation,
				fmt.Sprintf("failed %q validation", fe.Tag()), fe.Namespace(), fe.Value())
		}
		return ospderrors.WrapConfigError(ospderrors.CodeValidation, "validation failed", err)
	}

	if c.Server.ReadTimeout <= 0 {
		return ospderrors.ErrConfigInvalid("Config.Server.ReadTimeout", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return ospderrors.ErrConfigInvalid("Config.Server.WriteTimeout", c.Server.WriteTimeout)
	}
	if c.Metrics.Enabled && c.Metrics.Port == 0 {
		return ospderrors.ErrConfigMissing("Config.Metrics.Port")
	}
	if c.Scanner.ExecTimeout < 0 {
		return ospderrors.ErrConfigInvalid("Config.Scanner.ExecTimeout", c.Scanner.ExecTimeout)
	}
	if c.Daemon.ShutdownTimeout < 0 {
		return ospderrors.ErrConfigInvalid("Config.Daemon.ShutdownTimeout", c.Daemon.ShutdownTimeout)
	}

	return nil
}

// ListenAddress returns the OSP listener address.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// MetricsAddress returns the status server address.
func (c *Config) MetricsAddress() string {
	return net.JoinHostPort(c.Metrics.ListenAddr, strconv.Itoa(c.Metrics.Port))
}

// LogConfig converts the logging section into a logging.Config.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:     logging.LogLevel(c.Logging.Level),
		Format:    logging.LogFormat(c.Logging.Format),
		Output:    c.Logging.Output,
		AddSource: c.Logging.Level == "debug",
		Rotation:  c.Logging.Rotation,
	}
}
