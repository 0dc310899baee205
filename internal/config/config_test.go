package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ospderrors "github.com/anstrom/ospd/internal/errors"
	"github.com/anstrom/ospd/internal/logging"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 1234 {
		t.Errorf("Server.Port = %d, want 1234", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 2*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 2s", cfg.Server.ReadTimeout)
	}
	if cfg.Scanner.Name != "nmap" {
		t.Errorf("Scanner.Name = %s, want nmap", cfg.Scanner.Name)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name: "valid yaml",
			setup: func(t *testing.T) string {
				return writeConfig(t, "ospd.yaml", `
server:
  address: 127.0.0.1
  port: 9391
  read_timeout: 5s
  tls:
    cert_file: /tmp/cert.pem
    key_file: /tmp/key.pem
    ca_file: /tmp/ca.pem
scanner:
  name: nmap
  exec_timeout: 10m
logging:
  level: debug
  format: json
`)
			},
			check: func(t *testing.T, c *Config) {
				if c.Server.Address != "127.0.0.1" {
					t.Errorf("Server.Address = %s, want 127.0.0.1", c.Server.Address)
				}
				if c.Server.Port != 9391 {
					t.Errorf("Server.Port = %d, want 9391", c.Server.Port)
				}
				if c.Server.ReadTimeout != 5*time.Second {
					t.Errorf("Server.ReadTimeout = %v, want 5s", c.Server.ReadTimeout)
				}
				if c.Scanner.ExecTimeout != 10*time.Minute {
					t.Errorf("Scanner.ExecTimeout = %v, want 10m", c.Scanner.ExecTimeout)
				}
				// Untouched sections keep their defaults.
				if c.Server.WriteTimeout != 10*time.Second {
					t.Errorf("Server.WriteTimeout = %v, want default 10s", c.Server.WriteTimeout)
				}
				if c.Logging.Format != "json" {
					t.Errorf("Logging.Format = %s, want json", c.Logging.Format)
				}
			},
		},
		{
			name: "valid json",
			setup: func(t *testing.T) string {
				return writeConfig(t, "ospd.json", `{"server": {"port": 4000}, "metrics": {"enabled": true, "port": 9100}}`)
			},
			check: func(t *testing.T, c *Config) {
				if c.Server.Port != 4000 {
					t.Errorf("Server.Port = %d, want 4000", c.Server.Port)
				}
				if !c.Metrics.Enabled || c.Metrics.Port != 9100 {
					t.Errorf("Metrics = %+v, want enabled on 9100", c.Metrics)
				}
			},
		},
		{
			name: "missing file yields defaults",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "absent.yaml")
			},
			check: func(t *testing.T, c *Config) {
				if c.Server.Port != Default().Server.Port {
					t.Errorf("Server.Port = %d, want default", c.Server.Port)
				}
			},
		},
		{
			name: "empty path yields defaults",
			setup: func(t *testing.T) string {
				return ""
			},
			check: func(t *testing.T, c *Config) {
				if c.Scanner.Name != "nmap" {
					t.Errorf("Scanner.Name = %s, want nmap", c.Scanner.Name)
				}
			},
		},
		{
			name: "invalid syntax",
			setup: func(t *testing.T) string {
				return writeConfig(t, "broken.yaml", "server: [port: 1")
			},
			wantErr: true,
		},
		{
			name: "invalid values",
			setup: func(t *testing.T) string {
				return writeConfig(t, "bad.yaml", "server:\n  port: 70000\n")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.setup(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "Config.Server.Port"},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "Config.Server.Port"},
		{"empty address", func(c *Config) { c.Server.Address = "" }, "Config.Server.Address"},
		{"missing cert", func(c *Config) { c.Server.TLS.CertFile = "" }, "Config.Server.TLS.CertFile"},
		{"missing ca", func(c *Config) { c.Server.TLS.CAFile = "" }, "Config.Server.TLS.CAFile"},
		{"unknown scanner", func(c *Config) { c.Scanner.Name = "openvas" }, "Config.Scanner.Name"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "Config.Logging.Level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "Config.Logging.Format"},
		{"zero max request size", func(c *Config) { c.Server.MaxRequestSize = 0 }, "Config.Server.MaxRequestSize"},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, "Config.Server.ReadTimeout"},
		{"negative exec timeout", func(c *Config) { c.Scanner.ExecTimeout = -time.Second }, "Config.Scanner.ExecTimeout"},
		{"negative scan limit", func(c *Config) { c.Scanner.MaxConcurrentScans = -1 }, "Config.Scanner.MaxConcurrentScans"},
		{"metrics without port", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 0
		}, "Config.Metrics.Port"},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddr = ""
		}, "Config.Metrics.ListenAddr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			ce, ok := err.(*ospderrors.ConfigError)
			if !ok {
				t.Fatalf("Validate() error type = %T, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %s, want %s", ce.Field, tt.field)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ospd.yaml")

	cfg := Default()
	cfg.Server.Port = 5555
	cfg.Scanner.ExecTimeout = 90 * time.Second
	cfg.Logging.Rotation.Enabled = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555", loaded.Server.Port)
	}
	if loaded.Scanner.ExecTimeout != 90*time.Second {
		t.Errorf("Scanner.ExecTimeout = %v, want 90s", loaded.Scanner.ExecTimeout)
	}
	if !loaded.Logging.Rotation.Enabled {
		t.Error("Logging.Rotation.Enabled should survive a round trip")
	}
}

func TestAddresses(t *testing.T) {
	cfg := Default()
	if got := cfg.ListenAddress(); got != "0.0.0.0:1234" {
		t.Errorf("ListenAddress() = %s, want 0.0.0.0:1234", got)
	}
	if got := cfg.MetricsAddress(); got != "127.0.0.1:9390" {
		t.Errorf("MetricsAddress() = %s, want 127.0.0.1:9390", got)
	}

	cfg.Server.Address = "::1"
	if got := cfg.ListenAddress(); !strings.HasPrefix(got, "[::1]") {
		t.Errorf("ListenAddress() = %s, want bracketed IPv6 host", got)
	}
}

func TestLogConfig(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "debug"
	cfg.Logging.Output = "/var/log/ospd.log"

	lc := cfg.LogConfig()
	if lc.Level != logging.LevelDebug {
		t.Errorf("Level = %s, want debug", lc.Level)
	}
	if !lc.AddSource {
		t.Error("AddSource should be enabled at debug level")
	}
	if lc.Output != "/var/log/ospd.log" {
		t.Errorf("Output = %s, want /var/log/ospd.log", lc.Output)
	}
}
