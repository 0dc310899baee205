// Package cli provides the command-line interface of ospd. It implements the
// Cobra command tree: serve runs the daemon, client talks OSP to a running
// daemon and config manages configuration files.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/ospd/internal/config"
	"github.com/anstrom/ospd/internal/logging"
)

const (
	envPrefix         = "OSPD"
	defaultConfigPath = "/etc/ospd/ospd.yaml"
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// options is the state shared by one command tree.
type options struct {
	configFile string
	verbose    bool
	v          *viper.Viper
}

// NewRootCommand builds the ospd command tree.
func NewRootCommand() *cobra.Command {
	o := &options{v: newViper()}

	cmd := &cobra.Command{
		Use:   "ospd",
		Short: "Open Scanner Protocol daemon",
		Long: `ospd wraps a network scanner behind the Open Scanner Protocol. Clients
connect over mutual TLS, send one XML command per connection and receive
one XML response.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&o.configFile, "config", "c", "",
		fmt.Sprintf("config file (default is %s, env %s_CONFIG)", defaultConfigPath, envPrefix))
	cmd.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		newServeCommand(o),
		newClientCommand(o),
		newConfigCommand(o),
	)
	return cmd
}

// newViper returns a viper instance reading OSPD_* variables, with dots in
// keys mapped to underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}

// configPath resolves the config file from the flag, the environment or the
// default location.
func (o *options) configPath() string {
	if o.configFile != "" {
		return o.configFile
	}
	if path := o.v.GetString("config"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the config file and applies flag and environment
// overrides on top of it.
func (o *options) loadConfig() (*config.Config, error) {
	path := o.configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config %s: %w", path, err)
	}

	o.applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyOverrides copies every key set by a flag or OSPD_* variable into cfg.
func (o *options) applyOverrides(cfg *config.Config) {
	v := o.v
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	setString("daemon.pid_file", &cfg.Daemon.PIDFile)
	setString("daemon.work_dir", &cfg.Daemon.WorkDir)
	setString("daemon.user", &cfg.Daemon.User)
	setString("daemon.group", &cfg.Daemon.Group)

	setString("server.address", &cfg.Server.Address)
	setInt("server.port", &cfg.Server.Port)
	setString("server.tls.cert_file", &cfg.Server.TLS.CertFile)
	setString("server.tls.key_file", &cfg.Server.TLS.KeyFile)
	setString("server.tls.ca_file", &cfg.Server.TLS.CAFile)

	setString("scanner.binary_path", &cfg.Scanner.BinaryPath)
	if v.IsSet("scanner.exec_timeout") {
		cfg.Scanner.ExecTimeout = v.GetDuration("scanner.exec_timeout")
	}
	setInt("scanner.max_concurrent_scans", &cfg.Scanner.MaxConcurrentScans)

	if v.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	}
	setString("metrics.listen_addr", &cfg.Metrics.ListenAddr)
	setInt("metrics.port", &cfg.Metrics.Port)

	setString("logging.level", &cfg.Logging.Level)
	setString("logging.format", &cfg.Logging.Format)
	setString("logging.output", &cfg.Logging.Output)

	if o.verbose {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
}

// initLogging installs the configured logger as the default one.
func initLogging(cfg *config.Config) error {
	logger, err := logging.New(cfg.LogConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDefault(logger)
	return nil
}
