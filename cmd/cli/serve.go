package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/anstrom/ospd/internal/config"
	"github.com/anstrom/ospd/internal/daemon"
	"github.com/anstrom/ospd/internal/logging"
	"github.com/anstrom/ospd/internal/scanner"
	"github.com/anstrom/ospd/internal/wrappers/nmap"
)

func newServeCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the OSP daemon in the foreground",
		Long: `Run the OSP daemon. The listener is bound, privileges are dropped if
configured and the daemon answers OSP commands until SIGTERM or SIGINT.
SIGHUP reloads the log level, SIGUSR1 logs a status dump and SIGUSR2 toggles
debug logging.`,
		Example: `  ospd serve --config /etc/ospd/ospd.yaml
  ospd serve --port 9391 --cert-file server.pem --key-file server-key.pem --ca-file ca.pem
  OSPD_METRICS_ENABLED=true ospd serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runServe()
		},
	}

	flags := cmd.Flags()
	flags.String("address", "", "address to listen on")
	flags.Int("port", 0, "port to listen on")
	flags.String("cert-file", "", "server certificate")
	flags.String("key-file", "", "server private key")
	flags.String("ca-file", "", "CA certificate used to verify clients")
	flags.String("pid-file", "", "path to PID file")
	flags.String("nmap-path", "", "path to the nmap binary")
	flags.Duration("exec-timeout", 0, "time a single scan may run")
	flags.Int("max-scans", 0, "scans executing at once, 0 for no limit")
	flags.Bool("metrics", false, "enable the status and metrics server")
	flags.Int("metrics-port", 0, "status server port")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	bindFlags(o, flags, map[string]string{
		"server.address":               "address",
		"server.port":                  "port",
		"server.tls.cert_file":         "cert-file",
		"server.tls.key_file":          "key-file",
		"server.tls.ca_file":           "ca-file",
		"daemon.pid_file":              "pid-file",
		"scanner.binary_path":          "nmap-path",
		"scanner.exec_timeout":         "exec-timeout",
		"scanner.max_concurrent_scans": "max-scans",
		"metrics.enabled":              "metrics",
		"metrics.port":                 "metrics-port",
		"logging.level":                "log-level",
	})
	return cmd
}

// bindFlags binds viper keys to flags.
func bindFlags(o *options, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		cobra.CheckErr(o.v.BindPFlag(key, flags.Lookup(name)))
	}
}

func (o *options) runServe() error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}

	sc, err := newScanner(cfg)
	if err != nil {
		return err
	}

	d := daemon.New(cfg, sc, o.configPath())
	if err := d.Start(); err != nil {
		return fmt.Errorf("error starting daemon: %w", err)
	}
	return nil
}

// newScanner creates the scanner wrapper named in the configuration.
func newScanner(cfg *config.Config) (scanner.Scanner, error) {
	switch cfg.Scanner.Name {
	case "nmap":
		return nmap.New(
			nmap.WithBinaryPath(cfg.Scanner.BinaryPath),
			nmap.WithLogger(logging.Default()),
		), nil
	default:
		return nil, fmt.Errorf("unknown scanner %q", cfg.Scanner.Name)
	}
}
