// Package daemon implements the OSP daemon: the protocol engine answering
// OSP commands, the mutual-TLS accept loop that feeds it, and the process
// management around both (PID file, signals, privilege drop and the optional
// status server).
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/anstrom/ospd/internal/api"
	"github.com/anstrom/ospd/internal/config"
	"github.com/anstrom/ospd/internal/logging"
	"github.com/anstrom/ospd/internal/metrics"
	"github.com/anstrom/ospd/internal/scanner"
)

const (
	// Interval of the system metrics refresh.
	metricsUpdateInterval = 15 * time.Second

	// Time given to the scanner availability check.
	scannerCheckTimeout = 30 * time.Second
)

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Daemon represents the main daemon process.
type Daemon struct {
	config     *config.Config
	configPath string
	scanner    scanner.Scanner

	service   *Service
	server    *Server
	apiServer *api.Server
	metrics   *metrics.PrometheusMetrics

	pidFile   string
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	debugMode bool
	mu        sync.RWMutex

	// set once this process has written pidFile
	ownsPIDFile bool
}

// New creates a new daemon instance serving sc. configPath is re-read on
// SIGHUP; it may be empty.
func New(cfg *config.Config, sc scanner.Scanner, configPath string) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:     cfg,
		configPath: configPath,
		scanner:    sc,
		pidFile:    cfg.Daemon.PIDFile,
		logger:     logging.Default(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start starts the daemon and blocks until it has shut down.
func (d *Daemon) Start() error {
	d.logger.InfoDaemon("Starting ospd", "scanner", d.scanner.Name())

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if d.config.Daemon.WorkDir != "" {
		if err := os.MkdirAll(d.config.Daemon.WorkDir, DefaultDirPermissions); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
		if err := os.Chdir(d.config.Daemon.WorkDir); err != nil {
			return fmt.Errorf("failed to change to working directory: %w", err)
		}
	}

	if err := d.checkScanner(); err != nil {
		return err
	}

	if err := d.initServer(); err != nil {
		return fmt.Errorf("failed to initialize OSP server: %w", err)
	}

	// The listener is bound; root is no longer needed.
	if err := d.dropPrivileges(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to drop privileges: %w", err)
	}

	if err := d.createPIDFile(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	if err := d.initAPIServer(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize status server: %w", err)
	}

	d.logger.InfoDaemon("Daemon started successfully", "address", d.server.Addr().String())
	return d.run()
}

// Stop asks the daemon to shut down and waits for it, bounded by the
// configured shutdown timeout.
func (d *Daemon) Stop() error {
	d.logger.InfoDaemon("Stopping daemon")
	d.cancel()

	select {
	case <-d.done:
		d.logger.InfoDaemon("Daemon stopped gracefully")
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Warn("Shutdown timeout reached, forcing exit")
	}
	return nil
}

// checkScanner verifies the wrapped scanner can run before anything is
// served.
func (d *Daemon) checkScanner() error {
	ctx, cancel := context.WithTimeout(d.ctx, scannerCheckTimeout)
	defer cancel()

	if err := d.scanner.Check(ctx); err != nil {
		return fmt.Errorf("scanner %s is not available: %w", d.scanner.Name(), err)
	}
	d.logger.InfoDaemon("Scanner available", "scanner", d.scanner.Name(), "version", d.scanner.Version())
	return nil
}

// initServer builds the protocol engine and binds the OSP listener.
func (d *Daemon) initServer() error {
	tlsConfig, err := LoadTLSConfig(
		d.config.Server.TLS.CertFile,
		d.config.Server.TLS.KeyFile,
		d.config.Server.TLS.CAFile,
	)
	if err != nil {
		return err
	}

	opts := []ServiceOption{
		WithLogger(d.logger),
		WithExecTimeout(d.config.Scanner.ExecTimeout),
		WithMaxConcurrentScans(d.config.Scanner.MaxConcurrentScans),
	}
	if d.config.Metrics.Enabled {
		d.metrics = metrics.NewPrometheusMetrics()
		opts = append(opts, WithMetrics(d.metrics))
	}

	d.service = NewService(d.scanner, opts...)
	d.server = NewServer(d.service, &d.config.Server, tlsConfig)
	return d.server.Listen()
}

// dropPrivileges drops root privileges if configured.
func (d *Daemon) dropPrivileges() error {
	if d.config.Daemon.User == "" && d.config.Daemon.Group == "" {
		return nil
	}

	if os.Getuid() != 0 {
		d.logger.InfoDaemon("Not running as root, skipping privilege drop")
		return nil
	}

	// Group first; setgid is no longer permitted once the uid changed.
	if d.config.Daemon.Group != "" {
		grp, err := user.LookupGroup(d.config.Daemon.Group)
		if err != nil {
			return fmt.Errorf("failed to lookup group %s: %w", d.config.Daemon.Group, err)
		}
		gid, err := strconv.Atoi(grp.Gid)
		if err != nil {
			return fmt.Errorf("invalid group ID: %w", err)
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("failed to set GID to %d: %w", gid, err)
		}
		d.logger.InfoDaemon("Changed group", "group", d.config.Daemon.Group, "gid", gid)
	}

	if d.config.Daemon.User != "" {
		usr, err := user.Lookup(d.config.Daemon.User)
		if err != nil {
			return fmt.Errorf("failed to lookup user %s: %w", d.config.Daemon.User, err)
		}
		uid, err := strconv.Atoi(usr.Uid)
		if err != nil {
			return fmt.Errorf("invalid user ID: %w", err)
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("failed to setuid to %d: %w", uid, err)
		}
		d.logger.InfoDaemon("Changed user", "user", d.config.Daemon.User, "uid", uid)
	}

	return nil
}

// createPIDFile creates the PID file.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.pidFile)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.ownsPIDFile = true
	d.logger.InfoDaemon("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID fails if the PID file names a running process and removes
// it when stale.
func (d *Daemon) checkExistingPID() error {
	if _, err := os.Stat(d.pidFile); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		_ = os.Remove(d.pidFile)
		return nil
	}

	if isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// setupSignalHandlers sets up signal handling for graceful shutdown.
func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)

	signal.Notify(sigChan,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,  // reload configuration
		syscall.SIGUSR1, // dump status
		syscall.SIGUSR2, // toggle debug logging
	)

	go func() {
		defer signal.Stop(sigChan)
		for {
			var sig os.Signal
			select {
			case <-d.ctx.Done():
				return
			case sig = <-sigChan:
			}

			d.logger.InfoDaemon("Received signal", "signal", sig.String())
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.logger.InfoDaemon("Initiating graceful shutdown")
				d.cancel()
				return
			case syscall.SIGHUP:
				if err := d.reloadConfiguration(); err != nil {
					d.logger.ErrorDaemon("Configuration reload failed", err)
				}
			case syscall.SIGUSR1:
				d.dumpStatus()
			case syscall.SIGUSR2:
				d.toggleDebugMode()
			}
		}
	}()
}

// initAPIServer creates the status server if metrics are enabled.
func (d *Daemon) initAPIServer() error {
	if !d.config.Metrics.Enabled {
		d.logger.InfoDaemon("Status server disabled, skipping initialization")
		return nil
	}

	apiServer, err := api.New(d.config, d.service, d.metrics)
	if err != nil {
		return fmt.Errorf("status server creation failed: %w", err)
	}
	d.apiServer = apiServer
	return nil
}

// run serves until the daemon context is cancelled, then shuts everything
// down in order: listener and in-flight connections, scan workers, status
// server.
func (d *Daemon) run() error {
	defer close(d.done)

	if d.apiServer != nil {
		go func() {
			if err := d.apiServer.Start(d.ctx); err != nil {
				d.logger.ErrorDaemon("Status server error", err)
			}
		}()
		go d.metrics.StartPeriodicUpdates(d.ctx, metricsUpdateInterval)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.server.Serve(d.ctx)
	}()

	var err error
	select {
	case <-d.ctx.Done():
		d.logger.InfoDaemon("Shutdown signal received")
	case err = <-serveErr:
		if err != nil {
			d.logger.ErrorDaemon("OSP server stopped", err)
			err = fmt.Errorf("OSP server failed: %w", err)
		}
		d.cancel()
	}

	d.shutdown()
	d.cleanup()
	return err
}

// shutdown waits for connections and scan workers within the configured
// shutdown timeout.
func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.Daemon.ShutdownTimeout)
	defer cancel()

	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.ErrorDaemon("Connections did not finish before shutdown timeout", err)
	}
	if err := d.service.Shutdown(ctx); err != nil {
		d.logger.ErrorDaemon("Scan workers did not finish before shutdown timeout", err,
			"active_scans", d.service.Registry().Active(),
			"executing_scans", d.service.Executing())
	}
}

// cleanup performs cleanup tasks.
func (d *Daemon) cleanup() {
	d.logger.InfoDaemon("Performing cleanup")

	if d.apiServer != nil {
		if err := d.apiServer.Stop(); err != nil {
			d.logger.ErrorDaemon("Error stopping status server", err)
		}
	}

	if d.server != nil && d.server.Addr() != nil {
		// Start failed after binding; release the socket.
		_ = d.server.Shutdown(context.Background())
	}

	if d.pidFile != "" && d.ownsPIDFile {
		if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
			d.logger.ErrorDaemon("Error removing PID file", err)
		} else {
			d.ownsPIDFile = false
			d.logger.InfoDaemon("Removed PID file", "path", d.pidFile)
		}
	}

	d.logger.InfoDaemon("Cleanup completed")
}

// GetPID returns the daemon's PID.
func (d *Daemon) GetPID() int {
	return os.Getpid()
}

// IsRunning checks if the daemon is running.
func (d *Daemon) IsRunning() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
		return true
	}
}

// reloadConfiguration re-reads the configuration file. Only the log level
// takes effect at runtime; other changes are reported and need a restart.
func (d *Daemon) reloadConfiguration() error {
	if d.configPath == "" {
		d.logger.InfoDaemon("No configuration file to reload")
		return nil
	}

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}

	d.mu.Lock()
	oldConfig := d.config
	d.config = newConfig
	d.mu.Unlock()

	if oldConfig.Logging.Level != newConfig.Logging.Level {
		d.logger.SetLevel(logging.LogLevel(newConfig.Logging.Level))
		d.logger.InfoDaemon("Log level changed", "level", newConfig.Logging.Level)
	}
	if oldConfig.Server != newConfig.Server || oldConfig.Scanner != newConfig.Scanner ||
		oldConfig.Metrics != newConfig.Metrics {
		d.logger.Warn("Server, scanner or metrics settings changed; restart to apply them")
	}

	d.logger.InfoDaemon("Configuration reloaded", "path", d.configPath)
	return nil
}

// dumpStatus dumps the current daemon status to the log.
func (d *Daemon) dumpStatus() {
	d.mu.RLock()
	debugMode := d.debugMode
	workDir := d.config.Daemon.WorkDir
	d.mu.RUnlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	fields := []any{
		"pid", os.Getpid(),
		"debug_mode", debugMode,
		"alloc_kb", m.Alloc / 1024,
		"sys_kb", m.Sys / 1024,
		"num_gc", m.NumGC,
		"goroutines", runtime.NumGoroutine(),
		"work_dir", workDir,
	}
	if d.server != nil && d.server.Addr() != nil {
		fields = append(fields, "address", d.server.Addr().String())
	}
	if d.service != nil {
		fields = append(fields,
			"scans", d.service.Registry().Len(),
			"active_scans", d.service.Registry().Active())
	}
	if d.apiServer != nil {
		fields = append(fields, "status_server", d.config.MetricsAddress())
	} else {
		fields = append(fields, "status_server", "disabled")
	}

	d.logger.InfoDaemon("Status dump", fields...)
}

// toggleDebugMode switches the log level between debug and the configured
// level.
func (d *Daemon) toggleDebugMode() {
	d.mu.Lock()
	d.debugMode = !d.debugMode
	newMode := d.debugMode
	configured := d.config.Logging.Level
	d.mu.Unlock()

	if newMode {
		d.logger.SetLevel(logging.LevelDebug)
		d.logger.InfoDaemon("Debug mode enabled")
	} else {
		d.logger.SetLevel(logging.LogLevel(configured))
		d.logger.InfoDaemon("Debug mode disabled", "level", configured)
	}
}

// IsDebugMode returns the current debug mode state.
func (d *Daemon) IsDebugMode() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.debugMode
}

// GetContext returns the daemon's context.
func (d *Daemon) GetContext() context.Context {
	return d.ctx
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Service returns the protocol engine, nil before Start.
func (d *Daemon) Service() *Service {
	return d.service
}
