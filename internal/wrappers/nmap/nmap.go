// Package nmap wraps the nmap port scanner as an OSP scanner. Open ports are
// reported as alarms, nmap warnings and host summaries as log results.
package nmap

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	nmaplib "github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/ospd/internal/logging"
	"github.com/anstrom/ospd/internal/scanner"
)

const (
	scannerName    = "nmap"
	unknownVersion = "unknown"

	// Progress reported once nmap has returned and results are being
	// converted.
	progressConverting = 90
)

var versionPattern = regexp.MustCompile(`Nmap version ([^\s]+)`)

// runFunc executes nmap with the given options.
type runFunc func(ctx context.Context, opts ...nmaplib.Option) (*nmaplib.Run, []string, error)

// Scanner is the nmap scanner wrapper.
type Scanner struct {
	binaryPath string
	run        runFunc
	logger     *logging.Logger

	mu      sync.RWMutex
	version string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithBinaryPath runs the nmap binary at path instead of looking it up in PATH.
func WithBinaryPath(path string) Option {
	return func(s *Scanner) {
		s.binaryPath = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

func withRunner(run runFunc) Option {
	return func(s *Scanner) {
		s.run = run
	}
}

// New creates the nmap wrapper.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		run:     runNmap,
		logger:  logging.Default(),
		version: unknownVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("nmap")
	return s
}

func runNmap(ctx context.Context, opts ...nmaplib.Option) (*nmaplib.Run, []string, error) {
	s, err := nmaplib.NewScanner(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create nmap scanner: %w", err)
	}

	result, warnings, err := s.Run()
	var w []string
	if warnings != nil {
		w = *warnings
	}
	return result, w, err
}

// Name implements scanner.Scanner.
func (s *Scanner) Name() string { return scannerName }

// Version returns the nmap version found by Check.
func (s *Scanner) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Description implements scanner.Scanner.
func (s *Scanner) Description() string {
	return "OSP wrapper for the nmap network mapper. Open ports are reported as alarms."
}

// Params implements scanner.Scanner.
func (s *Scanner) Params() []scanner.Param {
	out := make([]scanner.Param, len(params))
	copy(out, params)
	return out
}

// Check locates the nmap binary and records its version.
func (s *Scanner) Check(ctx context.Context) error {
	binary := s.binaryPath
	if binary == "" {
		binary = scannerName
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("nmap binary not found: %w", err)
	}

	out, err := exec.CommandContext(ctx, path, "--version").Output() //nolint:gosec // configured binary
	if err != nil {
		return fmt.Errorf("failed to run %s --version: %w", path, err)
	}
	version, err := parseVersion(string(out))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.version = version
	s.mu.Unlock()

	s.logger.Info("nmap found", "path", path, "version", version)
	return nil
}

func parseVersion(out string) (string, error) {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unrecognized nmap version output: %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

// ProcessParams validates the merged parameters of a new scan and
// normalizes them.
func (s *Scanner) ProcessParams(opts map[string]string) (map[string]string, error) {
	p, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	opts[ParamPorts] = p.Ports
	opts[ParamScanType] = p.ScanType
	return opts, nil
}

// ValidateTarget rejects targets that are not plain host specs.
func (s *Scanner) ValidateTarget(target string) error {
	_, err := parseTargets(target)
	return err
}

// Exec runs nmap against the scan target and reports through ctl.
func (s *Scanner) Exec(ctx context.Context, scanID string, ctl scanner.Controller) error {
	target, err := ctl.Target(scanID)
	if err != nil {
		return err
	}
	opts, err := ctl.Options(scanID)
	if err != nil {
		return err
	}

	p, err := parseOptions(opts)
	if err != nil {
		return err
	}
	if p.Targets, err = parseTargets(target); err != nil {
		return err
	}

	s.logger.InfoScan("Running nmap", scanID,
		"targets", p.Targets, "ports", p.Ports, "scan_type", p.ScanType, "timing", p.Timing)

	result, warnings, err := s.run(ctx, p.options(s.binaryPath)...)
	if ctx.Err() != nil {
		// nmap was killed; the daemon distinguishes timeout from shutdown.
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("nmap failed: %w", err)
	}

	if err := ctl.SetProgress(scanID, progressConverting); err != nil {
		return err
	}
	for _, w := range warnings {
		if err := ctl.AddLog(scanID, "nmap warning", w); err != nil {
			return err
		}
	}
	if err := report(scanID, result, ctl); err != nil {
		return err
	}

	return ctl.FinishScan(scanID)
}

// report converts an nmap run into scan results.
func report(scanID string, run *nmaplib.Run, ctl scanner.Controller) error {
	if run == nil {
		return nil
	}

	for i := range run.Hosts {
		h := &run.Hosts[i]
		if len(h.Addresses) == 0 || h.Status.State != "up" {
			continue
		}
		addr := h.Addresses[0].Addr

		open := 0
		for j := range h.Ports {
			p := &h.Ports[j]
			if p.State.State != "open" {
				continue
			}
			open++
			name := fmt.Sprintf("%s:%d/%s", addr, p.ID, p.Protocol)
			if err := ctl.AddAlarm(scanID, name, serviceDescription(p), ""); err != nil {
				return err
			}
		}

		if err := ctl.AddLog(scanID, addr, fmt.Sprintf("Host is up, %d open ports", open)); err != nil {
			return err
		}
	}

	stats := run.Stats.Hosts
	return ctl.AddLog(scanID, "summary",
		fmt.Sprintf("%d hosts scanned, %d up, %d down", stats.Total, stats.Up, stats.Down))
}

func serviceDescription(p *nmaplib.Port) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Service.Name, p.Service.Product, p.Service.Version} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "open"
	}
	return strings.Join(parts, " ")
}
