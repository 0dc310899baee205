package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/anstrom/ospd/internal/logging"
	"github.com/anstrom/ospd/internal/metrics"
	"github.com/anstrom/ospd/internal/osp"
	"github.com/anstrom/ospd/internal/scan"
	"github.com/anstrom/ospd/internal/scanner"
)

// Versions reported by get_version.
const (
	ProtocolName    = "OSP"
	ProtocolVersion = "0.1.0"
	DaemonName      = "OSPd"
	DaemonVersion   = "1.0+beta5"
)

// Service is the protocol engine of the daemon: it owns the scan registry,
// the command table and the wrapped scanner, and answers OSP commands.
// Service implements scanner.Controller for the scans it runs.
type Service struct {
	scanner     scanner.Scanner
	registry    *scan.Registry
	commands    *osp.Commands
	handlers    map[string]handlerFunc
	logger      *logging.Logger
	metrics     metrics.Recorder
	execTimeout time.Duration
	slots       *scanSlots

	// base context of scan workers, cancelled by Shutdown
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *logging.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRegistry replaces the scan registry.
func WithRegistry(r *scan.Registry) ServiceOption {
	return func(s *Service) {
		s.registry = r
	}
}

// WithExecTimeout bounds the run time of each scan. Zero disables the bound.
func WithExecTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.execTimeout = d
	}
}

// WithMaxConcurrentScans limits how many scans execute at once. Started
// scans beyond the limit wait for a free slot. Zero means no limit.
func WithMaxConcurrentScans(n int) ServiceOption {
	return func(s *Service) {
		s.slots = newScanSlots(n)
	}
}

// NewService creates a service around sc. The scanner's parameters are
// advertised under start_scan's scanner_params element.
func NewService(sc scanner.Scanner, opts ...ServiceOption) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		scanner:  sc,
		registry: scan.NewRegistry(),
		commands: osp.DefaultCommands(),
		logger:   logging.Default(),
		metrics:  metrics.Noop{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("ospd")

	if params := sc.Params(); len(params) > 0 {
		children := make([]osp.ElementSpec, 0, len(params))
		for _, p := range params {
			children = append(children, osp.ElementSpec{Name: p.ID, Description: p.Name})
		}
		// start_scan is always part of the default table
		_ = s.commands.SetElements(osp.CmdStartScan, []osp.ElementSpec{
			{Name: "scanner_params", Children: children},
		})
	}

	s.handlers = s.handlerTable()
	return s
}

// Registry returns the scan registry.
func (s *Service) Registry() *scan.Registry {
	return s.registry
}

// Commands returns the command table.
func (s *Service) Commands() *osp.Commands {
	return s.commands
}

// Scanner returns the wrapped scanner.
func (s *Service) Scanner() scanner.Scanner {
	return s.scanner
}

// Executing returns the number of scans holding an execution slot. Without
// a concurrency limit it counts the scans that are not terminal.
func (s *Service) Executing() int {
	if s.slots == nil {
		return s.registry.Active()
	}
	return s.slots.inUse()
}

// Shutdown cancels the context handed to running scans and waits for their
// workers to return, or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
