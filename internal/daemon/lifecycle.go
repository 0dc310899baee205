package daemon

import (
	"context"
	"errors"
	"fmt"

	ospderrors "github.com/anstrom/ospd/internal/errors"
	"github.com/anstrom/ospd/internal/metrics"
	"github.com/anstrom/ospd/internal/scan"
	"github.com/anstrom/ospd/internal/scanner"
)

// Result names the daemon itself reports.
const (
	ThreadFailureName = "Scan thread failure"
	TimeoutName       = "Timeout"
	ScanErrorName     = "Scan error"
)

var _ scanner.Controller = (*Service)(nil)

// worker is the handle of the goroutine running one scan.
type worker struct {
	done chan struct{}
}

func newWorker() *worker {
	return &worker{done: make(chan struct{})}
}

// Alive reports whether the goroutine has not returned yet.
func (w *worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// CreateScan stores a new scan with params merged over the scanner's declared
// defaults. It does not start the scan.
func (s *Service) CreateScan(target string, params map[string]string) (string, error) {
	if tv, ok := s.scanner.(scanner.TargetValidator); ok {
		if err := tv.ValidateTarget(target); err != nil {
			return "", err
		}
	}

	options := scanner.MergeDefaults(s.scanner.Params(), params)

	if pp, ok := s.scanner.(scanner.ParamProcessor); ok {
		processed, err := pp.ProcessParams(options)
		if err != nil {
			return "", err
		}
		options = processed
	}

	id, err := s.registry.Create(target, options)
	if err != nil {
		return "", err
	}

	s.logger.Debug("Scan created", "scan_id", id, "target", target)
	return id, nil
}

// StartScan runs the scanner for id on its own goroutine and returns
// immediately.
func (s *Service) StartScan(id string) error {
	if !s.registry.Exists(id) {
		return ospderrors.NewScanError(ospderrors.CodeNotFound, "start scan", id)
	}

	w := newWorker()
	if err := s.registry.SetWorker(id, w); err != nil {
		return err
	}

	s.metrics.IncrementScans(metrics.OutcomeStarted)
	s.metrics.SetActiveScans(s.registry.Active())

	s.workers.Add(1)
	go s.runScan(id, w)

	s.logger.InfoScan("Scan started", id, "scanner", s.scanner.Name())
	return nil
}

func (s *Service) runScan(id string, w *worker) {
	defer s.workers.Done()
	defer close(w.done)
	defer func() {
		// A panicking scan takes down only its own worker; the next
		// liveness check reports it.
		if r := recover(); r != nil {
			s.logger.ErrorScan("Scan worker panicked", id, fmt.Errorf("%v", r))
		}
	}()

	ctx := s.ctx
	if s.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.execTimeout)
		defer cancel()
	}

	err := s.execScan(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		if terr := s.HandleTimeout(id); terr != nil {
			s.logger.ErrorScan("Failed to record scan timeout", id, terr)
		}
	default:
		s.logger.ErrorScan("Scan execution failed", id, err)
		// Recorded for the client; the scan itself is failed by the
		// liveness check once this worker is gone.
		_ = s.AddError(id, ScanErrorName, err.Error())
	}
}

// execScan waits for an execution slot and runs the scanner.
func (s *Service) execScan(ctx context.Context, id string) error {
	release, err := s.slots.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return s.scanner.Exec(ctx, id, s)
}

// CheckLiveness fails a scan whose worker is gone before it finished. It
// reports whether the scan was failed by this call.
func (s *Service) CheckLiveness(id string) (bool, error) {
	w, err := s.registry.Worker(id)
	if err != nil {
		return false, err
	}
	progress, err := s.registry.Progress(id)
	if err != nil {
		return false, err
	}
	if progress >= scan.ProgressFinished || w == nil || w.Alive() {
		return false, nil
	}

	failed, err := s.registry.Terminate(id, scan.Result{
		Type:  scan.ResultError,
		Name:  ThreadFailureName,
		Value: "Scan thread failure.",
	})
	if err != nil || !failed {
		return false, err
	}

	s.metrics.IncrementResults(scan.ResultError.String())
	s.recordTerminal(id, metrics.OutcomeFailed)
	s.logger.InfoScan("Scan terminated", id, "reason", "worker exited before finishing")
	return true, nil
}

// FinishScan marks a scan as finished.
func (s *Service) FinishScan(id string) error {
	if err := s.registry.SetProgress(id, scan.ProgressFinished); err != nil {
		return err
	}
	s.recordTerminal(id, metrics.OutcomeFinished)
	s.logger.InfoScan("Scan finished", id)
	return nil
}

// HandleTimeout records a timeout error and finishes the scan in one step.
func (s *Service) HandleTimeout(id string) error {
	done, err := s.registry.Terminate(id, scan.Result{
		Type:  scan.ResultError,
		Name:  TimeoutName,
		Value: fmt.Sprintf("%s exec timeout.", s.scanner.Name()),
	})
	if err != nil || !done {
		return err
	}
	s.metrics.IncrementResults(scan.ResultError.String())
	s.recordTerminal(id, metrics.OutcomeTimeout)
	s.logger.InfoScan("Scan timed out", id)
	return nil
}

func (s *Service) recordTerminal(id, outcome string) {
	s.metrics.IncrementScans(outcome)
	s.metrics.SetActiveScans(s.registry.Active())
	if snap, err := s.registry.Snapshot(id); err == nil {
		s.metrics.RecordScanDuration(outcome, snap.Duration(snap.EndTime))
	}
}

// Target returns the scan target.
func (s *Service) Target(id string) (string, error) {
	return s.registry.Target(id)
}

// Options returns the merged scan options.
func (s *Service) Options(id string) (map[string]string, error) {
	return s.registry.Options(id)
}

// AddLog appends a Log result.
func (s *Service) AddLog(id, name, value string) error {
	return s.addResult(id, scan.Result{Type: scan.ResultLog, Name: name, Value: value})
}

// AddAlarm appends an Alert result.
func (s *Service) AddAlarm(id, name, value, severity string) error {
	return s.addResult(id, scan.Result{Type: scan.ResultAlert, Name: name, Value: value, Severity: severity})
}

// AddError appends an Error result.
func (s *Service) AddError(id, name, value string) error {
	return s.addResult(id, scan.Result{Type: scan.ResultError, Name: name, Value: value})
}

func (s *Service) addResult(id string, r scan.Result) error {
	if err := s.registry.AppendResult(id, r); err != nil {
		return err
	}
	s.metrics.IncrementResults(r.Type.String())
	return nil
}

// SetProgress updates the scan progress. Reaching 100 finishes the scan.
func (s *Service) SetProgress(id string, progress int) error {
	if progress == scan.ProgressFinished {
		return s.FinishScan(id)
	}
	return s.registry.SetProgress(id, progress)
}
