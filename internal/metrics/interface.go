package metrics

import "time"

// Outcomes recorded for scans.
const (
	OutcomeStarted  = "started"
	OutcomeFinished = "finished"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
)

// Results recorded for client connections.
const (
	ConnAccepted     = "accepted"
	ConnHandshakeErr = "handshake_error"
	ConnReadErr      = "read_error"
	ConnEmpty        = "empty"
)

// Recorder is the set of measurements the daemon reports.
// This interface allows the daemon to run with metrics disabled.
type Recorder interface {
	// IncrementConnections counts a client connection by result.
	IncrementConnections(result string)

	// ConnectionOpened and ConnectionClosed track in-flight connections.
	ConnectionOpened()
	ConnectionClosed()

	// IncrementCommands counts a handled command by response status.
	IncrementCommands(command string, status int)

	// RecordCommandDuration records the time spent handling a command.
	RecordCommandDuration(command string, duration time.Duration)

	// IncrementScans counts scan lifecycle transitions by outcome.
	IncrementScans(outcome string)

	// SetActiveScans sets the number of scans that are not terminal yet.
	SetActiveScans(count int)

	// RecordScanDuration records the run time of a scan by outcome.
	RecordScanDuration(outcome string, duration time.Duration)

	// IncrementResults counts results reported by scans by type.
	IncrementResults(resultType string)
}

// Ensure that PrometheusMetrics and Noop implement Recorder.
var (
	_ Recorder = (*PrometheusMetrics)(nil)
	_ Recorder = Noop{}
)

// Noop discards every measurement.
type Noop struct{}

func (Noop) IncrementConnections(string)                 {}
func (Noop) ConnectionOpened()                           {}
func (Noop) ConnectionClosed()                           {}
func (Noop) IncrementCommands(string, int)               {}
func (Noop) RecordCommandDuration(string, time.Duration) {}
func (Noop) IncrementScans(string)                       {}
func (Noop) SetActiveScans(int)                          {}
func (Noop) RecordScanDuration(string, time.Duration)    {}
func (Noop) IncrementResults(string)                     {}
