// Package scan provides the concurrency-safe registry that owns every scan
// record of the daemon: target, options, progress, timestamps, results and
// the handle of the worker executing it.
//
// A map-level lock guards the set of ids and their insertion order. Each
// record carries its own mutex so a worker updating one scan never blocks
// readers of another.
package scan

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/ospd/internal/errors"
)

const (
	// ProgressFinished marks a terminal scan.
	ProgressFinished = 100

	// maxIDAttempts bounds id generation retries on collision.
	maxIDAttempts = 8
)

// ResultType classifies a scan result.
type ResultType int

const (
	ResultAlert ResultType = iota
	ResultLog
	ResultError
)

// String returns the wire name of the result type.
func (t ResultType) String() string {
	switch t {
	case ResultAlert:
		return "Alert"
	case ResultLog:
		return "Log"
	case ResultError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Result is a single finding, log line or error reported by a scan.
type Result struct {
	Type     ResultType
	Name     string
	Value    string
	Severity string
}

// normalize drops the severity of non-alert results.
func (r Result) normalize() Result {
	if r.Type != ResultAlert {
		r.Severity = ""
	}
	return r
}

// WorkerHandle reports whether the execution unit of a scan is still running.
type WorkerHandle interface {
	Alive() bool
}

// Snapshot is a consistent copy of one scan record.
type Snapshot struct {
	ID        string
	Target    string
	Options   map[string]string
	Progress  int
	StartTime time.Time
	EndTime   time.Time
	Results   []Result
}

// Terminal reports whether the snapshot was taken after the scan finished.
func (s Snapshot) Terminal() bool {
	return s.Progress >= ProgressFinished
}

// Duration returns the run time of the scan, measured up to now while it is
// still running.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if s.Terminal() && !s.EndTime.IsZero() {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

type record struct {
	mu        sync.Mutex
	target    string
	options   map[string]string
	progress  int
	startTime time.Time
	endTime   time.Time
	results   []Result
	worker    WorkerHandle
}

func (r *record) terminal() bool {
	return r.progress >= ProgressFinished
}

// finish stamps the terminal transition. Caller holds r.mu.
func (r *record) finish(now time.Time) {
	r.progress = ProgressFinished
	if r.endTime.IsZero() {
		r.endTime = now
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator overrides the scan id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		r.newID = fn
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		r.now = fn
	}
}

// Registry stores scan records keyed by id.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
	order   []string

	newID func() string
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]*record),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new scan with progress 0 and returns its id. The options
// map is copied.
func (r *Registry) Create(target string, options map[string]string) (string, error) {
	rec := &record{
		target:    target,
		options:   make(map[string]string, len(options)),
		startTime: r.now(),
	}
	maps.Copy(rec.options, options)

	r.mu.Lock()
	defer r.mu.Unlock()

	for range maxIDAttempts {
		id := r.newID()
		if id == "" {
			continue
		}
		if _, taken := r.records[id]; taken {
			continue
		}
		r.records[id] = rec
		r.order = append(r.order, id)
		return id, nil
	}

	return "", errors.WrapScanError(errors.CodeFatal, "create scan", "",
		fmt.Errorf("no unused scan id after %d attempts", maxIDAttempts))
}

// lookup returns the record for id without locking it.
func (r *Registry) lookup(op, id string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewScanError(errors.CodeNotFound, op, id)
	}
	return rec, nil
}

// Exists reports whether a scan with the given id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok
}

// Target returns the scan target.
func (r *Registry) Target(id string) (string, error) {
	rec, err := r.lookup("get target", id)
	if err != nil {
		return "", err
	}
	// target is immutable after Create
	return rec.target, nil
}

// Options returns a copy of the scan options.
func (r *Registry) Options(id string) (map[string]string, error) {
	rec, err := r.lookup("get options", id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return maps.Clone(rec.options), nil
}

// Option returns a single option and whether it is set.
func (r *Registry) Option(id, name string) (string, bool, error) {
	rec, err := r.lookup("get option", id)
	if err != nil {
		return "", false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	v, ok := rec.options[name]
	return v, ok, nil
}

// SetOption sets a single option. Terminal scans reject the write.
func (r *Registry) SetOption(id, name, value string) error {
	rec, err := r.lookup("set option", id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.terminal() {
		return errors.NewScanError(errors.CodeScanTerminal, "set option", id)
	}
	rec.options[name] = value
	return nil
}

// Progress returns the scan progress.
func (r *Registry) Progress(id string) (int, error) {
	rec, err := r.lookup("get progress", id)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.progress, nil
}

// SetProgress updates the scan progress. Values outside 0..100 are rejected,
// a value below the current progress is ignored and reaching 100 makes the
// scan terminal.
func (r *Registry) SetProgress(id string, progress int) error {
	if progress < 0 || progress > ProgressFinished {
		return errors.WrapScanError(errors.CodeValidation, "set progress", id,
			fmt.Errorf("progress %d out of range", progress))
	}

	rec, err := r.lookup("set progress", id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.terminal() {
		return errors.NewScanError(errors.CodeScanTerminal, "set progress", id)
	}
	if progress < rec.progress {
		return nil
	}
	if progress == ProgressFinished {
		rec.finish(r.now())
		return nil
	}
	rec.progress = progress
	return nil
}

// StartTime returns the time the scan was created.
func (r *Registry) StartTime(id string) (time.Time, error) {
	rec, err := r.lookup("get start time", id)
	if err != nil {
		return time.Time{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.startTime, nil
}

// EndTime returns the time the scan became terminal, zero before that.
func (r *Registry) EndTime(id string) (time.Time, error) {
	rec, err := r.lookup("get end time", id)
	if err != nil {
		return time.Time{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.endTime, nil
}

// AppendResult adds a result to the scan. Terminal scans reject the write.
func (r *Registry) AppendResult(id string, result Result) error {
	rec, err := r.lookup("append result", id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.terminal() {
		return errors.NewScanError(errors.CodeScanTerminal, "append result", id)
	}
	rec.results = append(rec.results, result.normalize())
	return nil
}

// Results returns a copy of the scan results in append order.
func (r *Registry) Results(id string) ([]Result, error) {
	rec, err := r.lookup("get results", id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]Result, len(rec.results))
	copy(out, rec.results)
	return out, nil
}

// Terminate appends result and forces the scan terminal in one step, unless
// it already is. It reports whether the transition happened.
func (r *Registry) Terminate(id string, result Result) (bool, error) {
	rec, err := r.lookup("terminate", id)
	if err != nil {
		return false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.terminal() {
		return false, nil
	}
	rec.results = append(rec.results, result.normalize())
	rec.finish(r.now())
	return true, nil
}

// Delete removes a terminal scan. It returns false without removing anything
// while the scan is still running.
func (r *Registry) Delete(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false, errors.NewScanError(errors.CodeNotFound, "delete", id)
	}

	rec.mu.Lock()
	terminal := rec.terminal()
	rec.mu.Unlock()
	if !terminal {
		return false, nil
	}

	delete(r.records, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// IDs returns the registered ids in creation order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshot returns a copy of the record read under a single lock.
func (r *Registry) Snapshot(id string) (Snapshot, error) {
	rec, err := r.lookup("snapshot", id)
	if err != nil {
		return Snapshot{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	results := make([]Result, len(rec.results))
	copy(results, rec.results)
	return Snapshot{
		ID:        id,
		Target:    rec.target,
		Options:   maps.Clone(rec.options),
		Progress:  rec.progress,
		StartTime: rec.startTime,
		EndTime:   rec.endTime,
		Results:   results,
	}, nil
}

// SetWorker records the handle of the worker executing the scan.
func (r *Registry) SetWorker(id string, handle WorkerHandle) error {
	rec, err := r.lookup("set worker", id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.worker = handle
	return nil
}

// Worker returns the worker handle, nil if none was recorded.
func (r *Registry) Worker(id string) (WorkerHandle, error) {
	rec, err := r.lookup("get worker", id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.worker, nil
}

// Len returns the number of registered scans.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Active returns the number of scans that are not terminal yet.
func (r *Registry) Active() int {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	active := 0
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.terminal() {
			active++
		}
		rec.mu.Unlock()
	}
	return active
}
