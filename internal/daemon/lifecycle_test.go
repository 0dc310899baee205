package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ospderrors "github.com/anstrom/ospd/internal/errors"
	"github.com/anstrom/ospd/internal/metrics"
	"github.com/anstrom/ospd/internal/scan"
	"github.com/anstrom/ospd/internal/scanner"
)

// recordingMetrics counts scan outcomes and results.
type recordingMetrics struct {
	metrics.Noop
	mu       sync.Mutex
	outcomes map[string]int
	results  map[string]int
	active   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: map[string]int{}, results: map[string]int{}}
}

func (m *recordingMetrics) IncrementScans(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *recordingMetrics) IncrementResults(resultType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[resultType]++
}

func (m *recordingMetrics) SetActiveScans(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = count
}

func (m *recordingMetrics) snapshot() (map[string]int, map[string]int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcomes := make(map[string]int, len(m.outcomes))
	for k, v := range m.outcomes {
		outcomes[k] = v
	}
	results := make(map[string]int, len(m.results))
	for k, v := range m.results {
		results[k] = v
	}
	return outcomes, results, m.active
}

func TestWorkerAlive(t *testing.T) {
	w := newWorker()
	assert.True(t, w.Alive())
	close(w.done)
	assert.False(t, w.Alive())
}

func TestCreateScan(t *testing.T) {
	t.Run("stores merged options without starting", func(t *testing.T) {
		svc := newTestService(t, newFakeScanner())

		id, err := svc.CreateScan("example.org", map[string]string{"timing": "5"})
		require.NoError(t, err)

		snap, err := svc.Registry().Snapshot(id)
		require.NoError(t, err)
		assert.Equal(t, "example.org", snap.Target)
		assert.Equal(t, map[string]string{"ports": "1-100", "timing": "5"}, snap.Options)
		assert.Equal(t, 0, snap.Progress)

		w, err := svc.Registry().Worker(id)
		require.NoError(t, err)
		assert.Nil(t, w)
	})

	t.Run("processor output is stored", func(t *testing.T) {
		sc := &processingScanner{
			fakeScanner: newFakeScanner(),
			process: func(params map[string]string) (map[string]string, error) {
				params["ports"] = "T:" + params["ports"]
				return params, nil
			},
		}
		svc := newTestService(t, sc)

		id, err := svc.CreateScan("h", nil)
		require.NoError(t, err)
		opt, ok, err := svc.Registry().Option(id, "ports")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "T:1-100", opt)
	})
}

func TestStartScan(t *testing.T) {
	t.Run("unknown scan", func(t *testing.T) {
		svc := newTestService(t, newFakeScanner())
		err := svc.StartScan("missing")
		assert.True(t, ospderrors.IsCode(err, ospderrors.CodeNotFound))
	})

	t.Run("runs the scanner with the controller", func(t *testing.T) {
		sc := newFakeScanner()
		seen := make(chan string, 1)
		sc.exec = func(_ context.Context, id string, ctl scanner.Controller) error {
			target, err := ctl.Target(id)
			if err != nil {
				return err
			}
			opts, err := ctl.Options(id)
			if err != nil {
				return err
			}
			seen <- target + " " + opts["ports"]
			if err := ctl.SetProgress(id, 50); err != nil {
				return err
			}
			return ctl.SetProgress(id, 100)
		}
		m := newRecordingMetrics()
		svc := newTestService(t, sc, WithMetrics(m))

		id, err := svc.CreateScan("10.1.1.1", nil)
		require.NoError(t, err)
		require.NoError(t, svc.StartScan(id))

		assert.Equal(t, "10.1.1.1 1-100", <-seen)
		waitWorker(t, svc, id)

		snap, err := svc.Registry().Snapshot(id)
		require.NoError(t, err)
		assert.True(t, snap.Terminal())
		assert.False(t, snap.EndTime.IsZero())
		assert.Empty(t, snap.Results)

		outcomes, _, active := m.snapshot()
		assert.Equal(t, 1, outcomes[metrics.OutcomeStarted])
		assert.Equal(t, 1, outcomes[metrics.OutcomeFinished])
		assert.Equal(t, 0, active)
	})
}

func TestCheckLiveness(t *testing.T) {
	t.Run("scan without worker is left alone", func(t *testing.T) {
		svc := newTestService(t, newFakeScanner())
		id, err := svc.CreateScan("h", nil)
		require.NoError(t, err)

		failed, err := svc.CheckLiveness(id)
		require.NoError(t, err)
		assert.False(t, failed)
	})

	t.Run("running worker is left alone", func(t *testing.T) {
		sc := newFakeScanner()
		svc := newTestService(t, sc)
		defer close(sc.release)

		id, err := svc.CreateScan("h", nil)
		require.NoError(t, err)
		require.NoError(t, svc.StartScan(id))

		failed, err := svc.CheckLiveness(id)
		require.NoError(t, err)
		assert.False(t, failed)
	})

	t.Run("dead worker fails the scan once", func(t *testing.T) {
		sc := newFakeScanner()
		sc.exec = func(context.Context, string, scanner.Controller) error { return nil }
		m := newRecordingMetrics()
		svc := newTestService(t, sc, WithMetrics(m))

		id, err := svc.CreateScan("h", nil)
		require.NoError(t, err)
		require.NoError(t, svc.StartScan(id))
		waitWorker(t, svc, id)

		failed, err := svc.CheckLiveness(id)
		require.NoError(t, err)
		assert.True(t, failed)

		failed, err = svc.CheckLiveness(id)
		require.NoError(t, err)
		assert.False(t, failed)

		results, err := svc.Registry().Results(id)
		require.NoError(t, err)
		assert.Equal(t, []scan.Result{
			{Type: scan.ResultError, Name: ThreadFailureName, Value: "Scan thread failure."},
		}, results)

		outcomes, byType, _ := m.snapshot()
		assert.Equal(t, 1, outcomes[metrics.OutcomeFailed])
		assert.Equal(t, 1, byType["Error"])
	})

	t.Run("finished scan is not failed", func(t *testing.T) {
		sc := newFakeScanner()
		close(sc.release)
		svc := newTestService(t, sc)

		id, err := svc.CreateScan("h", nil)
		require.NoError(t, err)
		require.NoError(t, svc.StartScan(id))
		waitWorker(t, svc, id)

		failed, err := svc.CheckLiveness(id)
		require.NoError(t, err)
		assert.False(t, failed)
	})

	t.Run("unknown scan", func(t *testing.T) {
		svc := newTestService(t, newFakeScanner())
		_, err := svc.CheckLiveness("missing")
		assert.True(t, ospderrors.IsCode(err, ospderrors.CodeNotFound))
	})
}

func TestExecTimeout(t *testing.T) {
	sc := newFakeScanner()
	sc.exec = func(ctx context.Context, _ string, _ scanner.Controller) error {
		<-ctx.Done()
		return ctx.Err()
	}
	m := newRecordingMetrics()
	svc := newTestService(t, sc, WithExecTimeout(20*time.Millisecond), WithMetrics(m))

	id, err := svc.CreateScan("h", nil)
	require.NoError(t, err)
	require.NoError(t, svc.StartScan(id))
	waitWorker(t, svc, id)

	snap, err := svc.Registry().Snapshot(id)
	require.NoError(t, err)
	assert.True(t, snap.Terminal())
	assert.Equal(t, []scan.Result{
		{Type: scan.ResultError, Name: TimeoutName, Value: "fake exec timeout."},
	}, snap.Results)

	outcomes, _, _ := m.snapshot()
	assert.Equal(t, 1, outcomes[metrics.OutcomeTimeout])
}

func TestExecError(t *testing.T) {
	sc := newFakeScanner()
	sc.exec = func(context.Context, string, scanner.Controller) error {
		return errors.New("nmap exited with status 1")
	}
	svc := newTestService(t, sc)

	id, err := svc.CreateScan("h", nil)
	require.NoError(t, err)
	require.NoError(t, svc.StartScan(id))
	waitWorker(t, svc, id)

	// The error is recorded but the scan is only failed by reconciliation.
	progress, err := svc.Registry().Progress(id)
	require.NoError(t, err)
	assert.Equal(t, 0, progress)

	failed, err := svc.CheckLiveness(id)
	require.NoError(t, err)
	assert.True(t, failed)

	results, err := svc.Registry().Results(id)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, scan.Result{Type: scan.ResultError, Name: ScanErrorName, Value: "nmap exited with status 1"}, results[0])
	assert.Equal(t, ThreadFailureName, results[1].Name)
}

func TestHandleTimeout(t *testing.T) {
	svc := newTestService(t, newFakeScanner())
	id, err := svc.CreateScan("h", nil)
	require.NoError(t, err)

	require.NoError(t, svc.HandleTimeout(id))
	require.NoError(t, svc.HandleTimeout(id), "second timeout is a no-op")

	results, err := svc.Registry().Results(id)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	err = svc.AddLog(id, "late", "result")
	assert.True(t, ospderrors.IsCode(err, ospderrors.CodeScanTerminal))
}

func TestControllerResults(t *testing.T) {
	m := newRecordingMetrics()
	svc := newTestService(t, newFakeScanner(), WithMetrics(m))
	id, err := svc.CreateScan("h", nil)
	require.NoError(t, err)

	require.NoError(t, svc.AddAlarm(id, "80/tcp", "http", "2.5"))
	require.NoError(t, svc.AddLog(id, "os", "linux"))
	require.NoError(t, svc.AddError(id, "connect", "refused"))

	results, err := svc.Registry().Results(id)
	require.NoError(t, err)
	assert.Equal(t, []scan.Result{
		{Type: scan.ResultAlert, Name: "80/tcp", Value: "http", Severity: "2.5"},
		{Type: scan.ResultLog, Name: "os", Value: "linux"},
		{Type: scan.ResultError, Name: "connect", Value: "refused"},
	}, results)

	_, byType, _ := m.snapshot()
	assert.Equal(t, map[string]int{"Alert": 1, "Log": 1, "Error": 1}, byType)

	assert.Error(t, svc.AddLog("missing", "a", "b"))
}

func TestControllerSetProgress(t *testing.T) {
	svc := newTestService(t, newFakeScanner())
	id, err := svc.CreateScan("h", nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetProgress(id, 30))
	require.NoError(t, svc.SetProgress(id, 10))
	progress, err := svc.Registry().Progress(id)
	require.NoError(t, err)
	assert.Equal(t, 30, progress)

	err = svc.SetProgress(id, 101)
	assert.True(t, ospderrors.IsCode(err, ospderrors.CodeValidation))

	require.NoError(t, svc.SetProgress(id, 100))
	end, err := svc.Registry().EndTime(id)
	require.NoError(t, err)
	assert.False(t, end.IsZero())

	err = svc.FinishScan(id)
	assert.True(t, ospderrors.IsCode(err, ospderrors.CodeScanTerminal))
}

func TestMaxConcurrentScans(t *testing.T) {
	sc := newFakeScanner()
	started := make(chan string, 3)
	sc.exec = func(ctx context.Context, id string, ctl scanner.Controller) error {
		started <- id
		select {
		case <-sc.release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return ctl.FinishScan(id)
	}
	svc := newTestService(t, sc, WithMaxConcurrentScans(1))

	first, err := svc.CreateScan("a", nil)
	require.NoError(t, err)
	second, err := svc.CreateScan("b", nil)
	require.NoError(t, err)
	require.NoError(t, svc.StartScan(first))
	require.NoError(t, svc.StartScan(second))

	assert.Equal(t, first, <-started)
	select {
	case id := <-started:
		t.Fatalf("scan %s started while the only slot was held", id)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, svc.Executing())

	failed, err := svc.CheckLiveness(second)
	require.NoError(t, err)
	assert.False(t, failed, "a queued scan is alive")

	sc.release <- struct{}{}
	assert.Equal(t, second, <-started)
	sc.release <- struct{}{}
	waitWorker(t, svc, second)

	for _, id := range []string{first, second} {
		progress, err := svc.Registry().Progress(id)
		require.NoError(t, err)
		assert.Equal(t, scan.ProgressFinished, progress)
	}
	assert.Equal(t, 0, svc.Executing())
}

func TestMaxConcurrentScans_ShutdownWhileQueued(t *testing.T) {
	sc := newFakeScanner()
	svc := newTestService(t, sc, WithMaxConcurrentScans(1))

	running, err := svc.CreateScan("a", nil)
	require.NoError(t, err)
	queued, err := svc.CreateScan("b", nil)
	require.NoError(t, err)
	require.NoError(t, svc.StartScan(running))
	require.NoError(t, svc.StartScan(queued))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	results, err := svc.Registry().Results(queued)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, ScanErrorName, results[0].Name)
}
