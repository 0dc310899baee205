package daemon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ospd/internal/logging"
	"github.com/anstrom/ospd/internal/osp"
	"github.com/anstrom/ospd/internal/scan"
	"github.com/anstrom/ospd/internal/scanner"
)

var testStart = time.Unix(1700000000, 0)

// fakeScanner runs exec, or blocks until release is closed and then finishes
// the scan.
type fakeScanner struct {
	params   []scanner.Param
	exec     func(ctx context.Context, id string, ctl scanner.Controller) error
	checkErr error
	release  chan struct{}
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{
		params: []scanner.Param{
			{ID: "ports", Name: "Ports", Type: scanner.ParamString, Description: "Ports to scan", Default: "1-100"},
			{ID: "timing", Name: "Timing", Type: scanner.ParamInteger, Description: "Timing template", Default: "3"},
		},
		release: make(chan struct{}),
	}
}

func (f *fakeScanner) Name() string                  { return "fake" }
func (f *fakeScanner) Version() string               { return "1.0" }
func (f *fakeScanner) Description() string           { return "Fake scanner for tests" }
func (f *fakeScanner) Params() []scanner.Param       { return f.params }
func (f *fakeScanner) Check(_ context.Context) error { return f.checkErr }

func (f *fakeScanner) Exec(ctx context.Context, id string, ctl scanner.Controller) error {
	if f.exec != nil {
		return f.exec(ctx, id, ctl)
	}
	select {
	case <-f.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return ctl.FinishScan(id)
}

// processingScanner adds a ParamProcessor to fakeScanner.
type processingScanner struct {
	*fakeScanner
	process func(map[string]string) (map[string]string, error)
}

func (p *processingScanner) ProcessParams(params map[string]string) (map[string]string, error) {
	return p.process(params)
}

// validatingScanner adds a TargetValidator to fakeScanner.
type validatingScanner struct {
	*fakeScanner
	validate func(string) error
}

func (v *validatingScanner) ValidateTarget(target string) error {
	return v.validate(target)
}

// sequentialIDs returns scan-1, scan-2, ...
func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("scan-%d", n.Add(1))
	}
}

// fixedClock returns testStart, then advances one second per call.
func fixedClock() func() time.Time {
	var mu sync.Mutex
	now := testStart
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(time.Second)
		return t
	}
}

func newTestService(t *testing.T, sc scanner.Scanner, opts ...ServiceOption) *Service {
	t.Helper()
	registry := scan.NewRegistry(scan.WithIDGenerator(sequentialIDs()), scan.WithClock(fixedClock()))
	all := append([]ServiceOption{WithLogger(logging.Discard()), WithRegistry(registry)}, opts...)
	svc := NewService(sc, all...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

// waitWorker waits until the worker of id has returned.
func waitWorker(t *testing.T, svc *Service, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		w, err := svc.Registry().Worker(id)
		return err == nil && w != nil && !w.Alive()
	}, 5*time.Second, 5*time.Millisecond)
}

func TestNewService(t *testing.T) {
	t.Run("advertises scanner params under start_scan", func(t *testing.T) {
		svc := newTestService(t, newFakeScanner())

		cmd, ok := svc.Commands().Get(osp.CmdStartScan)
		require.True(t, ok)
		require.Len(t, cmd.Elements, 1)
		assert.Equal(t, "scanner_params", cmd.Elements[0].Name)
		assert.Equal(t, []osp.ElementSpec{
			{Name: "ports", Description: "Ports"},
			{Name: "timing", Description: "Timing"},
		}, cmd.Elements[0].Children)
	})

	t.Run("no params leaves start_scan without elements", func(t *testing.T) {
		sc := newFakeScanner()
		sc.params = nil
		svc := newTestService(t, sc)

		cmd, ok := svc.Commands().Get(osp.CmdStartScan)
		require.True(t, ok)
		assert.Empty(t, cmd.Elements)
	})

	t.Run("accessors", func(t *testing.T) {
		sc := newFakeScanner()
		svc := newTestService(t, sc)
		assert.Same(t, sc, svc.Scanner())
		assert.NotNil(t, svc.Registry())
		assert.True(t, svc.Commands().Exists(osp.CmdGetVersion))
	})
}

func TestServiceShutdown(t *testing.T) {
	t.Run("cancels running scans", func(t *testing.T) {
		svc := newTestService(t, newFakeScanner())
		id, err := svc.CreateScan("localhost", nil)
		require.NoError(t, err)
		require.NoError(t, svc.StartScan(id))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, svc.Shutdown(ctx))

		w, err := svc.Registry().Worker(id)
		require.NoError(t, err)
		assert.False(t, w.Alive())
	})

	t.Run("gives up when the context expires", func(t *testing.T) {
		sc := newFakeScanner()
		stuck := make(chan struct{})
		sc.exec = func(context.Context, string, scanner.Controller) error {
			<-stuck
			return nil
		}
		svc := newTestService(t, sc)
		t.Cleanup(func() { close(stuck) })

		id, err := svc.CreateScan("localhost", nil)
		require.NoError(t, err)
		require.NoError(t, svc.StartScan(id))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, svc.Shutdown(ctx), context.DeadlineExceeded)
	})
}
