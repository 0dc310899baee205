package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics_InitializationAndUpdate(t *testing.T) {
	pm := NewPrometheusMetrics()
	if pm == nil {
		t.Fatalf("NewPrometheusMetrics returned nil")
	}
	if pm.GetRegistry() == nil {
		t.Fatalf("GetRegistry returned nil")
	}

	pm.UpdateSystemMetrics()
	if pm.GetLastUpdate().IsZero() {
		t.Fatalf("expected last update to be set")
	}

	before := pm.GetUptime()
	time.Sleep(10 * time.Millisecond)
	after := pm.GetUptime()
	if before >= after {
		t.Fatalf("expected uptime to increase, before=%v after=%v", before, after)
	}
}

func TestPrometheusMetrics_HTTPHandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.UpdateSystemMetrics()
	pm.IncrementCommands("get_version", 200)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	handler := promhttp.HandlerFor(pm.GetRegistry(), promhttp.HandlerOpts{})
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	body := rr.Body.String()
	for _, name := range []string{
		"ospd_system_uptime_seconds",
		`ospd_server_commands_total{command="get_version",status="200"} 1`,
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %q in metrics output", name)
		}
	}
}

func TestPrometheusMetrics_ServerMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementConnections(ConnAccepted)
	pm.IncrementConnections(ConnAccepted)
	pm.IncrementConnections(ConnHandshakeErr)

	if count := testutil.CollectAndCount(pm.connectionsTotal); count != 2 {
		t.Errorf("expected 2 connection results, got %d", count)
	}
	if got := testutil.ToFloat64(pm.connectionsTotal.WithLabelValues(ConnAccepted)); got != 2 {
		t.Errorf("expected 2 accepted connections, got %v", got)
	}

	pm.ConnectionOpened()
	pm.ConnectionOpened()
	pm.ConnectionClosed()
	if got := testutil.ToFloat64(pm.connectionsActive); got != 1 {
		t.Errorf("expected 1 active connection, got %v", got)
	}

	pm.IncrementCommands("get_scans", 200)
	pm.IncrementCommands("get_scans", 404)
	pm.IncrementCommands("osp", 400)
	if count := testutil.CollectAndCount(pm.commandsTotal); count != 3 {
		t.Errorf("expected 3 command/status combinations, got %d", count)
	}

	pm.RecordCommandDuration("get_scans", time.Millisecond)
	pm.RecordCommandDuration("help", 2*time.Millisecond)
	if count := testutil.CollectAndCount(pm.commandDuration); count != 2 {
		t.Errorf("expected 2 command histograms, got %d", count)
	}
}

func TestPrometheusMetrics_ScanMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementScans(OutcomeStarted)
	pm.IncrementScans(OutcomeStarted)
	pm.IncrementScans(OutcomeFailed)
	if count := testutil.CollectAndCount(pm.scansTotal); count != 2 {
		t.Errorf("expected 2 outcomes, got %d", count)
	}

	pm.RecordScanDuration(OutcomeFinished, 5*time.Second)
	pm.RecordScanDuration(OutcomeTimeout, time.Minute)
	if count := testutil.CollectAndCount(pm.scanDuration); count != 2 {
		t.Errorf("expected 2 scan duration histograms, got %d", count)
	}

	pm.IncrementResults("Alert")
	pm.IncrementResults("Log")
	pm.IncrementResults("Log")
	if got := testutil.ToFloat64(pm.resultsTotal.WithLabelValues("Log")); got != 2 {
		t.Errorf("expected 2 log results, got %v", got)
	}

	pm.SetActiveScans(5)
	pm.SetActiveScans(3)
	if got := testutil.ToFloat64(pm.activeScans); got != 3 {
		t.Errorf("expected 3 active scans, got %v", got)
	}
}

func TestPrometheusMetrics_PeriodicUpdates(t *testing.T) {
	pm := NewPrometheusMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pm.StartPeriodicUpdates(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic updates did not stop after cancel")
	}

	if got := testutil.ToFloat64(pm.goroutines); got <= 0 {
		t.Errorf("expected goroutine gauge to be set, got %v", got)
	}
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	r.IncrementConnections(ConnAccepted)
	r.ConnectionOpened()
	r.ConnectionClosed()
	r.IncrementCommands("help", 200)
	r.RecordCommandDuration("help", time.Millisecond)
	r.IncrementScans(OutcomeStarted)
	r.SetActiveScans(1)
	r.RecordScanDuration(OutcomeFinished, time.Second)
	r.IncrementResults("Log")
}
