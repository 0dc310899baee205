package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/ospd/internal/config"
	"github.com/anstrom/ospd/internal/metrics"
	"github.com/anstrom/ospd/internal/scan"
	"github.com/anstrom/ospd/internal/scanner"
	"github.com/anstrom/ospd/internal/scanner/mocks"
)

type fakeSource struct {
	scans   []scan.Snapshot
	scanner scanner.Scanner
}

func (f *fakeSource) ScanSummaries() []scan.Snapshot { return f.scans }
func (f *fakeSource) Scanner() scanner.Scanner        { return f.scanner }

func testSnapshots() []scan.Snapshot {
	start := time.Unix(1700000000, 0)
	return []scan.Snapshot{
		{
			ID:        "scan-1",
			Target:    "10.0.0.1",
			Progress:  100,
			StartTime: start,
			EndTime:   start.Add(time.Minute),
			Results: []scan.Result{
				{Type: scan.ResultAlert, Name: "22/tcp", Value: "ssh open", Severity: "5.0"},
				{Type: scan.ResultLog, Name: "host", Value: "up"},
			},
		},
		{
			ID:        "scan-2",
			Target:    "10.0.0.2",
			Progress:  40,
			StartTime: start,
		},
	}
}

func newTestServer(t *testing.T, source *fakeSource, pm *metrics.PrometheusMetrics) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Metrics.Enabled = true

	server, err := New(cfg, source, pm)
	require.NoError(t, err)
	return server
}

func serve(server *Server, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	server.GetRouter().ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestNew(t *testing.T) {
	t.Run("requires a status source", func(t *testing.T) {
		_, err := New(config.Default(), nil, nil)
		assert.Error(t, err)
	})

	t.Run("listens on the metrics address", func(t *testing.T) {
		server := newTestServer(t, &fakeSource{}, nil)
		assert.Equal(t, "127.0.0.1:9390", server.GetAddress())
	})
}

func TestLivenessHandler(t *testing.T) {
	server := newTestServer(t, &fakeSource{}, nil)

	rr := serve(server, http.MethodGet, "/api/v1/liveness")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
	assert.Contains(t, body, "uptime")
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checkErr   error
		wantCode   int
		wantStatus string
		wantCheck  string
	}{
		{
			name:       "scanner available",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantCheck:  "ok",
		},
		{
			name:       "scanner missing",
			checkErr:   errors.New("nmap not found"),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantCheck:  "failed: nmap not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			sc := mocks.NewMockScanner(ctrl)
			sc.EXPECT().Check(gomock.Any()).Return(tt.checkErr)

			server := newTestServer(t, &fakeSource{scanner: sc}, nil)
			rr := serve(server, http.MethodGet, "/api/v1/health")
			require.Equal(t, tt.wantCode, rr.Code)

			var body HealthResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.wantCheck, body.Checks["scanner"])
		})
	}
}

func TestHealthHandlerCachesCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	sc := mocks.NewMockScanner(ctrl)
	sc.EXPECT().Check(gomock.Any()).Return(errors.New("nmap not found")).Times(1)

	server := newTestServer(t, &fakeSource{scanner: sc}, nil)
	for i := 0; i < 3; i++ {
		rr := serve(server, http.MethodGet, "/api/v1/health")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	}

	sc.EXPECT().Check(gomock.Any()).Return(nil).Times(1)
	server.checkedAt = time.Now().Add(-healthCacheTTL)
	rr := serve(server, http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestVersionHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	sc := mocks.NewMockScanner(ctrl)
	sc.EXPECT().Name().Return("nmap")
	sc.EXPECT().Version().Return("7.94")

	server := newTestServer(t, &fakeSource{scanner: sc}, nil)
	rr := serve(server, http.MethodGet, "/api/v1/version")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Scanner map[string]string `json:"scanner"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "nmap", body.Scanner["name"])
	assert.Equal(t, "7.94", body.Scanner["version"])
}

func TestListScansHandler(t *testing.T) {
	server := newTestServer(t, &fakeSource{scans: testSnapshots()}, nil)

	t.Run("summary", func(t *testing.T) {
		rr := serve(server, http.MethodGet, "/api/v1/scans")
		require.Equal(t, http.StatusOK, rr.Code)

		var body ScanListResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Total)
		assert.Equal(t, 1, body.Active)
		require.Len(t, body.Scans, 2)

		first := body.Scans[0]
		assert.Equal(t, "scan-1", first.ID)
		assert.Equal(t, int64(1700000000), first.StartTime)
		assert.Equal(t, int64(1700000060), first.EndTime)
		assert.Equal(t, 2, first.ResultCount)

		assert.Equal(t, int64(0), body.Scans[1].EndTime)
	})

	t.Run("targets and results are not exposed", func(t *testing.T) {
		for _, path := range []string{"/api/v1/scans", "/api/v1/scans?details=true", "/api/v1/scans/scan-1"} {
			rr := serve(server, http.MethodGet, path)
			require.Equal(t, http.StatusOK, rr.Code, path)
			for _, secret := range []string{"10.0.0.1", "10.0.0.2", "ssh open", "22/tcp"} {
				assert.NotContains(t, rr.Body.String(), secret, path)
			}
		}
	})

	t.Run("empty registry", func(t *testing.T) {
		empty := newTestServer(t, &fakeSource{}, nil)
		rr := serve(empty, http.MethodGet, "/api/v1/scans")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"scans":[]`)
	})
}

func TestGetScanHandler(t *testing.T) {
	server := newTestServer(t, &fakeSource{scans: testSnapshots()}, nil)

	rr := serve(server, http.MethodGet, "/api/v1/scans/scan-2")
	require.Equal(t, http.StatusOK, rr.Code)
	var body ScanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "scan-2", body.ID)
	assert.Equal(t, 40, body.Progress)

	rr = serve(server, http.MethodGet, "/api/v1/scans/missing")
	require.Equal(t, http.StatusNotFound, rr.Code)
	var errBody ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errBody))
	assert.Equal(t, `scan "missing" not found`, errBody.Error)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("served with a registry", func(t *testing.T) {
		pm := metrics.NewPrometheusMetrics()
		pm.IncrementScans(metrics.OutcomeStarted)

		server := newTestServer(t, &fakeSource{}, pm)
		rr := serve(server, http.MethodGet, "/metrics")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, strings.Contains(rr.Body.String(), `ospd_scan_total{outcome="started"} 1`))
	})

	t.Run("absent without one", func(t *testing.T) {
		server := newTestServer(t, &fakeSource{}, nil)
		rr := serve(server, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, &fakeSource{scans: testSnapshots()}, nil)

	for _, tt := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/scans"},
		{http.MethodDelete, "/api/v1/scans/scan-1"},
		{http.MethodPut, "/api/v1/health"},
	} {
		rr := serve(server, tt.method, tt.path)
		require.Equal(t, http.StatusMethodNotAllowed, rr.Code, "%s %s", tt.method, tt.path)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "method not allowed", body.Error)
	}

	rr := serve(server, http.MethodGet, "/api/v1/unknown")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	server := newTestServer(t, &fakeSource{}, nil)
	server.GetRouter().HandleFunc("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rr := serve(server, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
