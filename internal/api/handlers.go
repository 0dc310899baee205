package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/ospd/internal/scan"
)

// HealthResponse is returned by /api/v1/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// ScanResponse is the status view of one scan. Targets and result values
// are only available over OSP. Timestamps are Unix seconds, zero while
// unset, as on the OSP wire.
type ScanResponse struct {
	ID          string `json:"id"`
	Progress    int    `json:"progress"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
	ResultCount int    `json:"result_count"`
}

// ScanListResponse is returned by /api/v1/scans.
type ScanListResponse struct {
	Scans  []ScanResponse `json:"scans"`
	Total  int            `json:"total"`
	Active int            `json:"active"`
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func toScanResponse(snap scan.Snapshot) ScanResponse {
	return ScanResponse{
		ID:          snap.ID,
		Progress:    snap.Progress,
		StartTime:   unixSeconds(snap.StartTime),
		EndTime:     unixSeconds(snap.EndTime),
		ResultCount: len(snap.Results),
	}
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

// scannerCheck returns the outcome of the scanner availability check,
// running it at most once per healthCacheTTL.
func (s *Server) scannerCheck(ctx context.Context) error {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	if !s.checkedAt.IsZero() && time.Since(s.checkedAt) < healthCacheTTL {
		return s.checkErr
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	s.checkErr = s.source.Scanner().Check(ctx)
	s.checkedAt = time.Now()
	return s.checkErr
}

// healthHandler reports unhealthy while the wrapped scanner fails its
// availability check.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string),
	}

	if err := s.scannerCheck(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Checks["scanner"] = "failed: " + err.Error()
	} else {
		resp.Checks["scanner"] = "ok"
	}

	statusCode := http.StatusOK
	if resp.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	s.WriteJSON(w, r, statusCode, resp)
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	sc := s.source.Scanner()
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"scanner": map[string]string{
			"name":    sc.Name(),
			"version": sc.Version(),
		},
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) listScansHandler(w http.ResponseWriter, r *http.Request) {
	snaps := s.source.ScanSummaries()

	resp := ScanListResponse{Scans: make([]ScanResponse, 0, len(snaps))}
	for _, snap := range snaps {
		resp.Scans = append(resp.Scans, toScanResponse(snap))
		if !snap.Terminal() {
			resp.Active++
		}
	}
	resp.Total = len(resp.Scans)

	s.WriteJSON(w, r, http.StatusOK, resp)
}

func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, snap := range s.source.ScanSummaries() {
		if snap.ID == id {
			s.WriteJSON(w, r, http.StatusOK, toScanResponse(snap))
			return
		}
	}
	s.writeError(w, r, http.StatusNotFound, fmt.Errorf("scan %q not found", id))
}
