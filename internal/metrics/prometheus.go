// Package metrics provides Prometheus-based metrics collection for ospd.
// Collectors live in a private registry that the status server exposes.
package metrics

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all ospd metrics
	namespace = "ospd"

	// Subsystems
	subsystemServer = "server"
	subsystemScan   = "scan"
	subsystemSystem = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Connection and command metrics
	connectionsTotal  *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	commandsTotal     *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec

	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	resultsTotal *prometheus.CounterVec
	activeScans  prometheus.Gauge

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initServerMetrics()
	pm.initScanMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initServerMetrics initializes connection and command metrics
func (pm *PrometheusMetrics) initServerMetrics() {
	pm.connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "connections_total",
			Help:      "Total number of client connections by result",
		},
		[]string{"result"},
	)

	pm.connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "connections_active",
			Help:      "Number of client connections currently being served",
		},
	)

	pm.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "commands_total",
			Help:      "Total number of OSP commands by command and response status",
		},
		[]string{"command", "status"},
	)

	pm.commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "command_duration_seconds",
			Help:      "Duration of OSP command handling in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"command"},
	)
}

// initScanMetrics initializes scan-related metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scan lifecycle transitions by outcome",
		},
		[]string{"outcome"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scans in seconds",
			Buckets:   []float64{1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0, 1800.0, 3600.0},
		},
		[]string{"outcome"},
	)

	pm.resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "results_total",
			Help:      "Total number of scan results by type",
		},
		[]string{"type"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of scans that have not finished",
		},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Daemon uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.connectionsTotal,
		pm.connectionsActive,
		pm.commandsTotal,
		pm.commandDuration,
		pm.scansTotal,
		pm.scanDuration,
		pm.resultsTotal,
		pm.activeScans,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// IncrementConnections increments the connection counter
func (pm *PrometheusMetrics) IncrementConnections(result string) {
	pm.connectionsTotal.WithLabelValues(result).Inc()
}

// ConnectionOpened increments the in-flight connection gauge
func (pm *PrometheusMetrics) ConnectionOpened() {
	pm.connectionsActive.Inc()
}

// ConnectionClosed decrements the in-flight connection gauge
func (pm *PrometheusMetrics) ConnectionClosed() {
	pm.connectionsActive.Dec()
}

// IncrementCommands increments the command counter
func (pm *PrometheusMetrics) IncrementCommands(command string, status int) {
	pm.commandsTotal.WithLabelValues(command, strconv.Itoa(status)).Inc()
}

// RecordCommandDuration records a command handling duration
func (pm *PrometheusMetrics) RecordCommandDuration(command string, duration time.Duration) {
	pm.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// IncrementScans increments the scan counter
func (pm *PrometheusMetrics) IncrementScans(outcome string) {
	pm.scansTotal.WithLabelValues(outcome).Inc()
}

// SetActiveScans sets the number of active scans
func (pm *PrometheusMetrics) SetActiveScans(count int) {
	pm.activeScans.Set(float64(count))
}

// RecordScanDuration records a scan duration
func (pm *PrometheusMetrics) RecordScanDuration(outcome string, duration time.Duration) {
	pm.scanDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncrementResults increments the result counter
func (pm *PrometheusMetrics) IncrementResults(resultType string) {
	pm.resultsTotal.WithLabelValues(resultType).Inc()
}

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the daemon uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}
