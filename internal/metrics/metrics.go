package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Run lifecycle
	RunsStarted   atomic.Uint64
	RunsCompleted atomic.Uint64
	RunsFailed    atomic.Uint64
	RunsCancelled atomic.Uint64
	ActiveRuns    atomic.Int64

	// Frame processing counters
	FramesProcessed      atomic.Uint64
	FramesWithDetections atomic.Uint64
	FramesRecorded       atomic.Uint64

	// Capture results
	Captures      atomic.Uint64
	EmptyPassages atomic.Uint64 // passages that ended before anything was latched

	// Error counters
	SourceErrors    atomic.Uint64
	DetectionErrors atomic.Uint64
	SinkErrors      atomic.Uint64

	// Latency tracking
	DetectLatencyMs atomic.Uint64 // last detector call
	RunDurationMs   atomic.Uint64 // last finished run

	// Job queue
	QueuedJobs atomic.Int64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

type gauge struct {
	name, help string
	value      func() float64
}

func u64(v *atomic.Uint64) func() float64 { return func() float64 { return float64(v.Load()) } }
func i64(v *atomic.Int64) func() float64  { return func() float64 { return float64(v.Load()) } }

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []gauge{
		{"wagon_runs_started_total", "Capture runs started", u64(&m.RunsStarted)},
		{"wagon_runs_completed_total", "Capture runs finished successfully", u64(&m.RunsCompleted)},
		{"wagon_runs_failed_total", "Capture runs aborted by an error", u64(&m.RunsFailed)},
		{"wagon_runs_cancelled_total", "Capture runs cancelled", u64(&m.RunsCancelled)},
		{"wagon_runs_active", "Capture runs in progress", i64(&m.ActiveRuns)},

		{"wagon_frames_processed_total", "Frames pulled through detection", u64(&m.FramesProcessed)},
		{"wagon_frames_with_detections_total", "Frames with at least one target detection", u64(&m.FramesWithDetections)},
		{"wagon_frames_recorded_total", "Frames written to passthrough video", u64(&m.FramesRecorded)},

		{"wagon_captures_total", "Wagon frames captured", u64(&m.Captures)},
		{"wagon_empty_passages_total", "Passages that ended without a capture", u64(&m.EmptyPassages)},

		{"wagon_source_errors_total", "Frame source open or read failures", u64(&m.SourceErrors)},
		{"wagon_detection_errors_total", "Detector failures", u64(&m.DetectionErrors)},
		{"wagon_sink_errors_total", "Passthrough video failures", u64(&m.SinkErrors)},

		{"wagon_detect_latency_ms", "Latency of the last detector call in milliseconds", u64(&m.DetectLatencyMs)},
		{"wagon_run_duration_ms", "Duration of the last finished run in milliseconds", u64(&m.RunDurationMs)},

		{"wagon_jobs_queued", "Jobs waiting for a worker", i64(&m.QueuedJobs)},
	}
	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.value,
		))
	}
}

// UpdateDetectLatency records the duration of a detector call
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateRunDuration records the duration of a finished run
func (m *Metrics) UpdateRunDuration(d time.Duration) {
	m.RunDurationMs.Store(uint64(d.Milliseconds()))
}

// Registry exposes the private registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until the listener fails
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
