// Package metrics provides Prometheus metrics for shader-preview.
//
// Event counters (submits, frames, renderer starts and exits) are recorded
// directly as they happen. Cumulative counts owned by other components
// (overlay engine, diagnostics handler) are fed periodically through
// RecordStats and converted to counter deltas.
package metrics

import (
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shader_preview"

// Collector manages all Prometheus metrics for a preview session.
type Collector struct {
	info         *prometheus.GaugeVec
	rendererUp   prometheus.Gauge
	sessionStart prometheus.Gauge

	submitsTotal    prometheus.Counter
	commandsTotal   *prometheus.CounterVec
	framesTotal     prometheus.Counter
	malformedTotal  prometheus.Counter
	renderLatency   prometheus.Histogram
	latencyP50      prometheus.Gauge
	latencyP95      prometheus.Gauge
	latencyP99      prometheus.Gauge
	frameRate1s     prometheus.Gauge
	frameRate10s    prometheus.Gauge
	frameRate60s    prometheus.Gauge
	lastFrameIndex  prometheus.Gauge
	importsTotal    prometheus.Counter
	importsSkipped  prometheus.Counter
	startsTotal     prometheus.Counter
	restartsTotal   prometheus.Counter
	exitsTotal      *prometheus.CounterVec
	uptimeSeconds   prometheus.Histogram
	repeatedFailure prometheus.Counter
	throttledTotal  prometheus.Counter

	overlaysApplied  prometheus.Counter
	overlaysDisposed prometheus.Counter
	overlaysPending  prometheus.Gauge
	diagnosticsTotal prometheus.Counter
	diagnosticErrors prometheus.Counter
	linesDropped     prometheus.Counter

	startTime time.Time

	// Internal tracking for delta calculations
	mu                   sync.Mutex
	prevOverlaysApplied  int64
	prevOverlaysDisposed int64
	prevDiagnostics      int64
	prevDiagnosticErrors int64
	prevLinesDropped     int64

	// For summary generation
	totalStarts   int64
	totalRestarts int64
	exitCodes     map[int]int
	uptimes       []time.Duration
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Renderer string
	Mode     string
	Size     string
}

// NewCollector creates a new metrics collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the preview session (value always 1)",
		}, []string{"renderer", "mode", "size"}),
		rendererUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "renderer_up",
			Help:      "1 while a renderer process is running",
		}),
		sessionStart: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_start_time_seconds",
			Help:      "Unix time the session started",
		}),

		// Renders
		submitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_submitted_total",
			Help:      "Total render requests submitted to the renderer",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total commands delivered, by type",
		}, []string{"type"}),
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total frame indices received from the renderer",
		}),
		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_lines_total",
			Help:      "Renderer stdout lines that were not frame indices",
		}),
		renderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_latency_seconds",
			Help:      "Time from the latest submit to the next frame",
			Buckets: []float64{
				0.01, 0.025, 0.05, 0.075,
				0.1, 0.25, 0.5, 0.75,
				1.0, 2.5, 5.0, 10.0,
			},
		}),
		latencyP50: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_latency_p50_seconds",
			Help:      "Render latency 50th percentile (median)",
		}),
		latencyP95: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_latency_p95_seconds",
			Help:      "Render latency 95th percentile",
		}),
		latencyP99: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_latency_p99_seconds",
			Help:      "Render latency 99th percentile",
		}),
		frameRate1s: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_rate_1s",
			Help:      "Frames per second averaged over the last second",
		}),
		frameRate10s: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_rate_10s",
			Help:      "Frames per second averaged over the last 10 seconds",
		}),
		frameRate60s: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_rate_60s",
			Help:      "Frames per second averaged over the last minute",
		}),
		lastFrameIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_frame_index",
			Help:      "Index of the most recent frame (-1 before the first)",
		}),

		// Directives
		importsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directive_imports_total",
			Help:      "Asset imports resolved from shader headers",
		}),
		importsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directive_imports_dropped_total",
			Help:      "Asset imports the transport could not deliver",
		}),

		// Renderer lifecycle
		startsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renderer_starts_total",
			Help:      "Total renderer process starts",
		}),
		restartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renderer_restarts_total",
			Help:      "Total renderer starts after the first",
		}),
		exitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renderer_exits_total",
			Help:      "Renderer exits by category",
		}, []string{"category"}),
		uptimeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "renderer_uptime_seconds",
			Help:      "Renderer process uptime at exit",
			Buckets:   []float64{0.1, 1, 5, 30, 60, 300, 900, 3600},
		}),
		repeatedFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renderer_repeated_failures_total",
			Help:      "Times the renderer crashed repeatedly in a row",
		}),
		throttledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renderer_throttled_total",
			Help:      "Renders refused while respawn was backing off",
		}),

		// Overlays and diagnostics
		overlaysApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlays_applied_total",
			Help:      "Overlays applied to the editor",
		}),
		overlaysDisposed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlays_disposed_total",
			Help:      "Overlays disposed",
		}),
		overlaysPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overlays_pending_disposal",
			Help:      "Superseded overlays waiting for their grace delay",
		}),
		diagnosticsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renderer_diagnostic_lines_total",
			Help:      "Renderer stderr lines",
		}),
		diagnosticErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renderer_diagnostic_errors_total",
			Help:      "Renderer stderr lines classified as errors",
		}),
		linesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_lines_dropped_total",
			Help:      "Renderer output lines dropped because parsing fell behind",
		}),

		startTime: time.Now(),
		exitCodes: make(map[int]int),
	}

	registry.MustRegister(
		c.info, c.rendererUp, c.sessionStart,
		c.submitsTotal, c.commandsTotal, c.framesTotal, c.malformedTotal,
		c.renderLatency, c.latencyP50, c.latencyP95, c.latencyP99,
		c.frameRate1s, c.frameRate10s, c.frameRate60s, c.lastFrameIndex,
		c.importsTotal, c.importsSkipped,
		c.startsTotal, c.restartsTotal, c.exitsTotal, c.uptimeSeconds,
		c.repeatedFailure, c.throttledTotal,
		c.overlaysApplied, c.overlaysDisposed, c.overlaysPending,
		c.diagnosticsTotal, c.diagnosticErrors, c.linesDropped,
	)

	// Set initial values
	c.info.WithLabelValues(cfg.Renderer, cfg.Mode, cfg.Size).Set(1)
	c.sessionStart.Set(float64(c.startTime.Unix()))
	c.lastFrameIndex.Set(-1)

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// RecordSubmit records one render request and the commands it carried.
func (c *Collector) RecordSubmit(commandTypes []string) {
	c.submitsTotal.Inc()
	for _, t := range commandTypes {
		c.commandsTotal.WithLabelValues(t).Inc()
	}
}

// RecordImports records resolved header imports.
func (c *Collector) RecordImports(n int) {
	if n > 0 {
		c.importsTotal.Add(float64(n))
	}
}

// RecordImportsDropped records imports an argument-mode renderer ignored.
func (c *Collector) RecordImportsDropped(n int) {
	if n > 0 {
		c.importsSkipped.Add(float64(n))
	}
}

// RecordFrame records a frame. latency is observed only when timed is true.
func (c *Collector) RecordFrame(index int, latency time.Duration, timed bool) {
	c.framesTotal.Inc()
	c.lastFrameIndex.Set(float64(index))
	if timed {
		c.renderLatency.Observe(latency.Seconds())
	}
}

// RecordMalformed records a renderer stdout line that was not a frame.
func (c *Collector) RecordMalformed() {
	c.malformedTotal.Inc()
}

// RendererStarted records a renderer start. Every start after the first
// also counts as a restart.
func (c *Collector) RendererStarted() {
	c.startsTotal.Inc()
	c.rendererUp.Set(1)

	c.mu.Lock()
	c.totalStarts++
	restart := c.totalStarts > 1
	if restart {
		c.totalRestarts++
	}
	c.mu.Unlock()

	if restart {
		c.restartsTotal.Inc()
	}
}

// RecordExit records a renderer exit.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration, crashed bool) {
	c.exitsTotal.WithLabelValues(exitCategory(exitCode, crashed)).Inc()
	c.uptimeSeconds.Observe(uptime.Seconds())
	c.rendererUp.Set(0)

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.uptimes = append(c.uptimes, uptime)
	c.mu.Unlock()
}

// RecordRepeatedFailure records a repeated-crash notice.
func (c *Collector) RecordRepeatedFailure() {
	c.repeatedFailure.Inc()
}

// RecordThrottled records a render refused by respawn backoff.
func (c *Collector) RecordThrottled() {
	c.throttledTotal.Inc()
}

func exitCategory(exitCode int, crashed bool) string {
	switch {
	case !crashed:
		return "requested"
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Periodic Updates
// =============================================================================

// StatsUpdate holds cumulative values owned by other components.
// Defined here to avoid importing them.
type StatsUpdate struct {
	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration

	FrameRate1s  float64
	FrameRate10s float64
	FrameRate60s float64

	// Cumulative counts (converted to counter deltas)
	OverlaysApplied  int64
	OverlaysDisposed int64
	DiagnosticLines  int64
	DiagnosticErrors int64
	LinesDropped     int64

	OverlaysPending int
}

// RecordStats updates gauges and converts cumulative counts to deltas.
// Counts that go backwards (component reset) are re-baselined.
func (c *Collector) RecordStats(s *StatsUpdate) {
	if s == nil {
		return
	}

	c.latencyP50.Set(s.LatencyP50.Seconds())
	c.latencyP95.Set(s.LatencyP95.Seconds())
	c.latencyP99.Set(s.LatencyP99.Seconds())
	c.frameRate1s.Set(s.FrameRate1s)
	c.frameRate10s.Set(s.FrameRate10s)
	c.frameRate60s.Set(s.FrameRate60s)
	c.overlaysPending.Set(float64(s.OverlaysPending))

	c.mu.Lock()
	defer c.mu.Unlock()

	addDelta(c.overlaysApplied, s.OverlaysApplied, &c.prevOverlaysApplied)
	addDelta(c.overlaysDisposed, s.OverlaysDisposed, &c.prevOverlaysDisposed)
	addDelta(c.diagnosticsTotal, s.DiagnosticLines, &c.prevDiagnostics)
	addDelta(c.diagnosticErrors, s.DiagnosticErrors, &c.prevDiagnosticErrors)
	addDelta(c.linesDropped, s.LinesDropped, &c.prevLinesDropped)
}

func addDelta(counter prometheus.Counter, current int64, prev *int64) {
	if delta := current - *prev; delta > 0 {
		counter.Add(float64(delta))
	}
	*prev = current
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration      time.Duration
	TotalStarts   int64
	TotalRestarts int64
	ExitCodes     map[int]int
	UptimeP50     time.Duration
	UptimeP95     time.Duration
	UptimeP99     time.Duration
}

// GenerateSummary creates a summary of the session.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:      time.Since(c.startTime),
		TotalStarts:   c.totalStarts,
		TotalRestarts: c.totalRestarts,
		ExitCodes:     make(map[int]int, len(c.exitCodes)),
	}
	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}

	if len(c.uptimes) > 0 {
		sorted := slices.Clone(c.uptimes)
		slices.Sort(sorted)

		s.UptimeP50 = percentile(sorted, 0.50)
		s.UptimeP95 = percentile(sorted, 0.95)
		s.UptimeP99 = percentile(sorted, 0.99)
	}
	return s
}

// TotalStarts returns the total number of renderer starts.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStarts
}

// TotalRestarts returns the total number of restarts.
func (c *Collector) TotalRestarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalRestarts
}

// percentile returns the value at the given percentile (0.0-1.0).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
