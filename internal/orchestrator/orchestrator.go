package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-shader-preview/internal/canvas"
	"github.com/randomizedcoder/go-shader-preview/internal/config"
	"github.com/randomizedcoder/go-shader-preview/internal/directive"
	"github.com/randomizedcoder/go-shader-preview/internal/editor"
	"github.com/randomizedcoder/go-shader-preview/internal/logging"
	"github.com/randomizedcoder/go-shader-preview/internal/metrics"
	"github.com/randomizedcoder/go-shader-preview/internal/overlay"
	"github.com/randomizedcoder/go-shader-preview/internal/preflight"
	"github.com/randomizedcoder/go-shader-preview/internal/process"
	"github.com/randomizedcoder/go-shader-preview/internal/protocol"
	"github.com/randomizedcoder/go-shader-preview/internal/stats"
	"github.com/randomizedcoder/go-shader-preview/internal/supervisor"
	"github.com/randomizedcoder/go-shader-preview/internal/tui"
	"github.com/randomizedcoder/go-shader-preview/internal/workspace"
)

const (
	sampleInterval  = time.Second
	shutdownTimeout = 10 * time.Second
	recentLines     = 20
)

// Orchestrator coordinates all components of a preview session: the renderer
// supervisor, the overlay engine and canvas, the document watcher, the status
// server and the dashboard.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	out    io.Writer

	binary      string
	mode        process.Mode
	diagnostics *logging.DiagnosticHandler
	supervisor  *supervisor.Supervisor
	canvas      *canvas.Canvas
	overlays    *overlay.Engine
	workspace   *workspace.Workspace
	document    *editor.FileDocument
	session     *Session

	stats         *stats.RenderStats
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server

	noticeMu sync.Mutex
	notice   string

	startTime time.Time
}

// New builds a session for cfg.Document. A missing renderer is not an error:
// the session runs disabled and play only raises a notice.
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	doc, err := editor.NewFileDocument(cfg.Document, editor.DefaultViewportLines)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		out:       os.Stdout,
		document:  doc,
		stats:     stats.NewRenderStats(),
		registry:  prometheus.NewRegistry(),
		workspace: workspace.New(cfg.TempRoot, cfg.Namespace),
		canvas:    canvas.New(),
	}

	o.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	renderer := o.resolveRenderer()

	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Renderer: o.binary,
		Mode:     string(o.mode),
		Size:     cfg.Size,
	}, o.registry)

	o.diagnostics = logging.NewDiagnosticHandler(logger, cfg.Verbose)

	// Leave the interface nil when there is no renderer; a typed nil
	// pointer would make the supervisor think it is enabled.
	var builder supervisor.ProcessBuilder
	if renderer != nil {
		builder = renderer
	}

	o.supervisor = supervisor.New(supervisor.Config{
		Builder: builder,
		Mode:    o.mode,
		Backoff: supervisor.NewBackoff(time.Now().UnixNano(), supervisor.BackoffConfig{
			Initial:    cfg.BackoffInitial,
			Max:        cfg.BackoffMax,
			Multiplier: cfg.BackoffMultiply,
			JitterPct:  0.4,
		}),
		Logger: logger,
		Callbacks: supervisor.Callbacks{
			OnStart:           o.onStart,
			OnExit:            o.onExit,
			OnRepeatedFailure: o.onRepeatedFailure,
			OnMalformed:       o.onMalformed,
		},
		StderrParser:           o.diagnostics,
		MaxConsecutiveFailures: cfg.MaxFailures,
		StopGrace:              cfg.StopGrace,
		KillTimeout:            cfg.KillTimeout,
		BufferSize:             cfg.OutputBuffer,
		DropThreshold:          cfg.DropThreshold,
	})

	o.overlays = overlay.NewEngine(overlay.EngineConfig{
		Host:       o.canvas,
		GraceDelay: cfg.GraceDelay,
		Logger:     logger,
	})

	o.session = NewSession(SessionConfig{
		Worker:    o.supervisor,
		Overlays:  o.overlays,
		Workspace: o.workspace,
		Resolver:  directive.NewResolver(logger),
		Logger:    logger,
		Stats:     o.stats,
		Metrics:   o.metrics,
		Debounce:  cfg.Debounce,
		Notify:    o.setNotice,
		OnFrame:   o.onFrame,
	})

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(metrics.ServerConfig{
			Addr:     cfg.MetricsAddr,
			Gatherer: o.registry,
			Status:   func() any { return o.Status() },
			Frame:    o.FramePath,
			Logger:   logger,
		})
	}

	return o, nil
}

// resolveRenderer finds the binary and settles the transport mode. It
// returns nil when the preview has to run disabled.
func (o *Orchestrator) resolveRenderer() *process.Renderer {
	cfg := o.config
	requested, _ := process.ParseMode(cfg.Mode)

	binary, err := process.ResolveBinary(cfg.RendererPath, cfg.BinDir)
	if err != nil {
		o.logger.Warn("renderer_unavailable", "error", err)
		return nil
	}
	if !process.Available(binary) {
		o.logger.Warn("renderer_unavailable", "binary", binary, "error", "not found")
		return nil
	}
	o.binary = binary

	mode, err := process.ResolveMode(context.Background(), binary, requested)
	if err != nil {
		o.logger.Warn("mode_probe_failed", "binary", binary, "error", err, "fallback", process.ModeStream)
		mode = process.ModeStream
	}
	o.mode = mode
	o.logger.Info("renderer_resolved", "binary", binary, "mode", mode)

	return process.NewRenderer(&process.RendererConfig{
		BinaryPath: binary,
		Size:       cfg.Size,
		Hide:       cfg.Hide,
		ExtraArgs:  cfg.ExtraArgs,
	})
}

// Run executes the preview session. It blocks until a quit signal, the
// dashboard exits or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	if !o.config.SkipPreflight {
		mode, _ := process.ParseMode(o.config.Mode)
		result := preflight.RunAll(ctx, preflight.Options{
			RendererPath: o.config.RendererPath,
			BinDir:       o.config.BinDir,
			WorkspaceDir: o.workspace.Dir(),
			Mode:         mode,
		})
		preflight.FprintResults(o.out, result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- o.session.Run(ctx)
	}()

	go o.sample(ctx)

	var watcher *editor.Watcher
	if o.config.Watch {
		w, err := editor.NewWatcher(o.document.Path(), o.logger)
		if err != nil {
			o.logger.Warn("document_watch_failed", "error", err)
		} else {
			watcher = w
			go o.watch(ctx, w)
		}
	}

	if err := o.session.EditorActivated(ctx, o.document); err != nil {
		o.logger.Warn("editor_activate_failed", "error", err)
	}
	if o.config.AutoPlay {
		if err := o.session.Play(ctx); err != nil {
			o.logger.Warn("play_failed", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var program *tea.Program
	tuiDone := make(chan error, 1)
	if o.config.TUIEnabled {
		program = tea.NewProgram(o.dashboard(), tea.WithAltScreen())
		go func() {
			_, err := program.Run()
			tuiDone <- err
		}()
	}

	o.wait(ctx, sigCh, tuiDone, sessionDone)

	if program != nil {
		tui.SendQuit(program)
		select {
		case <-tuiDone:
		case <-time.After(time.Second):
			program.Kill()
		}
	}

	cancel()
	<-o.session.Done()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			o.logger.Debug("document_watch_close_error", "error", err)
		}
	}

	if o.metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("status_server_shutdown_error", "error", err)
		}
	}

	o.printExitSummary()
	return nil
}

// wait blocks until something ends the session. SIGHUP plays the preview.
func (o *Orchestrator) wait(ctx context.Context, sigCh <-chan os.Signal, tuiDone, sessionDone <-chan error) {
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				o.logger.Info("received_signal", "signal", sig.String(), "action", "play")
				go func() {
					if err := o.session.Play(ctx); err != nil {
						o.logger.Warn("play_failed", "error", err)
					}
				}()
				continue
			}
			o.logger.Info("received_signal", "signal", sig.String())
			return
		case err := <-tuiDone:
			if err != nil {
				o.logger.Warn("dashboard_error", "error", err)
			}
			o.logger.Info("dashboard_closed")
			return
		case err := <-sessionDone:
			o.logger.Info("session_ended", "error", err)
			return
		case <-ctx.Done():
			o.logger.Info("context_cancelled")
			return
		}
	}
}

// watch forwards document changes to the session until ctx ends.
func (o *Orchestrator) watch(ctx context.Context, w *editor.Watcher) {
	err := w.Run(ctx, func() {
		if err := o.session.DocumentChanged(ctx, o.document); err != nil && !errors.Is(err, ErrSessionClosed) {
			o.logger.Warn("document_change_failed", "error", err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("document_watch_stopped", "error", err)
	}
}

// sample feeds the rolling rates and exports component counters.
func (o *Orchestrator) sample(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.stats.RecordSample()
			o.metrics.RecordStats(o.statsUpdate())
		}
	}
}

func (o *Orchestrator) statsUpdate() *metrics.StatsUpdate {
	snap := o.stats.Snapshot()
	applied, disposed := o.overlays.Stats()
	lines, errs := o.diagnostics.Counts()

	return &metrics.StatsUpdate{
		LatencyP50:       snap.LatencyP50,
		LatencyP95:       snap.LatencyP95,
		LatencyP99:       snap.LatencyP99,
		FrameRate1s:      snap.FrameRate.Rate1s,
		FrameRate10s:     snap.FrameRate.Rate10s,
		FrameRate60s:     snap.FrameRate.Rate60s,
		OverlaysApplied:  applied,
		OverlaysDisposed: disposed,
		DiagnosticLines:  int64(lines),
		DiagnosticErrors: int64(errs),
		LinesDropped:     o.supervisor.Stats().LinesDropped,
		OverlaysPending:  o.overlays.PendingDisposals(),
	}
}

// =============================================================================
// Supervisor callbacks
// =============================================================================

func (o *Orchestrator) onStart(pid int) {
	o.metrics.RendererStarted()
	if o.metrics.TotalStarts() > 1 {
		o.stats.RecordRestart()
	}
	if o.config.Verbose {
		o.logger.Debug("renderer_process_started", "pid", pid)
	}
}

func (o *Orchestrator) onExit(pid, exitCode int, uptime time.Duration, crashed bool) {
	o.metrics.RecordExit(exitCode, uptime, crashed)
	if crashed {
		o.stats.RecordCrash()
	}
}

func (o *Orchestrator) onRepeatedFailure(failures int) {
	o.metrics.RecordRepeatedFailure()
	o.setNotice(fmt.Sprintf("renderer crashed %d times in a row; check the shader and renderer diagnostics", failures))
}

func (o *Orchestrator) onMalformed(string) {
	o.metrics.RecordMalformed()
	o.stats.RecordMalformed()
}

// onFrame clears a crash notice once the renderer is healthy again.
func (o *Orchestrator) onFrame(f protocol.Frame, path string) {
	o.noticeMu.Lock()
	o.notice = ""
	o.noticeMu.Unlock()
	if o.config.Verbose {
		o.logger.Debug("frame_presented", "index", f.Index, "path", path)
	}
}

// =============================================================================
// Notices and status
// =============================================================================

func (o *Orchestrator) setNotice(msg string) {
	o.noticeMu.Lock()
	o.notice = msg
	o.noticeMu.Unlock()
	o.logger.Warn("notice", "message", msg)
}

// Notice returns the latest user-visible notice.
func (o *Orchestrator) Notice() string {
	o.noticeMu.Lock()
	defer o.noticeMu.Unlock()
	return o.notice
}

// FramePath returns the image behind the visible preview overlay.
func (o *Orchestrator) FramePath() (string, bool) {
	layer, ok := o.canvas.Preview()
	if !ok || layer.Path == "" {
		return "", false
	}
	return layer.Path, true
}

// Status is the JSON document served at /status.
type Status struct {
	Document      string        `json:"document"`
	Renderer      string        `json:"renderer,omitempty"`
	Mode          string        `json:"mode,omitempty"`
	State         string        `json:"state"`
	PID           int           `json:"pid,omitempty"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Session       SessionStatus `json:"session"`
	Submitted     int64         `json:"submitted"`
	Frames        int64         `json:"frames"`
	Malformed     int64         `json:"malformed"`
	Crashes       int64         `json:"crashes"`
	Restarts      int64         `json:"restarts"`
	LatencyP50Ms  float64       `json:"latency_p50_ms"`
	LatencyP95Ms  float64       `json:"latency_p95_ms"`
	LatencyP99Ms  float64       `json:"latency_p99_ms"`
	Frame         string        `json:"frame,omitempty"`
	Notice        string        `json:"notice,omitempty"`
}

// Status returns a point-in-time view of the whole session.
func (o *Orchestrator) Status() Status {
	snap := o.stats.Snapshot()
	frame, _ := o.FramePath()
	return Status{
		Document:      o.document.Path(),
		Renderer:      o.binary,
		Mode:          string(o.mode),
		State:         o.supervisor.State().String(),
		PID:           o.supervisor.PID(),
		UptimeSeconds: o.supervisor.Uptime().Seconds(),
		Session:       o.session.Status(),
		Submitted:     snap.Submitted,
		Frames:        snap.Frames,
		Malformed:     snap.Malformed,
		Crashes:       snap.Crashes,
		Restarts:      snap.Restarts,
		LatencyP50Ms:  ms(snap.LatencyP50),
		LatencyP95Ms:  ms(snap.LatencyP95),
		LatencyP99Ms:  ms(snap.LatencyP99),
		Frame:         frame,
		Notice:        o.Notice(),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// DashboardStatus implements tui.StatusSource.
func (o *Orchestrator) DashboardStatus() tui.Status {
	frame, _ := o.FramePath()
	_, errs := o.diagnostics.Counts()
	return tui.Status{
		Playing:          o.session.Playing(),
		Disabled:         o.supervisor.Disabled(),
		State:            o.supervisor.State().String(),
		Mode:             string(o.mode),
		PID:              o.supervisor.PID(),
		Uptime:           o.supervisor.Uptime(),
		Notice:           o.Notice(),
		FramePath:        frame,
		Diagnostics:      o.diagnostics.RecentLines(recentLines),
		DiagnosticErrors: errs,
	}
}

func (o *Orchestrator) dashboard() tui.Model {
	return tui.New(tui.Config{
		Document:     o.document.Path(),
		Renderer:     o.binary,
		Size:         o.config.Size,
		MetricsAddr:  o.config.MetricsAddr,
		StatsSource:  o.stats,
		StatusSource: o,
		Controls:     o.session,
	})
}

// printExitSummary prints a summary of the session.
func (o *Orchestrator) printExitSummary() {
	snap := o.stats.Snapshot()
	summary := o.metrics.GenerateSummary()

	fmt.Fprintln(o.out)
	fmt.Fprint(o.out, stats.FormatExitSummary(&snap, stats.SummaryConfig{
		Duration:    time.Since(o.startTime),
		Renderer:    o.binary,
		Mode:        string(o.mode),
		Disabled:    o.supervisor.Disabled(),
		MetricsAddr: o.config.MetricsAddr,
		ExitCodes:   summary.ExitCodes,
		Spawns:      summary.TotalStarts,
	}))
}

// Session returns the preview session for external control.
func (o *Orchestrator) Session() *Session {
	return o.session
}

// Supervisor returns the renderer supervisor for external access.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.supervisor
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Gatherer returns the registry holding the session metrics.
func (o *Orchestrator) Gatherer() prometheus.Gatherer {
	return o.registry
}

// Mode returns the resolved transport mode; empty when disabled.
func (o *Orchestrator) Mode() process.Mode {
	return o.mode
}
