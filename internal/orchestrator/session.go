package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-shader-preview/internal/clock"
	"github.com/randomizedcoder/go-shader-preview/internal/directive"
	"github.com/randomizedcoder/go-shader-preview/internal/metrics"
	"github.com/randomizedcoder/go-shader-preview/internal/overlay"
	"github.com/randomizedcoder/go-shader-preview/internal/process"
	"github.com/randomizedcoder/go-shader-preview/internal/protocol"
	"github.com/randomizedcoder/go-shader-preview/internal/stats"
	"github.com/randomizedcoder/go-shader-preview/internal/supervisor"
	"github.com/randomizedcoder/go-shader-preview/internal/workspace"
)

// ErrSessionClosed is returned by event methods once Run has returned.
var ErrSessionClosed = errors.New("session closed")

// Document is the editor buffer being previewed.
type Document interface {
	Text() (string, error)

	// Dir is the directory relative import paths resolve against.
	Dir() string

	// Viewport is the visible range the preview is drawn over.
	Viewport() overlay.Range

	// FullRange spans the whole document; the background covers it.
	FullRange() overlay.Range
}

// Worker renders shaders. *supervisor.Supervisor implements it.
type Worker interface {
	EnsureStarted(ctx context.Context, outDir string, origin time.Time) error
	Submit(ctx context.Context, cmds []protocol.Command) error
	OnFrame(fn func(protocol.Frame))
	Stop() error
	Disabled() bool
	Mode() process.Mode
}

// Overlays presents frames. *overlay.Engine implements it.
type Overlays interface {
	ShowFrame(path string, viewport overlay.Range) (*overlay.Overlay, error)
	ShowBackground(docRange overlay.Range) (*overlay.Overlay, error)
	Clear()
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Worker    Worker
	Overlays  Overlays
	Workspace *workspace.Workspace
	Resolver  *directive.Resolver
	Clock     clock.Clock
	Logger    *slog.Logger

	// Stats and Metrics are optional.
	Stats   *stats.RenderStats
	Metrics *metrics.Collector

	// Debounce delays the render after a document change. Zero renders
	// immediately.
	Debounce time.Duration

	// Notify receives user-visible notices. Optional.
	Notify func(msg string)

	// OnFrame is called after a frame has been presented. Optional.
	OnFrame func(f protocol.Frame, path string)
}

type eventKind int

const (
	eventPlay eventKind = iota
	eventStop
	eventDocumentChanged
	eventEditorActivated
	eventRender
)

func (k eventKind) String() string {
	switch k {
	case eventPlay:
		return "play"
	case eventStop:
		return "stop"
	case eventDocumentChanged:
		return "document_changed"
	case eventEditorActivated:
		return "editor_activated"
	case eventRender:
		return "render"
	default:
		return "unknown"
	}
}

type event struct {
	kind  eventKind
	doc   Document
	reply chan error
}

// Session holds the state of one preview session: the active document, the
// shader clock origin and whether the preview is playing. All of it is owned
// by the Run goroutine; the event methods only enqueue.
type Session struct {
	worker   Worker
	overlays Overlays
	ws       *workspace.Workspace
	resolver *directive.Resolver
	clock    clock.Clock
	logger   *slog.Logger
	stats    *stats.RenderStats
	metrics  *metrics.Collector
	notify   func(string)
	onFrame  func(protocol.Frame, string)
	debounce *Debouncer

	events chan event
	frames chan protocol.Frame
	done   chan struct{}

	running atomic.Bool

	// Owned by Run.
	doc             Document
	initialized     bool
	origin          time.Time
	disabledNoticed bool
	retry           clock.Timer

	// Readable from any goroutine.
	playing   atomic.Bool
	lastFrame atomic.Int64
	coalesced atomic.Int64
	renders   atomic.Int64
}

// NewSession creates a Session and subscribes it to the worker's frames.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = directive.NewResolver(cfg.Logger)
	}

	s := &Session{
		worker:   cfg.Worker,
		overlays: cfg.Overlays,
		ws:       cfg.Workspace,
		resolver: cfg.Resolver,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		stats:    cfg.Stats,
		metrics:  cfg.Metrics,
		notify:   cfg.Notify,
		onFrame:  cfg.OnFrame,
		debounce: NewDebouncer(cfg.Debounce, cfg.Clock),
		events:   make(chan event, 16),
		frames:   make(chan protocol.Frame, 1),
		done:     make(chan struct{}),
	}
	s.lastFrame.Store(-1)
	s.worker.OnFrame(s.deliverFrame)
	return s
}

// Run handles events until ctx is cancelled, then stops the worker and
// removes every overlay. It returns nil on cancellation.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	defer s.teardown()

	s.logger.Info("session_started",
		"mode", s.worker.Mode(),
		"workspace", s.ws.Dir(),
		"disabled", s.worker.Disabled(),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			err := s.handle(ctx, ev)
			if err != nil {
				s.logger.Debug("session_event_failed", "event", ev.kind.String(), "error", err)
			}
			if ev.reply != nil {
				ev.reply <- err
			}
		case f := <-s.frames:
			s.present(f)
		}
	}
}

// Play starts the preview, initializing the session on first use, and
// renders the active document.
func (s *Session) Play(ctx context.Context) error {
	return s.send(ctx, eventPlay, nil)
}

// Stop tears down the worker and every overlay. The next Play starts a
// fresh session clock.
func (s *Session) Stop(ctx context.Context) error {
	return s.send(ctx, eventStop, nil)
}

// DocumentChanged records new text for doc and, while playing, schedules a
// render after the debounce delay.
func (s *Session) DocumentChanged(ctx context.Context, doc Document) error {
	return s.send(ctx, eventDocumentChanged, doc)
}

// EditorActivated makes doc the active document and, while playing,
// re-applies the background over it.
func (s *Session) EditorActivated(ctx context.Context, doc Document) error {
	return s.send(ctx, eventEditorActivated, doc)
}

func (s *Session) send(ctx context.Context, kind eventKind, doc Document) error {
	ev := event{kind: kind, doc: doc, reply: make(chan error, 1)}
	select {
	case s.events <- ev:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ev.reply:
		return err
	case <-s.done:
		select {
		case err := <-ev.reply:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues an event without waiting for it to be handled.
func (s *Session) post(kind eventKind) {
	select {
	case s.events <- event{kind: kind}:
	case <-s.done:
	}
}

func (s *Session) handle(ctx context.Context, ev event) error {
	switch ev.kind {
	case eventPlay:
		return s.play(ctx)
	case eventStop:
		return s.stop()
	case eventDocumentChanged:
		return s.documentChanged(ctx, ev.doc)
	case eventEditorActivated:
		s.editorActivated(ev.doc)
		return nil
	case eventRender:
		if !s.initialized {
			return nil
		}
		return s.render(ctx)
	}
	return fmt.Errorf("unknown event %d", ev.kind)
}

func (s *Session) play(ctx context.Context) error {
	if s.worker.Disabled() {
		s.noticeDisabled()
		return nil
	}
	if !s.initialized {
		s.initialize()
	}
	return s.render(ctx)
}

// initialize prepares the workspace, starts the shader clock and draws the
// background.
func (s *Session) initialize() {
	s.origin = s.clock.Now()
	if err := s.ws.Ensure(); err != nil {
		// WriteShader recreates the directory; a failure here is not final.
		s.logger.Warn("workspace_prepare_failed", "dir", s.ws.Dir(), "error", err)
	}
	s.initialized = true
	s.playing.Store(true)
	s.showBackground()

	s.logger.Info("session_initialized", "workspace", s.ws.Dir())
}

func (s *Session) stop() error {
	if s.worker.Disabled() {
		return nil
	}

	s.debounce.Cancel()
	s.cancelRetry()
	s.overlays.Clear()
	err := s.worker.Stop()

	s.initialized = false
	s.playing.Store(false)
	if s.stats != nil {
		s.stats.ClearPending()
	}
	s.drainFrames()

	s.logger.Info("preview_stopped")
	return err
}

func (s *Session) documentChanged(ctx context.Context, doc Document) error {
	if doc != nil {
		s.doc = doc
	}
	if !s.initialized {
		return nil
	}
	if s.debounce.Delay() <= 0 {
		return s.render(ctx)
	}
	s.debounce.Trigger(func() { s.post(eventRender) })
	return nil
}

func (s *Session) editorActivated(doc Document) {
	s.doc = doc
	if s.initialized {
		s.showBackground()
	}
}

func (s *Session) showBackground() {
	if s.doc == nil {
		return
	}
	if _, err := s.overlays.ShowBackground(s.doc.FullRange()); err != nil {
		s.logger.Warn("background_apply_failed", "error", err)
	}
}

// render writes the active document to the workspace and submits its
// imports followed by an Update for the written file.
func (s *Session) render(ctx context.Context) error {
	s.cancelRetry()

	doc := s.doc
	if doc == nil {
		s.logger.Debug("render_skipped", "reason", "no active document")
		return nil
	}

	text, err := doc.Text()
	if err != nil {
		s.logger.Warn("document_read_failed", "error", err)
		return fmt.Errorf("read document: %w", err)
	}

	imports := s.resolver.Parse(text, doc.Dir())
	for _, imp := range imports {
		if kind := directive.AssetKind(imp.Path); kind != directive.KindVideo {
			s.logger.Warn("import_not_video", "name", imp.Name, "path", imp.Path, "kind", kind)
		}
	}

	path, err := s.ws.WriteShader(text)
	if err != nil {
		s.logger.Warn("shader_write_failed", "error", err)
		return fmt.Errorf("write shader: %w", err)
	}

	if err := s.worker.EnsureStarted(ctx, s.ws.Dir(), s.origin); err != nil {
		return s.submitFailed(err)
	}

	cmds := append(directive.Commands(imports), protocol.Update(path))
	if err := s.worker.Submit(ctx, cmds); err != nil {
		return s.submitFailed(err)
	}
	s.renders.Add(1)

	if s.stats != nil {
		s.stats.RecordSubmit()
	}
	if s.metrics != nil {
		types := make([]string, len(cmds))
		for i, c := range cmds {
			types[i] = string(c.Type)
		}
		s.metrics.RecordSubmit(types)
		s.metrics.RecordImports(len(imports))
		if s.worker.Mode() == process.ModeArgs && len(imports) > 0 {
			s.metrics.RecordImportsDropped(len(imports))
		}
	}

	s.logger.Debug("render_submitted", "imports", len(imports), "shader", path)
	return nil
}

func (s *Session) submitFailed(err error) error {
	switch {
	case errors.Is(err, supervisor.ErrDisabled):
		s.noticeDisabled()
		return nil
	case errors.Is(err, supervisor.ErrThrottled):
		if s.metrics != nil {
			s.metrics.RecordThrottled()
		}
		s.scheduleRetry(err)
	default:
		s.logger.Warn("render_submit_failed", "error", err)
	}
	return err
}

// scheduleRetry renders the active document again once the renderer may be
// respawned, so the latest text is not lost to a crash streak.
func (s *Session) scheduleRetry(err error) {
	wait := time.Duration(0)
	var te *supervisor.ThrottledError
	if errors.As(err, &te) {
		wait = te.RetryIn
	}
	s.cancelRetry()
	s.retry = s.clock.AfterFunc(wait, func() { s.post(eventRender) })
	s.logger.Info("render_throttled", "retry_in", wait.String())
}

func (s *Session) cancelRetry() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Session) noticeDisabled() {
	if s.disabledNoticed {
		return
	}
	s.disabledNoticed = true
	s.logger.Warn("preview_unavailable", "reason", "no renderer for this platform")
	if s.notify != nil {
		s.notify("Shader preview is not supported on this platform")
	}
}

// deliverFrame runs on the worker's output goroutine. It never blocks:
// an unpresented frame is replaced by the newer one.
func (s *Session) deliverFrame(f protocol.Frame) {
	for {
		select {
		case s.frames <- f:
			return
		default:
		}
		select {
		case <-s.frames:
			s.coalesced.Add(1)
		default:
		}
	}
}

func (s *Session) drainFrames() {
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}

func (s *Session) present(f protocol.Frame) {
	var latency time.Duration
	var timed bool
	if s.stats != nil {
		latency, timed = s.stats.RecordFrame(f.Index)
	}
	if s.metrics != nil {
		s.metrics.RecordFrame(f.Index, latency, timed)
	}
	s.lastFrame.Store(int64(f.Index))

	if !s.initialized || s.doc == nil {
		s.logger.Debug("frame_ignored", "index", f.Index)
		return
	}

	path := s.ws.FramePath(f)
	if _, err := s.overlays.ShowFrame(path, s.doc.Viewport()); err != nil {
		s.logger.Warn("frame_present_failed", "index", f.Index, "error", err)
		return
	}
	s.logger.Debug("frame_presented", "index", f.Index, "latency", latency.String())

	if s.onFrame != nil {
		s.onFrame(f, path)
	}
}

func (s *Session) teardown() {
	s.debounce.Cancel()
	s.cancelRetry()
	s.overlays.Clear()
	if !s.worker.Disabled() {
		if err := s.worker.Stop(); err != nil {
			s.logger.Warn("worker_stop_failed", "error", err)
		}
	}
	s.playing.Store(false)
	close(s.done)
	s.logger.Info("session_stopped", "renders", s.renders.Load())
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SessionStatus is a point-in-time view of the session.
type SessionStatus struct {
	Playing         bool  `json:"playing"`
	Renders         int64 `json:"renders"`
	LastFrame       int64 `json:"last_frame"`
	FramesCoalesced int64 `json:"frames_coalesced"`
}

// Status returns the session status. Safe from any goroutine.
func (s *Session) Status() SessionStatus {
	return SessionStatus{
		Playing:         s.playing.Load(),
		Renders:         s.renders.Load(),
		LastFrame:       s.lastFrame.Load(),
		FramesCoalesced: s.coalesced.Load(),
	}
}

// Playing reports whether the preview is running.
func (s *Session) Playing() bool {
	return s.playing.Load()
}
