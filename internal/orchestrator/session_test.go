package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-shader-preview/internal/canvas"
	"github.com/randomizedcoder/go-shader-preview/internal/clock"
	"github.com/randomizedcoder/go-shader-preview/internal/logging"
	"github.com/randomizedcoder/go-shader-preview/internal/metrics"
	"github.com/randomizedcoder/go-shader-preview/internal/overlay"
	"github.com/randomizedcoder/go-shader-preview/internal/process"
	"github.com/randomizedcoder/go-shader-preview/internal/protocol"
	"github.com/randomizedcoder/go-shader-preview/internal/stats"
	"github.com/randomizedcoder/go-shader-preview/internal/supervisor"
	"github.com/randomizedcoder/go-shader-preview/internal/workspace"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeWorker struct {
	mu        sync.Mutex
	disabled  bool
	mode      process.Mode
	submitErr error

	starts    int
	outDir    string
	origins   []time.Time
	submits   [][]protocol.Command
	shaders   []string // in.frag contents at submit time
	stops     int
	listeners []func(protocol.Frame)
}

func (w *fakeWorker) EnsureStarted(_ context.Context, outDir string, origin time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disabled {
		return supervisor.ErrDisabled
	}
	w.starts++
	w.outDir = outDir
	w.origins = append(w.origins, origin)
	return nil
}

func (w *fakeWorker) Submit(_ context.Context, cmds []protocol.Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitErr != nil {
		return w.submitErr
	}
	if i := protocol.FirstUpdate(cmds); i >= 0 {
		b, _ := os.ReadFile(cmds[i].Path())
		w.shaders = append(w.shaders, string(b))
	}
	w.submits = append(w.submits, cmds)
	return nil
}

func (w *fakeWorker) OnFrame(fn func(protocol.Frame)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *fakeWorker) Stop() error {
	w.mu.Lock()
	w.stops++
	w.mu.Unlock()
	return nil
}

func (w *fakeWorker) Disabled() bool { return w.disabled }

func (w *fakeWorker) Mode() process.Mode {
	if w.mode == "" {
		return process.ModeStream
	}
	return w.mode
}

func (w *fakeWorker) emit(index int) {
	w.mu.Lock()
	ls := append([]func(protocol.Frame){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range ls {
		fn(protocol.Frame{Index: index})
	}
}

func (w *fakeWorker) submitCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.submits)
}

func (w *fakeWorker) lastSubmit() []protocol.Command {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.submits) == 0 {
		return nil
	}
	return w.submits[len(w.submits)-1]
}

type memDocument struct {
	mu   sync.Mutex
	text string
	dir  string
	err  error
	full overlay.Range
}

func (d *memDocument) Text() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text, d.err
}

func (d *memDocument) setText(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

func (d *memDocument) Dir() string { return d.dir }

func (d *memDocument) Viewport() overlay.Range {
	return overlay.Range{End: overlay.Position{Line: 10, Character: 9999}}
}

func (d *memDocument) FullRange() overlay.Range { return d.full }

type harness struct {
	session *Session
	worker  *fakeWorker
	canvas  *canvas.Canvas
	ws      *workspace.Workspace
	clock   *clock.Fake
	stats   *stats.RenderStats
	reg     *prometheus.Registry
	notices []string
	mu      sync.Mutex
}

func (h *harness) noticeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.notices)
}

func newHarness(t *testing.T, w *fakeWorker, debounce time.Duration) *harness {
	t.Helper()
	h := &harness{
		worker: w,
		canvas: canvas.New(),
		ws:     workspace.New(t.TempDir(), "shader-preview"),
		clock:  clock.NewFake(time.Unix(1700000000, 0)),
		reg:    prometheus.NewRegistry(),
	}
	h.stats = stats.NewRenderStatsWithClock(h.clock)
	logger := logging.Discard()

	h.session = NewSession(SessionConfig{
		Worker: w,
		Overlays: overlay.NewEngine(overlay.EngineConfig{
			Host:   h.canvas,
			Clock:  h.clock,
			Logger: logger,
		}),
		Workspace: h.ws,
		Clock:     h.clock,
		Logger:    logger,
		Stats:     h.stats,
		Metrics:   metrics.NewCollectorWithRegistry(metrics.CollectorConfig{Renderer: "glsl2png"}, h.reg),
		Debounce:  debounce,
		Notify: func(msg string) {
			h.mu.Lock()
			h.notices = append(h.notices, msg)
			h.mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := h.session.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestSession_PlayEmitsImportsThenUpdate(t *testing.T) {
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	t.Setenv("HOME", "/home/u")

	h := newHarness(t, &fakeWorker{}, 0)
	doc := &memDocument{
		text: "/* {IMPORTED:{bg:{PATH:\"~/video.mp4\"}}} */\nvoid main() {}\n",
		dir:  "/home/u/proj",
	}

	ctx := context.Background()
	if err := h.session.EditorActivated(ctx, doc); err != nil {
		t.Fatalf("EditorActivated() error = %v", err)
	}
	if err := h.session.Play(ctx); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	want := []protocol.Command{
		protocol.ImportAsset("bg", "/home/u/video.mp4"),
		protocol.Update(filepath.Join(h.ws.Dir(), workspace.ShaderFile)),
	}
	if got := h.worker.lastSubmit(); !reflect.DeepEqual(got, want) {
		t.Errorf("submitted %v, want %v", got, want)
	}
	if h.worker.outDir != h.ws.Dir() {
		t.Errorf("EnsureStarted outDir = %q, want %q", h.worker.outDir, h.ws.Dir())
	}
}

func TestSession_ShaderWrittenBeforeSubmit(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 0)
	doc := &memDocument{text: "void main() { gl_FragColor = vec4(1.0); }", dir: t.TempDir()}

	ctx := context.Background()
	h.session.EditorActivated(ctx, doc)
	if err := h.session.Play(ctx); err != nil {
		t.Fatal(err)
	}

	h.worker.mu.Lock()
	defer h.worker.mu.Unlock()
	if len(h.worker.shaders) != 1 || h.worker.shaders[0] != doc.text {
		t.Errorf("shader at submit time = %q, want %q", h.worker.shaders, doc.text)
	}
}

func TestSession_PlayWithoutDocument(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 0)

	if err := h.session.Play(context.Background()); err != nil {
		t.Errorf("Play() error = %v, want nil", err)
	}
	if h.worker.submitCount() != 0 {
		t.Errorf("submits = %d, want 0", h.worker.submitCount())
	}
	if !h.session.Playing() {
		t.Error("session should be playing after Play")
	}
}

func TestSession_DisabledNoticeOnce(t *testing.T) {
	h := newHarness(t, &fakeWorker{disabled: true}, 0)
	doc := &memDocument{text: "void main() {}", dir: t.TempDir()}

	ctx := context.Background()
	h.session.EditorActivated(ctx, doc)
	for i := 0; i < 3; i++ {
		if err := h.session.Play(ctx); err != nil {
			t.Fatalf("Play() #%d error = %v", i, err)
		}
	}
	if err := h.session.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	if n := h.noticeCount(); n != 1 {
		t.Errorf("notices = %d, want 1", n)
	}
	if h.worker.submitCount() != 0 {
		t.Errorf("submits = %d, want 0", h.worker.submitCount())
	}
	if len(h.canvas.Layers()) != 0 {
		t.Errorf("layers = %d, want 0", len(h.canvas.Layers()))
	}
}

func TestSession_FramePresented(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 0)
	doc := &memDocument{text: "void main() {}", dir: t.TempDir()}

	ctx := context.Background()
	h.session.EditorActivated(ctx, doc)
	h.session.Play(ctx)

	h.clock.Advance(40 * time.Millisecond)
	h.worker.emit(7)

	want := h.ws.FramePath(protocol.Frame{Index: 7})
	waitFor(t, "preview layer", func() bool {
		l, ok := h.canvas.Preview()
		return ok && l.Path == want
	})

	snap := h.stats.Snapshot()
	if snap.Frames != 1 || snap.LatencyCount != 1 {
		t.Errorf("frames = %d latency samples = %d, want 1 and 1", snap.Frames, snap.LatencyCount)
	}
	if snap.LatencyMax != 40*time.Millisecond {
		t.Errorf("latency = %v, want 40ms", snap.LatencyMax)
	}
	if got := h.session.Status().LastFrame; got != 7 {
		t.Errorf("LastFrame = %d, want 7", got)
	}
	if _, ok := h.canvas.Top(overlay.CategoryBackground); !ok {
		t.Error("background layer missing while playing")
	}
}

func TestSession_FrameIgnoredWhenNotPlaying(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 0)
	h.session.EditorActivated(context.Background(), &memDocument{dir: t.TempDir()})

	h.worker.emit(3)
	waitFor(t, "frame recorded", func() bool { return h.session.Status().LastFrame == 3 })

	if _, ok := h.canvas.Preview(); ok {
		t.Error("preview shown while not playing")
	}
}

func TestSession_StopClearsEverything(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 0)
	doc := &memDocument{text: "void main() {}", dir: t.TempDir()}

	ctx := context.Background()
	h.session.EditorActivated(ctx, doc)
	h.session.Play(ctx)
	h.worker.emit(1)
	waitFor(t, "preview layer", func() bool { _, ok := h.canvas.Preview(); return ok })

	if err := h.session.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := len(h.canvas.Layers()); n != 0 {
		t.Errorf("layers after Stop = %d, want 0", n)
	}
	if h.session.Playing() {
		t.Error("still playing after Stop")
	}
	h.worker.mu.Lock()
	stops := h.worker.stops
	h.worker.mu.Unlock()
	if stops != 1 {
		t.Errorf("worker stops = %d, want 1", stops)
	}

	// Play again starts a new shader clock.
	h.clock.Advance(5 * time.Second)
	if err := h.session.Play(ctx); err != nil {
		t.Fatal(err)
	}
	h.worker.mu.Lock()
	origins := append([]time.Time{}, h.worker.origins...)
	h.worker.mu.Unlock()
	if len(origins) != 2 {
		t.Fatalf("EnsureStarted calls = %d, want 2", len(origins))
	}
	if got := origins[1].Sub(origins[0]); got != 5*time.Second {
		t.Errorf("origin moved by %v, want 5s", got)
	}
}

func TestSession_StopWithoutPlay(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 0)
	ctx := context.Background()

	if err := h.session.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := h.session.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	h.session.EditorActivated(ctx, &memDocument{text: "x", dir: t.TempDir()})
	if err := h.session.Play(ctx); err != nil {
		t.Errorf("Play() after Stop error = %v", err)
	}
	if h.worker.submitCount() != 1 {
		t.Errorf("submits = %d, want 1", h.worker.submitCount())
	}
}

func TestSession_DocumentChangedDebounced(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 150*time.Millisecond)
	doc := &memDocument{text: "v1", dir: t.TempDir()}

	ctx := context.Background()
	h.session.EditorActivated(ctx, doc)
	h.session.Play(ctx)

	for _, text := range []string{"v2", "v3", "v4"} {
		doc.setText(text)
		if err := h.session.DocumentChanged(ctx, doc); err != nil {
			t.Fatal(err)
		}
		h.clock.Advance(50 * time.Millisecond)
	}
	if h.worker.submitCount() != 1 {
		t.Fatalf("submits during burst = %d, want 1", h.worker.submitCount())
	}

	h.clock.Advance(100 * time.Millisecond)
	waitFor(t, "debounced render", func() bool { return h.worker.submitCount() == 2 })

	h.worker.mu.Lock()
	last := h.worker.shaders[len(h.worker.shaders)-1]
	h.worker.mu.Unlock()
	if last != "v4" {
		t.Errorf("rendered %q, want latest text v4", last)
	}
}

func TestSession_DocumentChangedBeforePlay(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 0)
	doc := &memDocument{text: "v1", dir: t.TempDir()}

	if err := h.session.DocumentChanged(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	if h.worker.submitCount() != 0 {
		t.Errorf("submits = %d, want 0 before Play", h.worker.submitCount())
	}
}

func TestSession_DocumentChangedImmediate(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 0)
	doc := &memDocument{text: "v1", dir: t.TempDir()}

	ctx := context.Background()
	h.session.EditorActivated(ctx, doc)
	h.session.Play(ctx)
	h.session.DocumentChanged(ctx, doc)

	if h.worker.submitCount() != 2 {
		t.Errorf("submits = %d, want 2", h.worker.submitCount())
	}
}

func TestSession_EditorActivatedReplacesBackground(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 0)
	doc1 := &memDocument{text: "a", dir: t.TempDir(), full: overlay.Range{End: overlay.Position{Line: 3}}}
	doc2 := &memDocument{text: "b", dir: t.TempDir(), full: overlay.Range{End: overlay.Position{Line: 8}}}

	ctx := context.Background()
	h.session.EditorActivated(ctx, doc1)
	if _, ok := h.canvas.Top(overlay.CategoryBackground); ok {
		t.Error("background applied before Play")
	}

	h.session.Play(ctx)
	h.session.EditorActivated(ctx, doc2)

	backgrounds := 0
	for _, l := range h.canvas.Layers() {
		if l.Decoration.Category == overlay.CategoryBackground {
			backgrounds++
		}
	}
	if backgrounds != 1 {
		t.Errorf("background layers = %d, want 1", backgrounds)
	}
	l, _ := h.canvas.Top(overlay.CategoryBackground)
	if l.Decoration.Range != doc2.full {
		t.Errorf("background range = %v, want %v", l.Decoration.Range, doc2.full)
	}
}

func TestSession_SubmitErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		throttled float64
	}{
		{"throttled", fmt.Errorf("%w: retry in 1s", supervisor.ErrThrottled), 1},
		{"other", errors.New("broken pipe"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeWorker{submitErr: tt.err}, 0)
			ctx := context.Background()
			h.session.EditorActivated(ctx, &memDocument{text: "x", dir: t.TempDir()})

			err := h.session.Play(ctx)
			if !errors.Is(err, tt.err) {
				t.Errorf("Play() error = %v, want %v", err, tt.err)
			}
			got, err := metrics.CounterValue(h.reg, "shader_preview_renderer_throttled_total", nil)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.throttled {
				t.Errorf("throttled_total = %v, want %v", got, tt.throttled)
			}
			if h.stats.Pending() {
				t.Error("failed submit left a pending latency measurement")
			}
		})
	}
}

func TestSession_ArgsModeCountsDroppedImports(t *testing.T) {
	h := newHarness(t, &fakeWorker{mode: process.ModeArgs}, 0)
	dir := t.TempDir()
	doc := &memDocument{
		text: "/* {IMPORTED:{a:{PATH:'a.mp4'}, b:{PATH:'b.mp4'}}} */",
		dir:  dir,
	}

	ctx := context.Background()
	h.session.EditorActivated(ctx, doc)
	if err := h.session.Play(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := metrics.CounterValue(h.reg, "shader_preview_directive_imports_dropped_total", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("imports_dropped_total = %v, want 2", got)
	}
}

func TestSession_DocumentReadError(t *testing.T) {
	h := newHarness(t, &fakeWorker{}, 0)
	ctx := context.Background()
	h.session.EditorActivated(ctx, &memDocument{err: os.ErrPermission})

	if err := h.session.Play(ctx); !errors.Is(err, os.ErrPermission) {
		t.Errorf("Play() error = %v, want ErrPermission", err)
	}
	if h.worker.submitCount() != 0 {
		t.Errorf("submits = %d, want 0", h.worker.submitCount())
	}
}

func TestSession_FrameCoalescing(t *testing.T) {
	w := &fakeWorker{}
	s := NewSession(SessionConfig{
		Worker:    w,
		Overlays:  overlay.NewEngine(overlay.EngineConfig{Host: canvas.New(), Logger: logging.Discard()}),
		Workspace: workspace.New(t.TempDir(), "ns"),
		Logger:    logging.Discard(),
	})

	// Not running: frames pile up in the single slot.
	for i := 1; i <= 4; i++ {
		w.emit(i)
	}

	select {
	case f := <-s.frames:
		if f.Index != 4 {
			t.Errorf("kept frame %d, want 4", f.Index)
		}
	default:
		t.Fatal("no frame queued")
	}
	if got := s.Status().FramesCoalesced; got != 3 {
		t.Errorf("FramesCoalesced = %d, want 3", got)
	}
}

func TestSession_ClosedAfterRun(t *testing.T) {
	w := &fakeWorker{}
	s := NewSession(SessionConfig{
		Worker:    w,
		Overlays:  overlay.NewEngine(overlay.EngineConfig{Host: canvas.New(), Logger: logging.Discard()}),
		Workspace: workspace.New(t.TempDir(), "ns"),
		Logger:    logging.Discard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}
	if err := s.Play(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Play() after Run = %v, want ErrSessionClosed", err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("second Run() expected error")
	}
	if w.stops != 1 {
		t.Errorf("worker stops = %d, want 1", w.stops)
	}
}
