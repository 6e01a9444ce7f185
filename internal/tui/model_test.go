package tui

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-shader-preview/internal/stats"
)

// =============================================================================
// Mocks
// =============================================================================

type mockStatsSource struct {
	snap stats.Snapshot
}

func (m *mockStatsSource) Snapshot() stats.Snapshot {
	return m.snap
}

type mockStatusSource struct {
	status Status
}

func (m *mockStatusSource) DashboardStatus() Status {
	return m.status
}

type mockControls struct {
	plays atomic.Int32
	stops atomic.Int32
	err   error
}

func (m *mockControls) Play(context.Context) error {
	m.plays.Add(1)
	return m.err
}

func (m *mockControls) Stop(context.Context) error {
	m.stops.Add(1)
	return m.err
}

func keyMsg(key string) tea.KeyMsg {
	switch key {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "out1.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

// =============================================================================
// Tests: New / Init
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{
		Document:    "/tmp/a.frag",
		Renderer:    "/opt/bin/glsl2png",
		Size:        "720x450",
		MetricsAddr: "127.0.0.1:17092",
	})

	if model.document != "/tmp/a.frag" {
		t.Errorf("document = %q", model.document)
	}
	if model.metricsAddr != "127.0.0.1:17092" {
		t.Errorf("metricsAddr = %q", model.metricsAddr)
	}
	if model.width != 80 || model.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", model.width, model.height)
	}
}

func TestModel_Init(t *testing.T) {
	if cmd := New(Config{}).Init(); cmd == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		key      string
		wantQuit bool
	}{
		{"q", true},
		{"ctrl+c", true},
		{"esc", true},
		{"d", false},
		{"r", false},
		{"x", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			newModel, cmd := New(Config{}).Update(keyMsg(tt.key))
			m := newModel.(Model)

			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}
			if tt.wantQuit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
		})
	}
}

func TestModel_Update_PlayStop(t *testing.T) {
	tests := []struct {
		key       string
		action    string
		wantPlays int32
		wantStops int32
	}{
		{"p", "play", 1, 0},
		{"s", "stop", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			controls := &mockControls{}
			model := New(Config{Controls: controls})

			newModel, cmd := model.Update(keyMsg(tt.key))
			if cmd == nil {
				t.Fatal("expected a control command")
			}
			if controls.plays.Load() != 0 || controls.stops.Load() != 0 {
				t.Fatal("control ran before its command was executed")
			}

			msg := cmd()
			res, ok := msg.(ControlResultMsg)
			if !ok {
				t.Fatalf("cmd returned %T, want ControlResultMsg", msg)
			}
			if res.Action != tt.action || res.Err != nil {
				t.Errorf("result = %+v", res)
			}
			if controls.plays.Load() != tt.wantPlays || controls.stops.Load() != tt.wantStops {
				t.Errorf("plays=%d stops=%d, want %d/%d",
					controls.plays.Load(), controls.stops.Load(), tt.wantPlays, tt.wantStops)
			}

			m := newModel.(Model)
			if m.lastAction != tt.action {
				t.Errorf("lastAction = %q, want %q", m.lastAction, tt.action)
			}
		})
	}
}

func TestModel_Update_PlayWithoutControls(t *testing.T) {
	_, cmd := New(Config{}).Update(keyMsg("p"))
	if cmd != nil {
		t.Error("play without controls should be a no-op")
	}
}

func TestModel_Update_ControlError(t *testing.T) {
	model := New(Config{})
	newModel, _ := model.Update(ControlResultMsg{Action: "play", Err: errors.New("renderer respawn throttled")})
	m := newModel.(Model)

	view := m.View()
	if !strings.Contains(view, "play failed") || !strings.Contains(view, "throttled") {
		t.Errorf("view does not show the control error:\n%s", view)
	}
}

func TestModel_Update_ToggleDiagnostics(t *testing.T) {
	model := New(Config{})
	if model.ShowDiagnostics() {
		t.Fatal("diagnostics should start collapsed")
	}

	newModel, _ := model.Update(keyMsg("d"))
	m := newModel.(Model)
	if !m.ShowDiagnostics() {
		t.Error("d should expand diagnostics")
	}

	newModel, _ = m.Update(keyMsg("d"))
	if newModel.(Model).ShowDiagnostics() {
		t.Error("second d should collapse diagnostics")
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	newModel, cmd := New(Config{}).Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m := newModel.(Model)

	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
	if cmd != nil {
		t.Error("resize without a thumbnail should not schedule work")
	}
}

// =============================================================================
// Tests: Update - Ticks and Thumbnails
// =============================================================================

func TestModel_Update_Tick(t *testing.T) {
	statsSrc := &mockStatsSource{snap: stats.Snapshot{Submitted: 4, Frames: 3, LastFrame: 9}}
	statusSrc := &mockStatusSource{status: Status{Playing: true, State: "running", PID: 42}}
	model := New(Config{StatsSource: statsSrc, StatusSource: statusSrc})

	newModel, cmd := model.Update(TickMsg(time.Now()))
	m := newModel.(Model)

	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
	if m.snap == nil || m.snap.Frames != 3 {
		t.Errorf("snapshot not refreshed: %+v", m.snap)
	}
	if !m.Playing() {
		t.Error("status not refreshed")
	}
}

func TestModel_Update_TickLoadsThumbnail(t *testing.T) {
	path := writePNG(t, 32, 20)
	statusSrc := &mockStatusSource{status: Status{Playing: true, FramePath: path}}
	model := New(Config{StatusSource: statusSrc})

	newModel, _ := model.Update(TickMsg(time.Now()))
	m := newModel.(Model)
	if m.thumbnailPath != path {
		t.Fatalf("thumbnailPath = %q, want %q", m.thumbnailPath, path)
	}

	msg := thumbnailCmd(path, m.thumbnailCols(), m.thumbnailRows())()
	thumb, ok := msg.(ThumbnailMsg)
	if !ok {
		t.Fatalf("thumbnail cmd returned %T", msg)
	}
	if thumb.Err != nil {
		t.Fatalf("thumbnail error = %v", thumb.Err)
	}

	newModel, _ = m.Update(thumb)
	m = newModel.(Model)
	if m.thumbnail == "" {
		t.Error("thumbnail not stored")
	}
	if !strings.Contains(m.View(), "▀") {
		t.Error("view does not contain the thumbnail")
	}
}

func TestModel_Update_StaleThumbnailDropped(t *testing.T) {
	model := New(Config{})
	model.thumbnailPath = "/tmp/out2.png"

	newModel, _ := model.Update(ThumbnailMsg{Path: "/tmp/out1.png", Art: "old"})
	if newModel.(Model).thumbnail != "" {
		t.Error("thumbnail for a replaced frame should be dropped")
	}
}

func TestModel_Update_ThumbnailMissingFile(t *testing.T) {
	msg := thumbnailCmd(filepath.Join(t.TempDir(), "out9.png"), 20, 10)()
	if msg.(ThumbnailMsg).Err == nil {
		t.Error("expected error for a missing frame file")
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	newModel, cmd := New(Config{}).Update(QuitMsg{})
	if !newModel.(Model).quitting {
		t.Error("QuitMsg should set quitting")
	}
	if cmd == nil {
		t.Error("expected tea.Quit cmd")
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_Quitting(t *testing.T) {
	model := New(Config{})
	model.quitting = true
	if view := model.View(); view != "" {
		t.Errorf("View() while quitting = %q, want empty", view)
	}
}

func TestModel_View_States(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   []string
	}{
		{"stopped", Status{}, []string{"Stopped", "Press p"}},
		{"waiting", Status{Playing: true, State: "running"}, []string{"Playing", "Waiting for the first frame"}},
		{"disabled", Status{Disabled: true, State: "disabled"}, []string{"Unavailable", "No renderer"}},
		{"failing", Status{Playing: true, Notice: "renderer keeps crashing"}, []string{"renderer failing", "renderer keeps crashing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := New(Config{Document: "/tmp/scene.frag", StatusSource: &mockStatusSource{status: tt.status}})
			model.width = 160
			newModel, _ := model.Update(TickMsg(time.Now()))
			view := newModel.(Model).View()

			for _, w := range append(tt.want, "scene.frag", "p: play") {
				if !strings.Contains(view, w) {
					t.Errorf("view missing %q:\n%s", w, view)
				}
			}
		})
	}
}

func TestModel_View_Stats(t *testing.T) {
	snap := stats.Snapshot{
		Submitted:    12,
		Frames:       10,
		Malformed:    1,
		LastFrame:    31,
		LatencyCount: 10,
		LatencyP50:   40 * time.Millisecond,
		LatencyP95:   90 * time.Millisecond,
		LatencyP99:   120 * time.Millisecond,
		LatencyMax:   130 * time.Millisecond,
	}
	model := New(Config{StatsSource: &mockStatsSource{snap: snap}})
	newModel, _ := model.Update(TickMsg(time.Now()))
	view := newModel.(Model).View()

	for _, w := range []string{"Submitted", "12", "out31.png", "40 ms", "120 ms"} {
		if !strings.Contains(view, w) {
			t.Errorf("view missing %q", w)
		}
	}
}

func TestModel_View_DiagnosticsShownOnErrors(t *testing.T) {
	status := Status{
		Diagnostics:      []string{"ERROR: 0:3: 'foo' : undeclared identifier"},
		DiagnosticErrors: 1,
	}
	model := New(Config{StatusSource: &mockStatusSource{status: status}})
	newModel, _ := model.Update(TickMsg(time.Now()))
	view := newModel.(Model).View()

	if !strings.Contains(view, "Renderer Diagnostics") || !strings.Contains(view, "undeclared identifier") {
		t.Errorf("diagnostics panel missing:\n%s", view)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{5, 1, 10, 5},
		{-3, 1, 10, 1},
		{30, 1, 10, 10},
	}
	for _, tt := range tests {
		if got := clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}
