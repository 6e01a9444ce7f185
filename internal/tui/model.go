package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-shader-preview/internal/canvas"
	"github.com/randomizedcoder/go-shader-preview/internal/stats"
)

// controlTimeout bounds a play or stop request issued from the keyboard.
const controlTimeout = 10 * time.Second

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// ControlResultMsg reports the outcome of a play or stop request.
type ControlResultMsg struct {
	Action string
	Err    error
}

// ThumbnailMsg carries a rendered frame thumbnail.
type ThumbnailMsg struct {
	Path string
	Art  string
	Err  error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Status is the renderer and session state shown in the dashboard.
type Status struct {
	Playing  bool
	Disabled bool
	State    string
	Mode     string
	PID      int
	Uptime   time.Duration

	// Notice is the latest user-visible notice, if any.
	Notice string

	// FramePath is the image behind the visible preview overlay.
	FramePath string

	Diagnostics      []string
	DiagnosticErrors int
}

// StatsSource provides render statistics. *stats.RenderStats implements it.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

// StatusSource provides the session status.
type StatusSource interface {
	DashboardStatus() Status
}

// Controls are the user commands. *orchestrator.Session implements it.
type Controls interface {
	Play(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Config holds TUI configuration.
type Config struct {
	Document     string
	Renderer     string
	Size         string
	MetricsAddr  string
	StatsSource  StatsSource
	StatusSource StatusSource
	Controls     Controls
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	document    string
	renderer    string
	size        string
	metricsAddr string

	// Current state
	snap            *stats.Snapshot
	status          Status
	thumbnail       string
	thumbnailPath   string
	thumbnailErr    error
	lastAction      string
	lastErr         error
	startTime       time.Time
	lastUpdate      time.Time
	showDiagnostics bool

	// Display options
	width  int
	height int

	statsSource  StatsSource
	statusSource StatusSource
	controls     Controls

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		document:     cfg.Document,
		renderer:     cfg.Renderer,
		size:         cfg.Size,
		metricsAddr:  cfg.MetricsAddr,
		statsSource:  cfg.StatsSource,
		statusSource: cfg.StatusSource,
		controls:     cfg.Controls,
		startTime:    time.Now(),
		lastUpdate:   time.Now(),
		width:        80,
		height:       24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "p":
			if m.controls == nil {
				return m, nil
			}
			m.lastAction, m.lastErr = "play", nil
			return m, controlCmd("play", m.controls.Play)
		case "s":
			if m.controls == nil {
				return m, nil
			}
			m.lastAction, m.lastErr = "stop", nil
			return m, controlCmd("stop", m.controls.Stop)
		case "d":
			m.showDiagnostics = !m.showDiagnostics
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Re-render the thumbnail at the new size.
		if m.thumbnailPath != "" {
			return m, thumbnailCmd(m.thumbnailPath, m.thumbnailCols(), m.thumbnailRows())
		}
		return m, nil

	case TickMsg:
		m = m.refresh()
		cmds := []tea.Cmd{tickCmd()}
		if path := m.status.FramePath; path != m.thumbnailPath {
			m.thumbnailPath = path
			if path == "" {
				m.thumbnail, m.thumbnailErr = "", nil
			} else {
				cmds = append(cmds, thumbnailCmd(path, m.thumbnailCols(), m.thumbnailRows()))
			}
		}
		return m, tea.Batch(cmds...)

	case ThumbnailMsg:
		// Drop results for a frame that has since been replaced.
		if msg.Path != m.thumbnailPath {
			return m, nil
		}
		m.thumbnail, m.thumbnailErr = msg.Art, msg.Err
		return m, nil

	case ControlResultMsg:
		m.lastAction, m.lastErr = msg.Action, msg.Err
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// refresh pulls the latest statistics and status.
func (m Model) refresh() Model {
	if m.statsSource != nil {
		snap := m.statsSource.Snapshot()
		m.snap = &snap
	}
	if m.statusSource != nil {
		m.status = m.statusSource.DashboardStatus()
	}
	m.lastUpdate = time.Now()
	return m
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func controlCmd(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		return ControlResultMsg{Action: action, Err: fn(ctx)}
	}
}

func thumbnailCmd(path string, cols, rows int) tea.Cmd {
	return func() tea.Msg {
		art, err := canvas.Thumbnail(path, cols, rows)
		return ThumbnailMsg{Path: path, Art: art, Err: err}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Playing reports whether the last status showed a running preview.
func (m Model) Playing() bool {
	return m.status.Playing
}

// ShowDiagnostics reports whether the diagnostics panel is expanded.
func (m Model) ShowDiagnostics() bool {
	return m.showDiagnostics
}

func (m Model) thumbnailCols() int {
	return clamp(m.width-4, 16, 96)
}

func (m Model) thumbnailRows() int {
	return clamp(m.height/2, 6, 28)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
