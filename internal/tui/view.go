package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-shader-preview/internal/stats"
)

// maxDiagnosticRows is how many recent renderer lines the expanded panel shows.
const maxDiagnosticRows = 12

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the whole screen.
func (m Model) renderDashboard() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderPreview())

	if m.snap != nil {
		stat := lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderRenderStats(),
			m.renderLatencyStats(),
		)
		sections = append(sections, stat)
	}
	sections = append(sections, m.renderRenderer())

	if m.showDiagnostics || m.status.DiagnosticErrors > 0 {
		sections = append(sections, m.renderDiagnostics())
	}
	if line := m.renderNotice(); line != "" {
		sections = append(sections, line)
	}

	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" shader-preview │ %s │ %s │ Elapsed: %s ",
		GetPreviewLabel(m.status),
		filepath.Base(m.document),
		stats.FormatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Preview
// =============================================================================

func (m Model) renderPreview() string {
	var body string
	switch {
	case m.status.Disabled:
		body = statusError.Render("No renderer for this platform")
	case m.thumbnail != "":
		body = m.thumbnail
	case m.thumbnailErr != nil:
		body = statusWarning.Render("Frame unavailable: " + m.thumbnailErr.Error())
	case m.status.Playing:
		body = dimStyle.Render("Waiting for the first frame...")
	default:
		body = dimStyle.Render("Press p to start the preview")
	}

	title := "Preview"
	if m.size != "" {
		title += " " + m.size
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render(title),
		body,
	)
	return boxStyle.Render(content)
}

// =============================================================================
// Render Statistics
// =============================================================================

func (m Model) renderRenderStats() string {
	s := m.snap

	lastFrame := "-"
	if s.LastFrame >= 0 {
		lastFrame = fmt.Sprintf("out%d.png", s.LastFrame)
	}

	malformed := valueStyle
	if s.Malformed > 0 {
		malformed = valueWarnStyle
	}

	rows := []string{
		RenderKeyValue("Submitted", stats.FormatNumber(s.Submitted)),
		renderStatRow("Frames", stats.FormatNumber(s.Frames), stats.FormatRate(s.FrameRate.Rate10s)),
		RenderKeyStyled("Malformed Lines", stats.FormatNumber(s.Malformed), malformed),
		RenderKeyValue("Last Frame", lastFrame),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Renders")}, rows...)...,
	)
	return boxStyle.Render(content)
}

func renderStatRow(label, value, rate string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
		mutedStyle.Render(" ("),
		valueStyle.Render(rate),
		mutedStyle.Render(")"),
	)
}

// =============================================================================
// Latency Statistics
// =============================================================================

func (m Model) renderLatencyStats() string {
	s := m.snap

	var rows []string
	if s.LatencyCount == 0 {
		rows = append(rows, dimStyle.Render("No timed frames yet"))
	} else {
		rows = append(rows,
			RenderKeyStyled("P50 (median)", stats.FormatMs(s.LatencyP50), GetLatencyStyle(s.LatencyP50)),
			RenderKeyStyled("P95", stats.FormatMs(s.LatencyP95), GetLatencyStyle(s.LatencyP95)),
			RenderKeyStyled("P99", stats.FormatMs(s.LatencyP99), GetLatencyStyle(s.LatencyP99)),
			RenderKeyStyled("Max", stats.FormatMs(s.LatencyMax), GetLatencyStyle(s.LatencyMax)),
		)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Submit → Frame")}, rows...)...,
	)
	return boxStyle.Render(content)
}

// =============================================================================
// Renderer Process
// =============================================================================

func (m Model) renderRenderer() string {
	st := m.status

	state := st.State
	if state == "" {
		state = "unknown"
	}
	pid := "-"
	if st.PID > 0 {
		pid = fmt.Sprintf("%d", st.PID)
	}

	rows := []string{
		RenderKeyStyled("State", state, GetRendererStateStyle(state)),
		RenderKeyValue("Mode", st.Mode),
		RenderKeyValue("PID", pid),
		RenderKeyValue("Uptime", stats.FormatDuration(st.Uptime)),
	}
	if m.snap != nil {
		crashes := valueStyle
		if m.snap.Crashes > 0 {
			crashes = valueBadStyle
		}
		rows = append(rows,
			RenderKeyStyled("Crashes", fmt.Sprintf("%d", m.snap.Crashes), crashes),
			RenderKeyValue("Restarts", fmt.Sprintf("%d", m.snap.Restarts)),
		)
	}
	rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render("Diagnostics:"),
		GetDiagnosticsLabel(len(st.Diagnostics), st.DiagnosticErrors),
	))

	title := "Renderer"
	if m.renderer != "" {
		title += " " + filepath.Base(m.renderer)
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render(title)}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Diagnostics
// =============================================================================

func (m Model) renderDiagnostics() string {
	lines := m.status.Diagnostics
	if len(lines) > maxDiagnosticRows {
		lines = lines[len(lines)-maxDiagnosticRows:]
	}

	var rows []string
	if len(lines) == 0 {
		rows = append(rows, dimStyle.Render("No renderer output"))
	}
	maxLen := max(m.width-8, 20)
	for _, l := range lines {
		if len(l) > maxLen {
			l = l[:maxLen-3] + "..."
		}
		style := mutedStyle
		if strings.Contains(l, "ERROR") {
			style = valueBadStyle
		}
		rows = append(rows, style.Render(l))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Renderer Diagnostics")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Notices
// =============================================================================

func (m Model) renderNotice() string {
	switch {
	case m.lastErr != nil:
		return statusError.Render(fmt.Sprintf("✗ %s failed: %v", m.lastAction, m.lastErr))
	case m.status.Notice != "":
		return statusWarning.Render("⚠ " + m.status.Notice)
	}
	return ""
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"p: play",
		"s: stop",
		"d: diagnostics",
		"r: refresh",
		"q: quit",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Status: http://" + m.metricsAddr + "/status")
	}

	padding := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
