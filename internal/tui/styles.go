// Package tui provides a live terminal dashboard for the shader preview.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays:
// - The latest rendered frame as a coloured thumbnail
// - Render counts and submit-to-frame latency
// - Renderer process state
// - Recent renderer diagnostics
//
// The p and s keys play and stop the preview.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	// Primary colors
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder).
				MarginTop(1)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)
)

// =============================================================================
// Value Styles
// =============================================================================

var (
	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	valueGoodStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	valueBadStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	valueWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(20)

	labelWideStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(25)
)

// =============================================================================
// Preview State Indicator
// =============================================================================

// PreviewState summarizes the session for the header.
type PreviewState int

const (
	PreviewStopped PreviewState = iota
	PreviewPlaying
	PreviewFailing
	PreviewUnavailable
)

// GetPreviewState derives the header state from the session status.
func GetPreviewState(s Status) PreviewState {
	switch {
	case s.Disabled:
		return PreviewUnavailable
	case !s.Playing:
		return PreviewStopped
	case s.Notice != "":
		return PreviewFailing
	default:
		return PreviewPlaying
	}
}

// GetPreviewLabel returns a styled header label.
func GetPreviewLabel(s Status) string {
	switch GetPreviewState(s) {
	case PreviewUnavailable:
		return statusError.Render("● Unavailable")
	case PreviewFailing:
		return statusWarning.Render("● Playing (renderer failing)")
	case PreviewPlaying:
		return statusOK.Render("● Playing")
	default:
		return statusInfo.Render("■ Stopped")
	}
}

// =============================================================================
// Renderer State Indicator
// =============================================================================

// GetRendererStateStyle returns a style for a supervisor state name.
func GetRendererStateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return valueGoodStyle
	case "starting":
		return valueWarnStyle
	case "disabled":
		return valueBadStyle
	default:
		return valueStyle
	}
}

// =============================================================================
// Latency Indicator
// =============================================================================

// GetLatencyStyle colours a submit-to-frame latency: green under 100ms,
// amber under 500ms, red above.
func GetLatencyStyle(d time.Duration) lipgloss.Style {
	switch {
	case d <= 0:
		return valueStyle
	case d < 100*time.Millisecond:
		return valueGoodStyle
	case d < 500*time.Millisecond:
		return valueWarnStyle
	default:
		return valueBadStyle
	}
}

// =============================================================================
// Diagnostics Indicator
// =============================================================================

// GetDiagnosticsLabel returns a styled diagnostics summary.
func GetDiagnosticsLabel(lines, errors int) string {
	switch {
	case errors > 0:
		return statusError.Render(fmt.Sprintf("● %d errors", errors))
	case lines > 0:
		return statusWarning.Render(fmt.Sprintf("● %d lines", lines))
	default:
		return statusOK.Render("● clean")
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderKeyValueWide renders a label-value pair with wider label.
func RenderKeyValueWide(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelWideStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderKeyStyled renders a label with a pre-styled value.
func RenderKeyStyled(label string, value string, style lipgloss.Style) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		style.Render(value),
	)
}
