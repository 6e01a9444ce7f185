// This file implements the exit summary printed when a preview session ends.

package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	ruleHeavy = "═══════════════════════════════════════════════════════════════════════════════\n"
	ruleLight = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Duration is the total session duration
	Duration time.Duration

	// Renderer is the renderer binary path
	Renderer string

	// Mode is the transport mode ("stream" or "args")
	Mode string

	// Disabled is set when no renderer was available
	Disabled bool

	// MetricsAddr is the HTTP status endpoint address
	MetricsAddr string

	// ExitCodes is a map of renderer exit codes to counts
	ExitCodes map[int]int

	// Spawns is the number of renderer processes started
	Spawns int64
}

// FormatExitSummary formats session stats for display at program exit.
func FormatExitSummary(snap *Snapshot, cfg SummaryConfig) string {
	if snap == nil || cfg.Disabled {
		return formatBasicSummary(cfg)
	}

	var b strings.Builder
	writeHeader(&b, cfg)

	section(&b, "Renders")
	fmt.Fprintf(&b, "  Submitted:            %s\n", FormatNumber(snap.Submitted))
	fmt.Fprintf(&b, "  Frames:               %s\n", FormatNumber(snap.Frames))
	if snap.LastFrame >= 0 {
		fmt.Fprintf(&b, "  Last Frame:           out%d.png\n", snap.LastFrame)
	}
	fmt.Fprintf(&b, "  Frame Rate (overall): %s\n", FormatRate(snap.FrameRate.RateOverall))
	if snap.Malformed > 0 {
		fmt.Fprintf(&b, "  Malformed Lines:      %s\n", FormatNumber(snap.Malformed))
	}
	b.WriteString("\n")

	if snap.LatencyCount > 0 {
		section(&b, "Submit → Frame Latency")
		fmt.Fprintf(&b, "  Samples:              %d\n", snap.LatencyCount)
		fmt.Fprintf(&b, "  Min:                  %s\n", FormatMs(snap.LatencyMin))
		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatMs(snap.LatencyP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatMs(snap.LatencyP95))
		fmt.Fprintf(&b, "  P99:                  %s\n", FormatMs(snap.LatencyP99))
		fmt.Fprintf(&b, "  Max:                  %s\n", FormatMs(snap.LatencyMax))
		b.WriteString("\n")
	}

	if cfg.Spawns > 0 || snap.Crashes > 0 {
		section(&b, "Renderer Lifecycle")
		fmt.Fprintf(&b, "  Total Starts:         %d\n", cfg.Spawns)
		fmt.Fprintf(&b, "  Restarts:             %d\n", snap.Restarts)
		fmt.Fprintf(&b, "  Crashes:              %d\n", snap.Crashes)
		b.WriteString("\n")
	}

	if len(cfg.ExitCodes) > 0 {
		section(&b, "Exit Codes")

		// Sort exit codes for consistent output
		codes := make([]int, 0, len(cfg.ExitCodes))
		for code := range cfg.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		for _, code := range codes {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, exitCodeLabel(code), cfg.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString(ruleHeavy)
	return b.String()
}

// formatBasicSummary formats a short summary when no renders happened.
func formatBasicSummary(cfg SummaryConfig) string {
	var b strings.Builder
	writeHeader(&b, cfg)

	if cfg.Disabled {
		b.WriteString("(Preview was disabled - no renderer for this platform)\n\n")
	} else {
		b.WriteString("(No render statistics were collected)\n\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString(ruleHeavy)
	return b.String()
}

func writeHeader(b *strings.Builder, cfg SummaryConfig) {
	b.WriteString("\n")
	b.WriteString(ruleHeavy)
	b.WriteString("                          shader-preview Exit Summary\n")
	b.WriteString(ruleHeavy)
	b.WriteString("\n")

	fmt.Fprintf(b, "Session Duration:       %s\n", FormatDuration(cfg.Duration))
	if cfg.Renderer != "" {
		fmt.Fprintf(b, "Renderer:               %s\n", cfg.Renderer)
	}
	if cfg.Mode != "" {
		fmt.Fprintf(b, "Mode:                   %s\n", cfg.Mode)
	}
	b.WriteString("\n")
}

func section(b *strings.Builder, title string) {
	b.WriteString(ruleLight)
	pad := (79 - len([]rune(title))) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(ruleLight)
	b.WriteString("\n")
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
