package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single diagnostic line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent diagnostic lines kept for display.
	MaxBufferedLines = 100
)

// DiagnosticHandler handles the renderer's stderr. Every line is logged and
// the most recent ones are kept for the dashboard. Renderer diagnostics are
// never fatal.
type DiagnosticHandler struct {
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	total  int
	errors int
	mu     sync.Mutex
}

// NewDiagnosticHandler creates a handler logging through logger. In
// non-verbose mode only warn-level lines are logged; all are buffered.
func NewDiagnosticHandler(logger *slog.Logger, verbose bool) *DiagnosticHandler {
	return &DiagnosticHandler{
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// ParseLine implements parser.LineParser.
func (h *DiagnosticHandler) ParseLine(line string) {
	h.HandleLine(line)
}

// HandleLine processes a single stderr line.
func (h *DiagnosticHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}
	level := classifyLine(line)

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	if level >= slog.LevelWarn {
		h.errors++
	}
	h.mu.Unlock()

	if !h.verbose && level < slog.LevelWarn {
		return
	}
	h.logger.Log(context.Background(), level, "renderer_stderr", "line", line)
}

// classifyLine picks a log level from the line content. GLSL compilers report
// problems as "ERROR: 0:12: ..." which we surface as warnings.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "error") ||
		strings.Contains(lower, "failed") ||
		strings.Contains(lower, "panic") ||
		strings.Contains(lower, "cannot") {
		return slog.LevelWarn
	}
	if strings.Contains(lower, "warning") {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *DiagnosticHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}
	return lines
}

// Counts returns the total number of lines and the number classified as errors.
func (h *DiagnosticHandler) Counts() (total, errors int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total, h.errors
}
