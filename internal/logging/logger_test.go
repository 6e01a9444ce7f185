package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"invalid", slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := parseLevel(tc.input); got != tc.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", "JSON", "", "invalid"} {
		t.Run(format, func(t *testing.T) {
			if NewLogger(format, "info", false) == nil {
				t.Error("NewLogger returned nil")
			}
		})
	}
}

func TestNewLoggerWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "json", "info")
	logger.Info("worker_started", "pid", 42)

	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("expected JSON, got: %s", out)
	}
	if !strings.Contains(out, `"pid":42`) {
		t.Errorf("expected pid attribute, got: %s", out)
	}
}

func TestNewLoggerWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "text", "info")
	logger.Info("worker_started", "mode", "stream")

	if !strings.Contains(buf.String(), "mode=stream") {
		t.Errorf("expected key=value, got: %s", buf.String())
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "text", "warn")

	logger.Info("info msg")
	logger.Warn("warn msg")

	if strings.Contains(buf.String(), "info msg") {
		t.Error("warn level should not log info messages")
	}
	if !strings.Contains(buf.String(), "warn msg") {
		t.Error("warn level should log warn messages")
	}
}

func TestNewLoggerWithWriter_NilWriter(t *testing.T) {
	logger := NewLoggerWithWriter(nil, "text", "info")
	logger.Info("goes nowhere")
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithWriter(&buf, "text", "info"))
	slog.Info("from default logger")

	if !strings.Contains(buf.String(), "from default logger") {
		t.Error("SetDefault did not set the default logger")
	}
}

// DiagnosticHandler tests

func TestDiagnosticHandler_ClassifyLine(t *testing.T) {
	testCases := []struct {
		line string
		want slog.Level
	}{
		{"ERROR: 0:12: 'foo' : undeclared identifier", slog.LevelWarn},
		{"failed to compile shader", slog.LevelWarn},
		{"cannot open video", slog.LevelWarn},
		{"WARNING: precision not specified", slog.LevelInfo},
		{"rendered in 3ms", slog.LevelDebug},
	}
	for _, tc := range testCases {
		if got := classifyLine(tc.line); got != tc.want {
			t.Errorf("classifyLine(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestDiagnosticHandler_NonVerboseLogsOnlyProblems(t *testing.T) {
	var buf bytes.Buffer
	h := NewDiagnosticHandler(NewLoggerWithWriter(&buf, "text", "debug"), false)

	h.ParseLine("rendered in 3ms")
	h.ParseLine("ERROR: 0:1: syntax error")

	out := buf.String()
	if strings.Contains(out, "rendered in 3ms") {
		t.Error("non-verbose handler logged a debug line")
	}
	if !strings.Contains(out, "syntax error") {
		t.Error("non-verbose handler did not log an error line")
	}
	if total, errs := h.Counts(); total != 2 || errs != 1 {
		t.Errorf("Counts() = %d, %d; want 2, 1", total, errs)
	}
}

func TestDiagnosticHandler_VerboseLogsEverything(t *testing.T) {
	var buf bytes.Buffer
	h := NewDiagnosticHandler(NewLoggerWithWriter(&buf, "text", "debug"), true)

	h.HandleLine("rendered in 3ms")
	if !strings.Contains(buf.String(), "rendered in 3ms") {
		t.Error("verbose handler should log debug lines")
	}
}

func TestDiagnosticHandler_Truncation(t *testing.T) {
	h := NewDiagnosticHandler(Discard(), false)
	h.HandleLine(strings.Repeat("x", MaxLineLength+10))

	lines := h.RecentLines(1)
	if len(lines) != 1 {
		t.Fatalf("RecentLines(1) = %d lines", len(lines))
	}
	if !strings.HasSuffix(lines[0], "...(truncated)") {
		t.Error("long line was not truncated")
	}
}

func TestDiagnosticHandler_RecentLines(t *testing.T) {
	h := NewDiagnosticHandler(Discard(), false)

	if got := h.RecentLines(5); len(got) != 0 {
		t.Errorf("RecentLines on empty handler = %v", got)
	}

	for i := 0; i < MaxBufferedLines+5; i++ {
		h.HandleLine(fmt.Sprintf("line %d", i))
	}

	got := h.RecentLines(3)
	want := []string{
		fmt.Sprintf("line %d", MaxBufferedLines+2),
		fmt.Sprintf("line %d", MaxBufferedLines+3),
		fmt.Sprintf("line %d", MaxBufferedLines+4),
	}
	if len(got) != len(want) {
		t.Fatalf("RecentLines(3) = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("RecentLines(3)[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := h.RecentLines(MaxBufferedLines * 2); len(got) != MaxBufferedLines {
		t.Errorf("RecentLines(oversized) = %d lines, want %d", len(got), MaxBufferedLines)
	}
}

func TestDiagnosticHandler_Concurrent(t *testing.T) {
	h := NewDiagnosticHandler(Discard(), false)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				h.HandleLine(fmt.Sprintf("g%d line %d", g, i))
			}
		}(g)
	}
	wg.Wait()

	if total, _ := h.Counts(); total != 200 {
		t.Errorf("total = %d, want 200", total)
	}
}
