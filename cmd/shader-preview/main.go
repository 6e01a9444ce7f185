// Package main provides the shader-preview CLI entry point.
//
// shader-preview watches a GLSL fragment shader and keeps a live rendered
// preview of it, driving a glsl2png renderer process in the background.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-shader-preview/internal/config"
	"github.com/randomizedcoder/go-shader-preview/internal/logging"
	"github.com/randomizedcoder/go-shader-preview/internal/metrics"
	"github.com/randomizedcoder/go-shader-preview/internal/orchestrator"
	"github.com/randomizedcoder/go-shader-preview/internal/process"
	"github.com/randomizedcoder/go-shader-preview/internal/workspace"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/shader-preview
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("shader-preview %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		if config.IsHelp(err) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		return 1
	}
	defer closeLog()
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	if cfg.PrintCmd {
		printRendererCommand(cfg)
		return 0
	}

	logger.Info("starting",
		"version", version,
		"document", cfg.Document,
		"mode", cfg.Mode,
		"size", cfg.Size,
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(cfg)
	}

	orch, err := orchestrator.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.DumpMetrics {
		if err := metrics.WriteText(os.Stdout, orch.Gatherer()); err != nil {
			logger.Error("dump_metrics_failed", "error", err)
			return 1
		}
	}
	return 0
}

// newLogger builds the process logger. With the dashboard on, logs go to
// -log-file or nowhere so they do not tear the screen.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	if cfg.LogFile == "" {
		if cfg.TUIEnabled {
			return logging.NewLoggerWithWriter(io.Discard, cfg.LogFormat, cfg.LogLevel), func() {}, nil
		}
		return logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose), func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if cfg.Verbose {
		level = "debug"
	}
	return logging.NewLoggerWithWriter(f, cfg.LogFormat, level), func() { _ = f.Close() }, nil
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                          shader-preview                           ║")
	fmt.Println("║            Live GLSL preview through a glsl2png worker            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Shader:      %s\n", cfg.Document)
	fmt.Printf("  Size:        %s\n", cfg.Size)
	fmt.Printf("  Mode:        %s\n", cfg.Mode)
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Status:      http://%s/status\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop, send SIGHUP to play.")
	fmt.Println()
}

// printRendererCommand prints the renderer command that would be run.
func printRendererCommand(cfg *config.Config) {
	binary, err := process.ResolveBinary(cfg.RendererPath, cfg.BinDir)
	if err != nil {
		fmt.Printf("# %v\n", err)
		return
	}

	mode, _ := process.ParseMode(cfg.Mode)
	if mode == process.ModeAuto {
		mode = process.ModeStream
		if process.Available(binary) {
			if probed, err := process.ProbeMode(context.Background(), binary); err == nil {
				mode = probed
			}
		}
	}

	renderer := process.NewRenderer(&process.RendererConfig{
		BinaryPath: binary,
		Size:       cfg.Size,
		Hide:       cfg.Hide,
		ExtraArgs:  cfg.ExtraArgs,
	})
	ws := workspace.New(cfg.TempRoot, cfg.Namespace)

	fmt.Printf("# Renderer command (%s mode):\n", mode)
	fmt.Println()
	fmt.Println(renderer.CommandString(mode, process.Launch{
		OutDir:     ws.Dir(),
		ShaderPath: ws.ShaderPath(),
	}))
}
