package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ParseFlags parses command-line flags and returns a Config.
// Precedence is defaults, then the -config file, then flags.
func ParseFlags() (*Config, error) {
	return parseArgs(os.Args[1:], os.Stderr)
}

func parseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	// The config file is applied before flags so that flags win.
	if path := findConfigArg(args); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	fs := newFlagSet(cfg, output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Positional argument: shader document
	if rest := fs.Args(); len(rest) >= 1 {
		cfg.Document = rest[0]
	}

	extra, err := ParseRendererArgs(cfg.RendererArgs)
	if err != nil {
		return nil, err
	}
	cfg.ExtraArgs = extra

	return cfg, nil
}

func newFlagSet(cfg *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("shader-preview", flag.ContinueOnError)
	fs.SetOutput(output)

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(output, `shader-preview - live GLSL fragment shader preview driven by glsl2png

Usage:
  shader-preview [flags] <shader.frag>

Renderer:
`)
		// Print flags by category
		printFlagCategory(fs, output, []string{"renderer", "bin-dir", "mode", "size", "hide", "renderer-args"})

		fmt.Fprintf(output, "\nWorkspace:\n")
		printFlagCategory(fs, output, []string{"tmp-root", "namespace"})

		fmt.Fprintf(output, "\nPreview:\n")
		printFlagCategory(fs, output, []string{"play", "watch", "grace-delay", "debounce", "max-failures"})

		fmt.Fprintf(output, "\nRenderer Process:\n")
		printFlagCategory(fs, output, []string{"stop-grace", "kill-timeout", "output-buffer"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "v", "log-format", "log-level", "log-file", "dump-metrics"})

		fmt.Fprintf(output, "\nDashboard:\n")
		printFlagCategory(fs, output, []string{"tui"})

		fmt.Fprintf(output, "\nSafety & Diagnostics:\n")
		printFlagCategory(fs, output, []string{"config", "print-cmd", "skip-preflight"})

		fmt.Fprintf(output, `
Controls:
  p / SIGHUP    play (start or refresh the preview)
  s             stop (tear down renderer and overlays)
  q / Ctrl-C    quit

Examples:
  # Preview a shader with the bundled renderer
  shader-preview -bin-dir ./bin ~/shaders/plasma.frag

  # Force the one-shot renderer protocol at 1280x720
  shader-preview -mode args -size 1280x720 plasma.frag

  # Show the renderer command without running it
  shader-preview -print-cmd -renderer /opt/glsl2png/glsl2png plasma.frag

`)
	}

	// Renderer
	fs.StringVar(&cfg.RendererPath, "renderer", cfg.RendererPath, "Path to the glsl2png binary (overrides -bin-dir lookup)")
	fs.StringVar(&cfg.BinDir, "bin-dir", cfg.BinDir, "Directory holding the per-platform renderer binaries")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, `Renderer protocol: "auto", "stream" or "args"`)
	fs.StringVar(&cfg.Size, "size", cfg.Size, "Render size WxH")
	fs.BoolVar(&cfg.Hide, "hide", cfg.Hide, "Keep the renderer window hidden")
	fs.StringVar(&cfg.RendererArgs, "renderer-args", cfg.RendererArgs, "Extra renderer arguments (shell quoting)")

	// Workspace
	fs.StringVar(&cfg.TempRoot, "tmp-root", cfg.TempRoot, "Root for the session workspace (default: system temp dir)")
	fs.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Session directory name under -tmp-root")

	// Preview
	fs.BoolVar(&cfg.AutoPlay, "play", cfg.AutoPlay, "Start the preview immediately")
	fs.BoolVar(&cfg.Watch, "watch", cfg.Watch, "Re-render when the shader file changes")
	fs.DurationVar(&cfg.GraceDelay, "grace-delay", cfg.GraceDelay, "Delay before a superseded frame overlay is disposed")
	fs.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "Quiet period before a file change triggers a render")
	fs.IntVar(&cfg.MaxFailures, "max-failures", cfg.MaxFailures, "Consecutive renderer crashes before a notice")

	// Renderer process
	fs.DurationVar(&cfg.StopGrace, "stop-grace", cfg.StopGrace, "Wait after closing renderer stdin before SIGTERM")
	fs.DurationVar(&cfg.KillTimeout, "kill-timeout", cfg.KillTimeout, "Wait after SIGTERM before SIGKILL")
	fs.IntVar(&cfg.OutputBuffer, "output-buffer", cfg.OutputBuffer, "Renderer output lines to buffer")
	// Note: drop-threshold is intentionally not documented (hidden advanced flag)
	fs.Float64Var(&cfg.DropThreshold, "drop-threshold", cfg.DropThreshold, "")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Metrics/status HTTP address ("" disables)`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to this file (default: stderr, or discarded with -tui)")
	fs.BoolVar(&cfg.DumpMetrics, "dump-metrics", cfg.DumpMetrics, "Print all metrics in text format on exit")

	// Dashboard
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard (use -tui=false to disable)")

	// Safety & Diagnostics
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "TOML config file applied before flags")
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the renderer command and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	return fs
}

// findConfigArg returns the value of -config / --config without parsing
// the other flags.
func findConfigArg(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return ""
		}
		name := strings.TrimLeft(a, "-")
		if name == a || len(a)-len(name) > 2 {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// ParseRendererArgs splits shell-quoted renderer arguments.
func ParseRendererArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	p := shellwords.NewParser()
	p.ParseEnv = true
	args, err := p.Parse(s)
	if err != nil {
		return nil, ValidationError{Field: "renderer_args", Message: err.Error()}
	}
	for _, a := range args {
		if reservedRendererFlags[a] {
			return nil, ValidationError{
				Field:   "renderer_args",
				Message: fmt.Sprintf("%s is set by shader-preview and cannot be overridden", a),
			}
		}
	}
	return args, nil
}

var reservedRendererFlags = map[string]bool{
	"-outdir": true,
	"-time":   true,
	"-size":   true,
	"-stdin":  true,
}

// IsHelp reports whether err came from -h / -help.
func IsHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
