// Package config provides configuration management for shader-preview.
package config

import "time"

// Config holds all configuration options for a preview session.
type Config struct {
	// Document is the shader source file to preview (positional argument).
	Document string `json:"document"`

	// Renderer
	RendererPath string   `json:"renderer_path"` // explicit binary; overrides BinDir lookup
	BinDir       string   `json:"bin_dir"`       // directory holding the per-platform binaries
	Mode         string   `json:"mode"`          // auto, stream, args
	Size         string   `json:"size"`          // WxH
	Hide         bool     `json:"hide"`
	RendererArgs string   `json:"renderer_args"` // shell-quoted extra arguments
	ExtraArgs    []string `json:"extra_args"`    // RendererArgs after parsing

	// Workspace
	TempRoot  string `json:"temp_root"` // empty = os.TempDir()
	Namespace string `json:"namespace"`

	// Preview behaviour
	GraceDelay  time.Duration `json:"grace_delay"`
	Debounce    time.Duration `json:"debounce"`
	AutoPlay    bool          `json:"auto_play"`
	Watch       bool          `json:"watch"`
	MaxFailures int           `json:"max_failures"`

	// Renderer process
	StopGrace     time.Duration `json:"stop_grace"`
	KillTimeout   time.Duration `json:"kill_timeout"`
	OutputBuffer  int           `json:"output_buffer"`
	DropThreshold float64       `json:"drop_threshold"`

	// Restart policy
	BackoffInitial  time.Duration `json:"backoff_initial"`
	BackoffMax      time.Duration `json:"backoff_max"`
	BackoffMultiply float64       `json:"backoff_multiply"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty = disabled
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	LogLevel    string `json:"log_level"`
	LogFile     string `json:"log_file"` // empty = stderr

	// Dashboard
	TUIEnabled bool `json:"tui_enabled"`

	// Diagnostic modes
	ConfigFile    string `json:"config_file"`
	PrintCmd      bool   `json:"print_cmd"`
	SkipPreflight bool   `json:"skip_preflight"`
	DumpMetrics   bool   `json:"dump_metrics"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Renderer
		Mode: "auto",
		Size: "720x450",
		Hide: true,

		// Workspace
		Namespace: "shader-preview",

		// Preview
		GraceDelay:  300 * time.Millisecond,
		Debounce:    150 * time.Millisecond,
		AutoPlay:    true,
		Watch:       true,
		MaxFailures: 3,

		// Renderer process
		StopGrace:     500 * time.Millisecond,
		KillTimeout:   2 * time.Second,
		OutputBuffer:  256,
		DropThreshold: 0.01,

		// Restart policy
		BackoffInitial:  250 * time.Millisecond,
		BackoffMax:      5 * time.Second,
		BackoffMultiply: 1.7,

		// Observability
		MetricsAddr: "127.0.0.1:17092",
		LogFormat:   "json",
		LogLevel:    "info",

		// Dashboard
		TUIEnabled: true,
	}
}
