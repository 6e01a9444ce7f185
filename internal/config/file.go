package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the TOML layout. Pointer fields distinguish "absent"
// from zero values so a file only overrides what it sets.
//
//	[renderer]
//	path = "/opt/glsl2png/glsl2png"
//	mode = "stream"
//	size = "1280x720"
//	args = "-fps 30"
//
//	[workspace]
//	root = "~/tmp"
//	namespace = "shader-preview"
//
//	[preview]
//	grace_delay = "300ms"
//	debounce = "150ms"
//
//	[observability]
//	metrics = "127.0.0.1:17092"
//	log_format = "text"
type fileConfig struct {
	Renderer struct {
		Path   *string `toml:"path"`
		BinDir *string `toml:"bin_dir"`
		Mode   *string `toml:"mode"`
		Size   *string `toml:"size"`
		Hide   *bool   `toml:"hide"`
		Args   *string `toml:"args"`
	} `toml:"renderer"`

	Workspace struct {
		Root      *string `toml:"root"`
		Namespace *string `toml:"namespace"`
	} `toml:"workspace"`

	Preview struct {
		GraceDelay  *string `toml:"grace_delay"`
		Debounce    *string `toml:"debounce"`
		AutoPlay    *bool   `toml:"auto_play"`
		Watch       *bool   `toml:"watch"`
		MaxFailures *int    `toml:"max_failures"`
	} `toml:"preview"`

	Process struct {
		StopGrace      *string  `toml:"stop_grace"`
		KillTimeout    *string  `toml:"kill_timeout"`
		OutputBuffer   *int     `toml:"output_buffer"`
		BackoffInitial *string  `toml:"backoff_initial"`
		BackoffMax     *string  `toml:"backoff_max"`
		BackoffFactor  *float64 `toml:"backoff_multiply"`
	} `toml:"process"`

	Observability struct {
		Metrics   *string `toml:"metrics"`
		LogFormat *string `toml:"log_format"`
		LogLevel  *string `toml:"log_level"`
		LogFile   *string `toml:"log_file"`
		Verbose   *bool   `toml:"verbose"`
		TUI       *bool   `toml:"tui"`
	} `toml:"observability"`
}

// LoadFile applies a TOML config file on top of cfg. Unknown keys are an
// error so typos don't silently fall back to defaults.
func LoadFile(path string, cfg *Config) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("config file %q: %w", path, err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer f.Close()

	var fc fileConfig
	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config file %s: unknown keys:\n%s", expanded, strict.String())
		}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			row, col := de.Position()
			return fmt.Errorf("config file %s:%d:%d: %w", expanded, row, col, err)
		}
		return fmt.Errorf("config file %s: %w", expanded, err)
	}
	return fc.apply(cfg)
}

func (fc *fileConfig) apply(cfg *Config) error {
	var errs []error

	setString(&cfg.RendererPath, fc.Renderer.Path)
	setString(&cfg.BinDir, fc.Renderer.BinDir)
	setString(&cfg.Mode, fc.Renderer.Mode)
	setString(&cfg.Size, fc.Renderer.Size)
	setBool(&cfg.Hide, fc.Renderer.Hide)
	setString(&cfg.RendererArgs, fc.Renderer.Args)

	setString(&cfg.TempRoot, fc.Workspace.Root)
	setString(&cfg.Namespace, fc.Workspace.Namespace)

	errs = append(errs,
		setDuration(&cfg.GraceDelay, fc.Preview.GraceDelay, "preview.grace_delay"),
		setDuration(&cfg.Debounce, fc.Preview.Debounce, "preview.debounce"),
	)
	setBool(&cfg.AutoPlay, fc.Preview.AutoPlay)
	setBool(&cfg.Watch, fc.Preview.Watch)
	setInt(&cfg.MaxFailures, fc.Preview.MaxFailures)

	errs = append(errs,
		setDuration(&cfg.StopGrace, fc.Process.StopGrace, "process.stop_grace"),
		setDuration(&cfg.KillTimeout, fc.Process.KillTimeout, "process.kill_timeout"),
		setDuration(&cfg.BackoffInitial, fc.Process.BackoffInitial, "process.backoff_initial"),
		setDuration(&cfg.BackoffMax, fc.Process.BackoffMax, "process.backoff_max"),
	)
	setInt(&cfg.OutputBuffer, fc.Process.OutputBuffer)
	if fc.Process.BackoffFactor != nil {
		cfg.BackoffMultiply = *fc.Process.BackoffFactor
	}

	setString(&cfg.MetricsAddr, fc.Observability.Metrics)
	setString(&cfg.LogFormat, fc.Observability.LogFormat)
	setString(&cfg.LogLevel, fc.Observability.LogLevel)
	setString(&cfg.LogFile, fc.Observability.LogFile)
	setBool(&cfg.Verbose, fc.Observability.Verbose)
	setBool(&cfg.TUIEnabled, fc.Observability.TUI)

	return errors.Join(errs...)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, field string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", *v)}
	}
	*dst = d
	return nil
}
