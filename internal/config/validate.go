package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/randomizedcoder/go-shader-preview/internal/process"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error

	// The shader document is required unless only printing the command
	if cfg.Document == "" && !cfg.PrintCmd {
		errs = append(errs, ValidationError{
			Field:   "document",
			Message: "shader file argument is required",
		})
	}

	if _, ok := process.ParseMode(cfg.Mode); !ok {
		errs = append(errs, ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("must be one of: auto, stream, args (got %q)", cfg.Mode),
		})
	}

	if _, _, err := process.ParseSize(cfg.Size); err != nil {
		errs = append(errs, ValidationError{
			Field:   "size",
			Message: err.Error(),
		})
	}

	if _, err := ParseRendererArgs(cfg.RendererArgs); err != nil {
		errs = append(errs, err)
	}

	// Namespace is a single directory name under the temp root
	if cfg.Namespace == "" || cfg.Namespace == "." || cfg.Namespace == ".." ||
		strings.ContainsAny(cfg.Namespace, `/\`) || filepath.IsAbs(cfg.Namespace) {
		errs = append(errs, ValidationError{
			Field:   "namespace",
			Message: fmt.Sprintf("must be a plain directory name (got %q)", cfg.Namespace),
		})
	}

	const maxGraceDelay = 10 * time.Second
	if cfg.GraceDelay < 0 || cfg.GraceDelay > maxGraceDelay {
		errs = append(errs, ValidationError{
			Field:   "grace_delay",
			Message: fmt.Sprintf("must be between 0 and %v (got %v)", maxGraceDelay, cfg.GraceDelay),
		})
	}

	if cfg.Debounce < 0 {
		errs = append(errs, ValidationError{
			Field:   "debounce",
			Message: "must not be negative",
		})
	}

	if cfg.MaxFailures < 1 {
		errs = append(errs, ValidationError{
			Field:   "max_failures",
			Message: "must be at least 1",
		})
	}

	if cfg.StopGrace < 0 {
		errs = append(errs, ValidationError{
			Field:   "stop_grace",
			Message: "must not be negative",
		})
	}
	if cfg.KillTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "kill_timeout",
			Message: "must be positive",
		})
	}

	if cfg.OutputBuffer < 1 {
		errs = append(errs, ValidationError{
			Field:   "output_buffer",
			Message: "must be at least 1",
		})
	}
	if cfg.DropThreshold < 0 || cfg.DropThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "drop_threshold",
			Message: "must be between 0 and 1",
		})
	}

	// Backoff settings
	if cfg.BackoffInitial <= 0 {
		errs = append(errs, ValidationError{
			Field:   "backoff_initial",
			Message: "must be positive",
		})
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		errs = append(errs, ValidationError{
			Field:   "backoff_max",
			Message: "must be >= backoff_initial",
		})
	}
	if cfg.BackoffMultiply < 1.0 {
		errs = append(errs, ValidationError{
			Field:   "backoff_multiply",
			Message: "must be >= 1.0",
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be one of: debug, info, warn, error (got %q)", cfg.LogLevel),
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
