// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/randomizedcoder/go-shader-preview/internal/process"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options describes what to check.
type Options struct {
	// RendererPath is an explicit binary (-renderer). Empty means the
	// bundled binary under BinDir for this platform.
	RendererPath string
	BinDir       string

	// WorkspaceDir is the session directory that must be writable.
	WorkspaceDir string

	// Mode is the requested protocol; ModeAuto probes the binary.
	Mode process.Mode

	// goos overrides runtime.GOOS in tests.
	goos string
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(ctx context.Context, opts Options) *Result {
	if opts.goos == "" {
		opts.goos = runtime.GOOS
	}

	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	platform := checkPlatform(opts)
	add(platform)

	// Without a binary the session runs disabled; nothing more to check
	// about the renderer.
	binary, err := resolve(opts)
	if err == nil {
		rc := checkRenderer(binary, opts.RendererPath != "")
		add(rc)
		if rc.Passed && !rc.Warning {
			add(checkMode(ctx, binary, opts.Mode))
		}
	}

	add(checkWorkspace(opts.WorkspaceDir))

	// File descriptor check (warning only)
	add(checkFileDescriptors())

	return result
}

func resolve(opts Options) (string, error) {
	if opts.RendererPath != "" {
		return opts.RendererPath, nil
	}
	name, ok := process.BinaryName(opts.goos)
	if !ok {
		return "", process.ErrUnsupportedPlatform
	}
	return filepath.Join(opts.BinDir, name), nil
}

// checkPlatform reports whether a bundled renderer exists for this OS.
// An unsupported platform is a warning: the preview runs disabled.
func checkPlatform(opts Options) Check {
	name, ok := process.BinaryName(opts.goos)
	switch {
	case ok:
		return Check{
			Name:    "platform",
			Passed:  true,
			Message: fmt.Sprintf("%s/%s (bundled %s)", opts.goos, runtime.GOARCH, name),
		}
	case opts.RendererPath != "":
		return Check{
			Name:    "platform",
			Passed:  true,
			Message: fmt.Sprintf("%s has no bundled renderer; using -renderer", opts.goos),
		}
	default:
		return Check{
			Name:    "platform",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s has no bundled renderer; preview disabled", opts.goos),
		}
	}
}

// checkRenderer verifies the binary exists and is executable. A missing
// bundled binary is a warning (preview disabled); a missing explicit
// -renderer is an error.
func checkRenderer(path string, explicit bool) Check {
	if process.Available(path) {
		return Check{
			Name:    "renderer",
			Passed:  true,
			Message: fmt.Sprintf("found at %s", path),
		}
	}

	msg := fmt.Sprintf("not found or not executable at %s", path)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		msg = fmt.Sprintf("%s is not executable", path)
	}
	if explicit {
		return Check{Name: "renderer", Passed: false, Message: msg}
	}
	return Check{Name: "renderer", Passed: true, Warning: true, Message: msg + "; preview disabled"}
}

// checkMode reports which protocol the renderer will be driven with.
func checkMode(ctx context.Context, binary string, requested process.Mode) Check {
	mode, err := process.ResolveMode(ctx, binary, requested)
	if err != nil {
		return Check{
			Name:    "renderer_mode",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("probe failed (%v); using stream", err),
		}
	}
	source := "requested"
	if requested == process.ModeAuto || requested == "" {
		source = "probed"
	}
	return Check{
		Name:    "renderer_mode",
		Passed:  true,
		Message: fmt.Sprintf("%s (%s)", mode, source),
	}
}

// checkWorkspace verifies the session directory can be created and written.
func checkWorkspace(dir string) Check {
	if dir == "" {
		return Check{Name: "workspace", Passed: false, Message: "no workspace directory configured"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "workspace", Passed: false, Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}

	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return Check{Name: "workspace", Passed: false, Message: fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	name := f.Name()
	_, werr := f.WriteString("ok")
	cerr := f.Close()
	_ = os.Remove(name)
	if err := errors.Join(werr, cerr); err != nil {
		return Check{Name: "workspace", Passed: false, Message: fmt.Sprintf("%s not writable: %v", dir, err)}
	}

	return Check{Name: "workspace", Passed: true, Message: fmt.Sprintf("%s writable", dir)}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	FprintResults(os.Stdout, result)
}

// FprintResults prints the preflight check results to w.
func FprintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			if fix := suggestFix(check.Name); fix != "" {
				fmt.Fprintf(w, "    Fix: %s\n", fix)
			}
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "platform":
		return "build glsl2png for this OS and pass -renderer /path/to/glsl2png"
	case "renderer":
		return "pass -renderer or -bin-dir pointing at an executable glsl2png (chmod +x)"
	case "renderer_mode":
		return "set -mode stream or -mode args explicitly"
	case "workspace":
		return "choose a writable directory with -tmp-root"
	case "file_descriptors":
		return "ulimit -n 1024"
	default:
		return ""
	}
}
