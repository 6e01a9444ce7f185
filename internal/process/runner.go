// Package process builds command lines for the external glsl2png renderer.
package process

import (
	"context"
	"os/exec"
	"time"
)

// Mode selects the renderer protocol generation.
type Mode string

const (
	// ModeAuto probes the binary at startup.
	ModeAuto Mode = "auto"

	// ModeStream spawns one renderer per session and feeds it JSON
	// commands on stdin.
	ModeStream Mode = "stream"

	// ModeArgs spawns one renderer per render with the shader path as a
	// launch argument.
	ModeArgs Mode = "args"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(s); m {
	case ModeAuto, ModeStream, ModeArgs:
		return m, true
	}
	return "", false
}

// Launch carries the per-spawn parameters.
type Launch struct {
	// OutDir is where the renderer writes out<idx>.png.
	OutDir string

	// Elapsed is the shader clock at launch: time since the session origin.
	Elapsed time.Duration

	// ShaderPath is the shader to render (argument mode only).
	ShaderPath string
}

// Runner creates renderer commands.
// This interface allows the supervisor to be process-agnostic.
type Runner interface {
	// BuildCommand returns a ready-to-start command. The command should NOT
	// be started yet.
	BuildCommand(ctx context.Context, mode Mode, l Launch) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}
