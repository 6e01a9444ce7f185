package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultSize is the render size used when none is configured.
const DefaultSize = "720x450"

// RendererConfig holds configuration for renderer process execution.
type RendererConfig struct {
	// BinaryPath is the path to the glsl2png binary.
	BinaryPath string

	// Size is the output image size, WxH.
	Size string

	// Hide keeps the renderer window hidden.
	Hide bool

	// ExtraArgs are appended before the mode-specific trailing arguments.
	ExtraArgs []string
}

// DefaultRendererConfig returns a RendererConfig with sensible defaults.
func DefaultRendererConfig(binary string) *RendererConfig {
	return &RendererConfig{
		BinaryPath: binary,
		Size:       DefaultSize,
		Hide:       true,
	}
}

// ParseSize splits a WxH string.
func ParseSize(s string) (w, h int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q: want WxH", s)
	}
	if w, err = strconv.Atoi(ws); err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("size %q: bad width", s)
	}
	if h, err = strconv.Atoi(hs); err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("size %q: bad height", s)
	}
	return w, h, nil
}

// Renderer implements Runner for glsl2png.
type Renderer struct {
	config *RendererConfig
}

var _ Runner = (*Renderer)(nil)

// NewRenderer creates a renderer runner with the given configuration.
func NewRenderer(cfg *RendererConfig) *Renderer {
	return &Renderer{config: cfg}
}

// Name returns "glsl2png".
func (r *Renderer) Name() string {
	return "glsl2png"
}

// Config returns the renderer configuration.
func (r *Renderer) Config() *RendererConfig {
	return r.config
}

// BuildCommand creates an exec.Cmd for the renderer.
func (r *Renderer) BuildCommand(ctx context.Context, mode Mode, l Launch) (*exec.Cmd, error) {
	args, err := r.buildArgs(mode, l)
	if err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, r.config.BinaryPath, args...), nil
}

// buildArgs constructs the renderer arguments:
//
//	-outdir <dir> -time <s> -size <WxH> -hide [extra...] -stdin
//	-outdir <dir> -time <s> -size <WxH> -hide [extra...] <shaderPath>
func (r *Renderer) buildArgs(mode Mode, l Launch) ([]string, error) {
	if l.OutDir == "" {
		return nil, errors.New("renderer: empty output directory")
	}

	size := r.config.Size
	if size == "" {
		size = DefaultSize
	}

	args := []string{
		"-outdir", l.OutDir,
		"-time", strconv.FormatFloat(l.Elapsed.Seconds(), 'f', 3, 64),
		"-size", size,
	}
	if r.config.Hide {
		args = append(args, "-hide")
	}
	args = append(args, r.config.ExtraArgs...)

	switch mode {
	case ModeStream:
		args = append(args, "-stdin")
	case ModeArgs:
		if l.ShaderPath == "" {
			return nil, errors.New("renderer: argument mode needs a shader path")
		}
		args = append(args, l.ShaderPath)
	default:
		return nil, fmt.Errorf("renderer: unresolved mode %q", mode)
	}
	return args, nil
}

// CommandString returns the command that would be executed (for debugging).
func (r *Renderer) CommandString(mode Mode, l Launch) string {
	args, err := r.buildArgs(mode, l)
	if err != nil {
		return r.config.BinaryPath + " <" + err.Error() + ">"
	}
	return r.config.BinaryPath + " " + strings.Join(args, " ")
}
