package process

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// =============================================================================
// Table-Driven Tests: buildArgs
// =============================================================================

func TestBuildArgs(t *testing.T) {
	launch := Launch{OutDir: "/tmp/ns", Elapsed: 1500 * time.Millisecond, ShaderPath: "/tmp/ns/in.frag"}

	tests := []struct {
		name   string
		config RendererConfig
		mode   Mode
		want   []string
	}{
		{
			name:   "streaming",
			config: *DefaultRendererConfig("glsl2png"),
			mode:   ModeStream,
			want:   []string{"-outdir", "/tmp/ns", "-time", "1.500", "-size", "720x450", "-hide", "-stdin"},
		},
		{
			name:   "argument",
			config: *DefaultRendererConfig("glsl2png"),
			mode:   ModeArgs,
			want:   []string{"-outdir", "/tmp/ns", "-time", "1.500", "-size", "720x450", "-hide", "/tmp/ns/in.frag"},
		},
		{
			name:   "custom size no hide extra args",
			config: RendererConfig{BinaryPath: "glsl2png", Size: "320x200", ExtraArgs: []string{"-vsync", "0"}},
			mode:   ModeStream,
			want:   []string{"-outdir", "/tmp/ns", "-time", "1.500", "-size", "320x200", "-vsync", "0", "-stdin"},
		},
		{
			name:   "empty size falls back",
			config: RendererConfig{BinaryPath: "glsl2png", Hide: true},
			mode:   ModeStream,
			want:   []string{"-outdir", "/tmp/ns", "-time", "1.500", "-size", DefaultSize, "-hide", "-stdin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			got, err := NewRenderer(&cfg).buildArgs(tt.mode, launch)
			if err != nil {
				t.Fatalf("buildArgs: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildArgs() =\n  %v\nwant\n  %v", got, tt.want)
			}
		})
	}
}

func TestBuildArgs_Errors(t *testing.T) {
	r := NewRenderer(DefaultRendererConfig("glsl2png"))

	tests := []struct {
		name   string
		mode   Mode
		launch Launch
	}{
		{"no outdir", ModeStream, Launch{}},
		{"args mode without shader", ModeArgs, Launch{OutDir: "/tmp"}},
		{"auto is not buildable", ModeAuto, Launch{OutDir: "/tmp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.buildArgs(tt.mode, tt.launch); err == nil {
				t.Error("expected error")
			}
			if _, err := r.BuildCommand(context.Background(), tt.mode, tt.launch); err == nil {
				t.Error("BuildCommand: expected error")
			}
		})
	}
}

func TestBuildCommand(t *testing.T) {
	r := NewRenderer(DefaultRendererConfig("/opt/veda/glsl2png"))
	cmd, err := r.BuildCommand(context.Background(), ModeStream, Launch{OutDir: "/tmp/ns"})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if cmd.Path != "/opt/veda/glsl2png" {
		t.Errorf("Path = %q", cmd.Path)
	}
	if cmd.Args[len(cmd.Args)-1] != "-stdin" {
		t.Errorf("last arg = %q, want -stdin", cmd.Args[len(cmd.Args)-1])
	}
	if r.Name() != "glsl2png" {
		t.Errorf("Name() = %q", r.Name())
	}
}

func TestCommandString(t *testing.T) {
	r := NewRenderer(DefaultRendererConfig("glsl2png"))
	got := r.CommandString(ModeArgs, Launch{OutDir: "/o", ShaderPath: "/o/in.frag"})
	want := "glsl2png -outdir /o -time 0.000 -size 720x450 -hide /o/in.frag"
	if got != want {
		t.Errorf("CommandString() = %q, want %q", got, want)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"720x450", 720, 450, false},
		{"64X32", 64, 32, false},
		{"720", 0, 0, true},
		{"0x10", 0, 0, true},
		{"ax10", 0, 0, true},
		{"10x-1", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := ParseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) err = %v", tt.in, err)
			}
			if w != tt.w || h != tt.h {
				t.Errorf("ParseSize(%q) = %d, %d", tt.in, w, h)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"auto", "stream", "args"} {
		if m, ok := ParseMode(s); !ok || string(m) != s {
			t.Errorf("ParseMode(%q) = %q, %v", s, m, ok)
		}
	}
	if _, ok := ParseMode("legacy"); ok {
		t.Error("ParseMode(legacy) should fail")
	}
}

// =============================================================================
// Platform selection
// =============================================================================

func TestResolveBinary(t *testing.T) {
	tests := []struct {
		name     string
		override string
		goos     string
		want     string
		wantErr  error
	}{
		{"darwin", "", "darwin", filepath.Join("/bin/veda", "glsl2png"), nil},
		{"windows", "", "windows", filepath.Join("/bin/veda", "glsl2png.exe"), nil},
		{"linux unsupported", "", "linux", "", ErrUnsupportedPlatform},
		{"override wins", "/usr/local/bin/glsl2png", "linux", "/usr/local/bin/glsl2png", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveBinary(tt.override, "/bin/veda", tt.goos)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveBinary() = %q, want %q", got, tt.want)
			}
		})
	}
}
