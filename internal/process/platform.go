package process

import (
	"errors"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrUnsupportedPlatform means no renderer binary ships for this OS.
var ErrUnsupportedPlatform = errors.New("no renderer binary for this platform")

// BinaryName returns the bundled renderer file name for goos.
func BinaryName(goos string) (string, bool) {
	switch goos {
	case "darwin":
		return "glsl2png", true
	case "windows":
		return "glsl2png.exe", true
	default:
		return "", false
	}
}

// ResolveBinary picks the renderer binary. An explicit override always wins;
// otherwise the bundled binary under binDir is used for supported platforms.
func ResolveBinary(override, binDir string) (string, error) {
	return resolveBinary(override, binDir, runtime.GOOS)
}

func resolveBinary(override, binDir, goos string) (string, error) {
	if override != "" {
		return override, nil
	}
	name, ok := BinaryName(goos)
	if !ok {
		return "", ErrUnsupportedPlatform
	}
	return filepath.Join(binDir, name), nil
}

// Available reports whether the binary can be found.
func Available(path string) bool {
	_, err := exec.LookPath(path)
	return err == nil
}
