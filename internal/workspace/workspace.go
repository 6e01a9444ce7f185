// Package workspace manages the per-session scratch directory shared with the
// renderer: the current shader source (in.frag) and the rendered frames
// (out<idx>.png). Files are overwritten in place; callers must not assume an
// earlier frame file survives a later render.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/randomizedcoder/go-shader-preview/internal/protocol"
)

// ShaderFile is the name of the shader source inside the workspace.
const ShaderFile = "in.frag"

// Workspace is <root>/<namespace>.
type Workspace struct {
	dir string
}

// New returns the workspace for namespace under root. An empty root means
// os.TempDir(). Nothing is created until Ensure.
func New(root, namespace string) *Workspace {
	if root == "" {
		root = os.TempDir()
	}
	return &Workspace{dir: filepath.Join(root, namespace)}
}

// Dir is the output directory passed to the renderer.
func (w *Workspace) Dir() string { return w.dir }

// ShaderPath is the path sent in Update commands.
func (w *Workspace) ShaderPath() string { return filepath.Join(w.dir, ShaderFile) }

// FramePath is where the renderer writes frame f.
func (w *Workspace) FramePath(f protocol.Frame) string {
	return filepath.Join(w.dir, f.FileName())
}

// Ensure creates the directory and its parents. An existing directory is
// fine.
func (w *Workspace) Ensure() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create workspace %s: %w", w.dir, err)
	}
	return nil
}

// WriteShader stores text as in.frag. The file is written to a temporary
// name and renamed so the renderer never observes a partial write. The
// directory is recreated if it was removed underneath us.
func (w *Workspace) WriteShader(text string) (string, error) {
	path := w.ShaderPath()
	if err := w.writeAtomic(path, []byte(text)); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err := w.Ensure(); err != nil {
			return "", err
		}
		if err := w.writeAtomic(path, []byte(text)); err != nil {
			return "", err
		}
	}
	return path, nil
}

func (w *Workspace) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(w.dir, ".in-*.frag")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write shader: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close shader: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename shader: %w", err)
	}
	return nil
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.dir)
}
