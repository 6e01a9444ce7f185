// Package editor stands in for the editor integration: a shader file on disk
// is the document and filesystem events are its change notifications.
package editor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/randomizedcoder/go-shader-preview/internal/overlay"
)

// DefaultViewportLines is the visible height assumed for a document.
const DefaultViewportLines = 40

// lineEnd is the character offset used for "end of line" in ranges.
const lineEnd = 9999

// FileDocument is a shader file previewed as an editor buffer.
type FileDocument struct {
	path          string
	viewportLines int

	mu    sync.Mutex
	lines int
}

// NewFileDocument opens path as a document. viewportLines <= 0 means
// DefaultViewportLines.
func NewFileDocument(path string, viewportLines int) (*FileDocument, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve document path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open document: %s is a directory", abs)
	}
	if viewportLines <= 0 {
		viewportLines = DefaultViewportLines
	}
	return &FileDocument{path: abs, viewportLines: viewportLines}, nil
}

// Path returns the absolute path of the document.
func (d *FileDocument) Path() string { return d.path }

// Dir returns the directory containing the document.
func (d *FileDocument) Dir() string { return filepath.Dir(d.path) }

// Text reads the current contents.
func (d *FileDocument) Text() (string, error) {
	b, err := os.ReadFile(d.path)
	if err != nil {
		return "", err
	}
	text := string(b)

	d.mu.Lock()
	d.lines = strings.Count(text, "\n") + 1
	d.mu.Unlock()
	return text, nil
}

// LineCount returns the number of lines seen by the last Text call.
func (d *FileDocument) LineCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines
}

// Viewport returns the first viewportLines lines, or the whole document if
// it is shorter.
func (d *FileDocument) Viewport() overlay.Range {
	end := min(max(d.LineCount(), 1), d.viewportLines)
	return overlay.Range{
		End: overlay.Position{Line: end, Character: lineEnd},
	}
}

// FullRange spans every line of the document.
func (d *FileDocument) FullRange() overlay.Range {
	return overlay.Range{
		End: overlay.Position{Line: d.LineCount(), Character: lineEnd},
	}
}
