// Package canvas is an in-memory overlay.Host. It stands in for an editor's
// decoration API: the TUI draws its current preview and the HTTP server
// serves it at /frame.
package canvas

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/randomizedcoder/go-shader-preview/internal/overlay"
)

// Layer is one applied decoration.
type Layer struct {
	ID         uint64
	Decoration overlay.Decoration
	// Path is the image file behind Decoration.ImageURL, if any.
	Path string
}

// Canvas records applied decorations. Safe for concurrent use.
type Canvas struct {
	mu       sync.Mutex
	nextID   uint64
	layers   []Layer
	onChange func()
}

// New creates an empty Canvas.
func New() *Canvas {
	return &Canvas{}
}

// OnChange registers fn to be called after every apply or dispose. fn runs
// without the canvas lock held.
func (c *Canvas) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Apply implements overlay.Host.
func (c *Canvas) Apply(d overlay.Decoration) (overlay.Handle, error) {
	var path string
	if d.ImageURL != "" {
		p, err := PathFromURL(d.ImageURL)
		if err != nil {
			return nil, err
		}
		path = p
	}

	c.mu.Lock()
	c.nextID++
	l := Layer{ID: c.nextID, Decoration: d, Path: path}
	c.layers = append(c.layers, l)
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	return &handle{canvas: c, id: l.ID}, nil
}

type handle struct {
	canvas *Canvas
	id     uint64
	once   sync.Once
}

func (h *handle) Dispose() {
	h.once.Do(func() { h.canvas.remove(h.id) })
}

func (c *Canvas) remove(id uint64) {
	c.mu.Lock()
	for i, l := range c.layers {
		if l.ID == id {
			c.layers = append(c.layers[:i], c.layers[i+1:]...)
			break
		}
	}
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Layers returns every applied layer, oldest first. During a swap both the
// outgoing and incoming previews are present.
func (c *Canvas) Layers() []Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Layer, len(c.layers))
	copy(out, c.layers)
	return out
}

// Top returns the most recently applied layer of a category.
func (c *Canvas) Top(cat overlay.Category) (Layer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.layers) - 1; i >= 0; i-- {
		if c.layers[i].Decoration.Category == cat {
			return c.layers[i], true
		}
	}
	return Layer{}, false
}

// Preview returns the visible preview layer.
func (c *Canvas) Preview() (Layer, bool) {
	return c.Top(overlay.CategoryPreview)
}

// PathFromURL returns the filesystem path of a file URL.
func PathFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported image url scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}
