// Package overlay swaps rendered frames onto the editor view without flicker.
//
// Each category (background, preview) has at most one Active overlay. When a
// new preview arrives the previous one becomes Superseded and is disposed
// only after GraceDelay, because applying an overlay and painting it are not
// atomic. Backgrounds are static and are disposed immediately when replaced.
package overlay

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultGraceDelay is how long a superseded preview stays on screen.
const DefaultGraceDelay = 300 * time.Millisecond

// Position is a zero-based line/character location in a document.
type Position struct {
	Line      int
	Character int
}

// Range is a span of a document, End exclusive.
type Range struct {
	Start Position
	End   Position
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", r.Start.Line, r.Start.Character, r.End.Line, r.End.Character)
}

// Category separates independent overlay slots.
type Category int

const (
	CategoryBackground Category = iota
	CategoryPreview
)

func (c Category) String() string {
	switch c {
	case CategoryBackground:
		return "background"
	case CategoryPreview:
		return "preview"
	default:
		return "unknown"
	}
}

// State is the lifecycle position of one overlay.
type State int

const (
	StateAbsent State = iota
	StateActive
	StateSuperseded
	StateDisposed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Decoration is what the host is asked to draw.
type Decoration struct {
	Category Category
	// ImageURL is a file URL, cache-busted for previews. Empty for a plain
	// background.
	ImageURL string
	Range    Range
}

// Handle is an applied decoration.
type Handle interface {
	Dispose()
}

// Host applies decorations to the editor view.
type Host interface {
	Apply(d Decoration) (Handle, error)
}

// CacheBust returns a file URL for path with a ?time=<unix ms> query so a
// reused file name is not served from a stale cache.
func CacheBust(path string, now time.Time) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{
		Scheme:   "file",
		Path:     p,
		RawQuery: "time=" + strconv.FormatInt(now.UnixMilli(), 10),
	}
	return u.String()
}
