// Package directive reads the metadata block a shader may declare in its
// leading comment:
//
//	/*{
//	  IMPORTED: {
//	    bg: { PATH: "~/video.mp4" },
//	  },
//	}*/
//
// The block is a relaxed JSON object (unquoted keys, trailing commas and
// single-quoted strings are accepted). Malformed or missing metadata yields no
// imports; it never fails a render.
package directive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/randomizedcoder/go-shader-preview/internal/protocol"
)

// ErrNoHeader is returned by ParseHeader when the text has no block comment.
var ErrNoHeader = errors.New("no header block comment")

// Import is one resolved IMPORTED entry.
type Import struct {
	Name string
	Path string // absolute
}

// Entry is an IMPORTED entry as declared, before path resolution.
type Entry struct {
	Name string
	Path string
}

// Header is the parsed metadata block.
type Header struct {
	// Imported preserves declaration order.
	Imported []Entry
}

type rawHeader struct {
	Imported json.RawMessage `json:"IMPORTED"`
}

type rawEntry struct {
	Path string `json:"PATH"`
}

// ExtractHeader returns the contents of the first /* ... */ comment in text.
// A "/*" inside a // line comment or a quoted literal does not open one.
func ExtractHeader(text string) (string, bool) {
	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case strings.HasPrefix(text[i:], "//"):
			nl := strings.IndexByte(text[i:], '\n')
			if nl < 0 {
				return "", false
			}
			i += nl
		case strings.HasPrefix(text[i:], "/*"):
			body := text[i+2:]
			end := strings.Index(body, "*/")
			if end < 0 {
				return "", false
			}
			return body[:end], true
		case c == '"' || c == '\'':
			i = skipQuoted(text, i)
		}
	}
	return "", false
}

// skipQuoted returns the index of the quote closing the literal opened at
// text[start], or of the end of its line if it is unterminated.
func skipQuoted(text string, start int) int {
	q := text[start]
	for j := start + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case q, '\n':
			return j
		}
	}
	return len(text)
}

// ParseHeader extracts and parses the metadata block. Unlike Resolver.Parse it
// reports why parsing failed.
func ParseHeader(text string) (Header, error) {
	block, ok := ExtractHeader(text)
	if !ok {
		return Header{}, ErrNoHeader
	}

	strict, err := relaxedToJSON(block)
	if err != nil {
		return Header{}, fmt.Errorf("relaxed json: %w", err)
	}

	var raw rawHeader
	if err := json.Unmarshal(strict, &raw); err != nil {
		return Header{}, fmt.Errorf("header object: %w", err)
	}
	if len(raw.Imported) == 0 || string(raw.Imported) == "null" {
		return Header{}, nil
	}

	entries, err := orderedEntries(raw.Imported)
	if err != nil {
		return Header{}, fmt.Errorf("IMPORTED: %w", err)
	}
	return Header{Imported: entries}, nil
}

// orderedEntries walks the IMPORTED object with the token API so the
// declaration order survives. A later duplicate name replaces the earlier
// path in place.
func orderedEntries(raw json.RawMessage) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("must be an object")
	}

	var entries []Entry
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		var e rawEntry
		if err := json.Unmarshal(value, &e); err != nil {
			// Not an object with a string PATH; keep the name so the
			// resolver can report it.
			e.Path = ""
		}

		if i, dup := index[name]; dup {
			entries[i].Path = e.Path
			continue
		}
		index[name] = len(entries)
		entries = append(entries, Entry{Name: name, Path: e.Path})
	}
	return entries, nil
}

// Resolver turns shader text into resolved imports.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a Resolver logging skipped entries to logger.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Parse returns the imports declared by text, resolved against docDir (the
// directory of the document being edited, not the process working
// directory). It never fails: problems are logged and yield fewer imports.
func (r *Resolver) Parse(text, docDir string) []Import {
	h, err := ParseHeader(text)
	if err != nil {
		if !errors.Is(err, ErrNoHeader) {
			r.logger.Debug("directive_parse_failed", "error", err)
		}
		return nil
	}

	imports := make([]Import, 0, len(h.Imported))
	for _, e := range h.Imported {
		if e.Name == "" || e.Path == "" {
			r.logger.Warn("directive_import_skipped", "name", e.Name, "reason", "missing PATH")
			continue
		}
		abs, err := ResolvePath(e.Path, docDir)
		if err != nil {
			r.logger.Warn("directive_import_skipped", "name", e.Name, "path", e.Path, "error", err)
			continue
		}
		imports = append(imports, Import{Name: e.Name, Path: abs})
	}
	return imports
}

// ResolvePath expands a leading ~ to the home directory and resolves a
// relative result against docDir.
func ResolvePath(declared, docDir string) (string, error) {
	p, err := homedir.Expand(declared)
	if err != nil {
		return "", err
	}
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	if docDir == "" {
		return "", errors.New("relative path and the document has no directory")
	}
	return filepath.Join(docDir, p), nil
}

// Commands converts imports into renderer commands, preserving order.
func Commands(imports []Import) []protocol.Command {
	cmds := make([]protocol.Command, 0, len(imports))
	for _, imp := range imports {
		cmds = append(cmds, protocol.ImportAsset(imp.Name, imp.Path))
	}
	return cmds
}
