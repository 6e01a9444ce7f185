// Package protocol defines the messages exchanged with the glsl2png renderer.
//
// Streaming-mode renderers read one JSON record per line on stdin:
//
//	{"Type":"IMPORT_VIDEO","Args":["bg","/home/u/video.mp4"]}
//	{"Type":"UPDATE","Args":["/tmp/veda/in.frag"]}
//
// and write one decimal frame index per line on stdout for every render they
// complete. There is no request/response correlation: a frame always means
// "the most recent update is ready".
package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// CommandType is the wire name of a command.
type CommandType string

const (
	// TypeUpdate re-renders the shader at Args[0].
	TypeUpdate CommandType = "UPDATE"

	// TypeImportVideo binds the asset at Args[1] to the uniform named Args[0].
	TypeImportVideo CommandType = "IMPORT_VIDEO"
)

// Command is a directive for the renderer. Build it with Update or ImportAsset.
type Command struct {
	Type CommandType `json:"Type"`
	Args []string    `json:"Args"`
}

// Update returns a command asking the renderer to render the shader at path.
func Update(path string) Command {
	return Command{Type: TypeUpdate, Args: []string{path}}
}

// ImportAsset returns a command binding an external asset to a named slot.
func ImportAsset(name, absPath string) Command {
	return Command{Type: TypeImportVideo, Args: []string{name, absPath}}
}

// IsUpdate reports whether c is an UPDATE command.
func (c Command) IsUpdate() bool {
	return c.Type == TypeUpdate
}

// Path returns the shader path of an UPDATE command or the asset path of an
// IMPORT_VIDEO command.
func (c Command) Path() string {
	switch c.Type {
	case TypeUpdate:
		if len(c.Args) > 0 {
			return c.Args[0]
		}
	case TypeImportVideo:
		if len(c.Args) > 1 {
			return c.Args[1]
		}
	}
	return ""
}

// Validate checks the argument count for the command type.
func (c Command) Validate() error {
	switch c.Type {
	case TypeUpdate:
		if len(c.Args) != 1 {
			return fmt.Errorf("%s: want 1 arg, got %d", c.Type, len(c.Args))
		}
	case TypeImportVideo:
		if len(c.Args) != 2 {
			return fmt.Errorf("%s: want 2 args, got %d", c.Type, len(c.Args))
		}
	default:
		return fmt.Errorf("unknown command type %q", c.Type)
	}
	return nil
}

// String implements fmt.Stringer for logging.
func (c Command) String() string {
	return fmt.Sprintf("%s%v", c.Type, c.Args)
}

// MarshalLine encodes the command as a single newline-terminated JSON record.
func (c Command) MarshalLine() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", c.Type, err)
	}
	return append(b, '\n'), nil
}

// Encode writes each command's line to w in order. Lines are written one at a
// time so a partial failure leaves only whole records on the stream.
func Encode(w io.Writer, cmds ...Command) error {
	for _, c := range cmds {
		line, err := c.MarshalLine()
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("write %s: %w", c.Type, err)
		}
	}
	return nil
}

// FirstUpdate returns the index of the first UPDATE command, or -1.
func FirstUpdate(cmds []Command) int {
	for i, c := range cmds {
		if c.IsUpdate() {
			return i
		}
	}
	return -1
}
