package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Frame is a rendered output artifact, named out<Index>.png in the output
// directory. Indices increase per worker lifetime but may skip values.
type Frame struct {
	Index int
}

// FileName returns the on-disk name of the frame image.
func (f Frame) FileName() string {
	return fmt.Sprintf("out%d.png", f.Index)
}

// ParseFrame parses one stdout line from the renderer. Anything that is not a
// non-negative decimal integer is rejected.
func ParseFrame(line string) (Frame, bool) {
	s := strings.TrimSpace(line)
	if s == "" || s[0] == '+' || s[0] == '-' {
		return Frame{}, false
	}
	idx, err := strconv.Atoi(s)
	if err != nil {
		return Frame{}, false
	}
	return Frame{Index: idx}, true
}
