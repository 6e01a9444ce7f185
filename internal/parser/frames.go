package parser

import (
	"sync/atomic"

	"github.com/randomizedcoder/go-shader-preview/internal/protocol"
)

// FrameParser turns renderer stdout lines into frame notifications.
// Lines that are not a decimal index are counted and otherwise ignored.
type FrameParser struct {
	onFrame     func(protocol.Frame)
	onMalformed func(line string)

	frames    atomic.Int64
	malformed atomic.Int64
}

// NewFrameParser creates a FrameParser calling onFrame for every frame in
// arrival order. onMalformed may be nil.
func NewFrameParser(onFrame func(protocol.Frame), onMalformed func(line string)) *FrameParser {
	return &FrameParser{onFrame: onFrame, onMalformed: onMalformed}
}

// ParseLine implements LineParser.
func (p *FrameParser) ParseLine(line string) {
	f, ok := protocol.ParseFrame(line)
	if !ok {
		p.malformed.Add(1)
		if p.onMalformed != nil {
			p.onMalformed(line)
		}
		return
	}
	p.frames.Add(1)
	if p.onFrame != nil {
		p.onFrame(f)
	}
}

// Stats returns the number of frames and malformed lines seen.
func (p *FrameParser) Stats() (frames, malformed int64) {
	return p.frames.Load(), p.malformed.Load()
}

var _ LineParser = (*FrameParser)(nil)
