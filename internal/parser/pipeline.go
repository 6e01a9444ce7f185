// Package parser turns the renderer's output streams into parsed events.
//
// Renderer output is push-based: the OS delivers stdout/stderr in arbitrary
// chunks that may split or merge lines. A LineWriter reassembles complete
// lines and feeds them into a Pipeline, which hands them to a LineParser on
// its own goroutine.
//
// Two-Layer Architecture:
//
//	Layer 1 (LineWriter): reassembles lines, never blocks the renderer
//	Layer 2 (Parser):     consumes from a bounded channel at its own pace
package parser

import (
	"sync"
	"sync/atomic"
)

// LineParser consumes complete lines (without the trailing newline).
type LineParser interface {
	ParseLine(line string)
}

// Pipeline is a lossy bounded queue between a line source and a LineParser.
//
// If the parser cannot keep up, lines are dropped rather than blocking the
// writer, because a blocked stdout pipe stalls the renderer itself.
type Pipeline struct {
	stream     string // "stdout" or "stderr"
	bufferSize int

	lineChan  chan string
	closeOnce sync.Once
	discarded atomic.Bool

	linesRead    atomic.Int64
	linesDropped atomic.Int64
	linesParsed  atomic.Int64

	linesDiscarded atomic.Int64

	dropThreshold float64
}

// NewPipeline creates a pipeline for the named stream.
//
// Parameters:
//   - stream: "stdout" or "stderr", for identification in logs
//   - bufferSize: channel buffer size in lines
//   - dropThreshold: fraction (0.0-1.0) above which the stream counts as degraded
func NewPipeline(stream string, bufferSize int, dropThreshold float64) *Pipeline {
	if bufferSize < 1 {
		bufferSize = 256
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01
	}

	return &Pipeline{
		stream:        stream,
		bufferSize:    bufferSize,
		lineChan:      make(chan string, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// FeedLine queues a line. Returns false if it was dropped because the channel
// is full. Must not be called after CloseChannel.
func (p *Pipeline) FeedLine(line string) bool {
	p.linesRead.Add(1)

	select {
	case p.lineChan <- line:
		return true
	default:
		p.linesDropped.Add(1)
		return false
	}
}

// CloseChannel closes the line channel, which ends RunParser once the
// remaining lines are consumed. Safe to call multiple times.
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// Discard closes the channel and makes RunParser skip the lines still
// queued in it.
func (p *Pipeline) Discard() {
	p.discarded.Store(true)
	p.CloseChannel()
}

// RunParser consumes lines until CloseChannel is called.
// MUST run in a dedicated goroutine.
func (p *Pipeline) RunParser(parser LineParser) {
	for line := range p.lineChan {
		if p.discarded.Load() {
			p.linesDiscarded.Add(1)
			continue
		}
		parser.ParseLine(line)
		p.linesParsed.Add(1)
	}
}

// Discarded returns how many queued lines were skipped after Discard.
func (p *Pipeline) Discarded() int64 {
	return p.linesDiscarded.Load()
}

// Stats returns lines read, dropped and parsed.
func (p *Pipeline) Stats() (read, dropped, parsed int64) {
	return p.linesRead.Load(), p.linesDropped.Load(), p.linesParsed.Load()
}

// DropRate returns dropped/read as a fraction.
func (p *Pipeline) DropRate() float64 {
	read := p.linesRead.Load()
	if read == 0 {
		return 0
	}
	return float64(p.linesDropped.Load()) / float64(read)
}

// IsDegraded returns true if the drop rate exceeds the configured threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > p.dropThreshold
}

// Stream returns "stdout" or "stderr".
func (p *Pipeline) Stream() string {
	return p.stream
}

// NoopParser discards every line.
type NoopParser struct{}

// ParseLine does nothing.
func (NoopParser) ParseLine(string) {}

// ParserFunc adapts a function to LineParser.
type ParserFunc func(line string)

// ParseLine calls f(line).
func (f ParserFunc) ParseLine(line string) { f(line) }
