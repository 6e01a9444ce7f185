package parser

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// MaxLineLength bounds a buffered partial line. A renderer that writes more
// than this without a newline gets its line truncated.
const MaxLineLength = 64 * 1024

// LineWriter is a push-based line source: assign it to exec.Cmd.Stdout or
// Stderr and every complete newline-terminated record is fed to the pipeline.
// A trailing partial line is held until its newline arrives.
//
// Lifecycle:
//
//  1. w := NewLineWriter(pipeline)
//  2. cmd.Stdout = w; go pipeline.RunParser(p)
//  3. after cmd.Wait(): w.Close()  (flushes nothing, closes the pipeline)
//     or on Stop:      w.Discard() (drops partial, queued and later output)
type LineWriter struct {
	pipeline *Pipeline

	mu       sync.Mutex
	partial  []byte
	closed   bool
	overflow bool

	bytesRead atomic.Int64
	linesRead atomic.Int64
}

// NewLineWriter creates a LineWriter feeding pipeline.
func NewLineWriter(pipeline *Pipeline) *LineWriter {
	return &LineWriter{pipeline: pipeline}
}

// Write implements io.Writer. It never returns an error so the copying
// goroutine in os/exec keeps draining the pipe.
func (w *LineWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.bytesRead.Add(int64(n))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return n, nil
	}

	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.appendPartial(p)
			break
		}
		w.appendPartial(p[:i])
		line := string(bytes.TrimSuffix(w.partial, []byte{'\r'}))
		w.partial = w.partial[:0]
		w.overflow = false
		w.linesRead.Add(1)
		w.pipeline.FeedLine(line)
		p = p[i+1:]
	}
	return n, nil
}

func (w *LineWriter) appendPartial(b []byte) {
	room := MaxLineLength - len(w.partial)
	if room <= 0 {
		w.overflow = true
		return
	}
	if len(b) > room {
		b = b[:room]
		w.overflow = true
	}
	w.partial = append(w.partial, b...)
}

// Close closes the pipeline. An unterminated trailing line is not a complete
// record and is dropped. Safe to call multiple times.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.partial = nil
	w.pipeline.CloseChannel()
	return nil
}

// Discard drops buffered partial output, the complete lines still queued in
// the pipeline, and everything written afterwards.
func (w *LineWriter) Discard() {
	w.pipeline.Discard()
	_ = w.Close()
}

// Pending returns the number of buffered bytes of an incomplete line.
func (w *LineWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.partial)
}

// Stats returns (bytesRead, linesRead, healthy).
func (w *LineWriter) Stats() (bytesRead int64, linesRead int64, healthy bool) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	return w.bytesRead.Load(), w.linesRead.Load(), !closed
}
