package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/randomizedcoder/go-shader-preview/internal/process"
	"github.com/randomizedcoder/go-shader-preview/internal/protocol"
)

// Transport is how commands reach the renderer. One is chosen when the
// Supervisor is built and never changes. Methods are called with the
// Supervisor's submit lock held.
type Transport interface {
	Mode() process.Mode

	// Start prepares the transport after EnsureStarted.
	Start(ctx context.Context) error

	// Submit delivers cmds in order.
	Submit(ctx context.Context, cmds []protocol.Command) error
}

func newTransport(s *Supervisor) Transport {
	if s.mode == process.ModeArgs {
		return &argTransport{s: s}
	}
	return &streamTransport{s: s}
}

// streamTransport keeps one worker per session and writes JSON lines to
// its stdin.
type streamTransport struct {
	s *Supervisor
}

func (t *streamTransport) Mode() process.Mode { return process.ModeStream }

func (t *streamTransport) Start(ctx context.Context) error {
	_, err := t.ensureWorker(ctx)
	return err
}

func (t *streamTransport) ensureWorker(ctx context.Context) (*Worker, error) {
	if w := t.s.liveWorker(); w != nil {
		return w, nil
	}
	return t.s.spawn(ctx, t.s.launch())
}

func (t *streamTransport) Submit(ctx context.Context, cmds []protocol.Command) error {
	w, err := t.ensureWorker(ctx)
	if err != nil {
		return err
	}

	for _, c := range cmds {
		if err := w.write(c, t.s.writeTimeout); err != nil {
			t.s.logger.Warn("worker_write_failed", "pid", w.pid, "command", c.String(), "error", err)
			if errors.Is(err, os.ErrDeadlineExceeded) {
				t.s.abandon(w)
			}
			return fmt.Errorf("worker %d: %w", w.pid, err)
		}
		t.s.commands.Add(1)
		t.s.logger.Debug("command_sent", "pid", w.pid, "command", c.String())
	}
	return nil
}

// argTransport spawns one worker per render with the shader path as a
// launch argument. It cannot deliver imports.
type argTransport struct {
	s *Supervisor
}

func (t *argTransport) Mode() process.Mode { return process.ModeArgs }

func (t *argTransport) Start(context.Context) error { return nil }

func (t *argTransport) Submit(ctx context.Context, cmds []protocol.Command) error {
	idx := protocol.FirstUpdate(cmds)
	if idx < 0 {
		t.s.logger.Debug("submit_without_update", "commands", len(cmds))
		return nil
	}

	imports := 0
	for _, c := range cmds {
		if c.Type == protocol.TypeImportVideo {
			imports++
		}
	}
	if imports > 0 {
		t.s.logger.Warn("imports_dropped",
			"count", imports,
			"reason", "argument-mode renderer takes no commands",
		)
	}

	// A newer render makes the previous one-shot worker obsolete.
	t.s.mu.Lock()
	prev := t.s.worker
	t.s.worker = nil
	t.s.mu.Unlock()
	if prev != nil && !prev.exited() {
		prev.stopping.Store(true)
		prev.discardOutput()
		prev.terminate(0, t.s.killTimeout)
	}

	l := t.s.launch()
	l.ShaderPath = cmds[idx].Path()
	if _, err := t.s.spawn(ctx, l); err != nil {
		return err
	}
	t.s.commands.Add(1)
	return nil
}
