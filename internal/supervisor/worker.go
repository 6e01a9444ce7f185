package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-shader-preview/internal/parser"
	"github.com/randomizedcoder/go-shader-preview/internal/process"
	"github.com/randomizedcoder/go-shader-preview/internal/protocol"
)

// Worker is one live renderer process. It is owned by the Supervisor; no
// other component touches its streams.
type Worker struct {
	cmd    *exec.Cmd
	mode   process.Mode
	launch process.Launch
	pid    int
	start  time.Time

	// stdin is nil in argument mode.
	stdin  *os.File
	stdout *parser.LineWriter
	stderr *parser.LineWriter

	stdoutPipeline *parser.Pipeline
	stderrPipeline *parser.Pipeline

	// stopping marks an exit we asked for.
	stopping atomic.Bool

	done     chan struct{}
	exitCode int
	uptime   time.Duration
}

// PID returns the process ID.
func (w *Worker) PID() int { return w.pid }

// Launch returns the parameters the worker was started with.
func (w *Worker) Launch() process.Launch { return w.launch }

// Done is closed once the process has exited and its output is flushed.
func (w *Worker) Done() <-chan struct{} { return w.done }

// ExitCode is valid after Done is closed.
func (w *Worker) ExitCode() int { return w.exitCode }

func (w *Worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// write sends one command, giving up after timeout.
func (w *Worker) write(c protocol.Command, timeout time.Duration) error {
	if timeout > 0 {
		// Not every platform supports pipe deadlines; the write is then
		// unbounded.
		_ = w.stdin.SetWriteDeadline(time.Now().Add(timeout))
	}
	return protocol.Encode(w.stdin, c)
}

// discardOutput drops partial lines and everything written afterwards.
func (w *Worker) discardOutput() {
	w.stdout.Discard()
	w.stderr.Discard()
}

// terminate closes stdin and waits up to grace for a voluntary exit, then
// sends SIGTERM to the process group and waits killTimeout before SIGKILL.
// It reports whether SIGKILL was needed.
func (w *Worker) terminate(grace, killTimeout time.Duration) (forced bool) {
	w.stopping.Store(true)

	if w.stdin != nil {
		_ = w.stdin.Close()
		if waitDone(w.done, grace) {
			return false
		}
	}
	if w.exited() {
		return false
	}

	_ = terminateGroup(w.cmd)
	if waitDone(w.done, killTimeout) {
		return false
	}

	_ = killGroup(w.cmd)
	<-w.done
	return true
}

func waitDone(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}

	// Unknown error, assume exit code 1
	return 1
}
