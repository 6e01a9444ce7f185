package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-shader-preview/internal/parser"
	"github.com/randomizedcoder/go-shader-preview/internal/process"
	"github.com/randomizedcoder/go-shader-preview/internal/protocol"
)

var (
	// ErrDisabled is returned by every operation when no renderer exists
	// for this platform.
	ErrDisabled = errors.New("renderer disabled on this platform")

	// ErrThrottled is returned when a respawn is refused because the
	// renderer keeps crashing and the backoff delay has not elapsed. The
	// returned error is a *ThrottledError.
	ErrThrottled = errors.New("renderer respawn throttled")

	// ErrNotStarted is returned by Submit before EnsureStarted.
	ErrNotStarted = errors.New("supervisor not started")
)

// ThrottledError reports a refused respawn and how long until the next one
// is allowed.
type ThrottledError struct {
	RetryIn time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrThrottled, e.RetryIn.Round(time.Millisecond))
}

func (e *ThrottledError) Unwrap() error { return ErrThrottled }

// ProcessBuilder creates renderer commands.
// This interface allows the supervisor to be decoupled from glsl2png specifics.
type ProcessBuilder interface {
	BuildCommand(ctx context.Context, mode process.Mode, l process.Launch) (*exec.Cmd, error)
	Name() string
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the supervisor state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when a worker process starts.
	OnStart func(pid int)

	// OnExit is called when a worker exits. crashed is false for exits
	// requested by Stop or by an argument-mode replacement, and for clean
	// argument-mode exits.
	OnExit func(pid, exitCode int, uptime time.Duration, crashed bool)

	// OnRepeatedFailure is called once when the consecutive crash count
	// reaches MaxConsecutiveFailures. It re-arms after a healthy frame.
	OnRepeatedFailure func(failures int)

	// OnMalformed is called for every stdout line that is not a frame.
	OnMalformed func(line string)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	// Builder creates renderer commands. Nil disables the supervisor.
	Builder ProcessBuilder

	// Mode is ModeStream or ModeArgs. It never changes for the lifetime of
	// the Supervisor. Empty or ModeAuto means ModeStream.
	Mode process.Mode

	Backoff   *Backoff
	Logger    *slog.Logger
	Callbacks Callbacks

	// StderrParser receives renderer diagnostics. Defaults to NoopParser.
	StderrParser parser.LineParser

	// MaxConsecutiveFailures before OnRepeatedFailure fires (default 3).
	MaxConsecutiveFailures int

	// StopGrace is how long Stop waits after closing stdin (default 500ms).
	StopGrace time.Duration

	// KillTimeout is how long to wait after SIGTERM before SIGKILL
	// (default 2s).
	KillTimeout time.Duration

	// WriteTimeout bounds one command write to a streaming worker's stdin
	// (default 2s). A worker that misses it is abandoned.
	WriteTimeout time.Duration

	// Output pipeline sizing.
	BufferSize    int
	DropThreshold float64
}

// Supervisor manages the lifecycle of the renderer worker.
type Supervisor struct {
	builder      ProcessBuilder
	mode         process.Mode
	transport    Transport
	backoff      *Backoff
	logger       *slog.Logger
	callbacks    Callbacks
	stderrParser parser.LineParser

	maxFailures   int
	stopGrace     time.Duration
	killTimeout   time.Duration
	writeTimeout  time.Duration
	bufferSize    int
	dropThreshold float64

	// submitMu serializes EnsureStarted and Submit so commands reach the
	// worker in caller order.
	submitMu sync.Mutex

	// mu guards the fields below. Never held across blocking I/O.
	mu        sync.Mutex
	worker    *Worker
	outDir    string
	origin    time.Time
	started   bool
	failures  int
	notified  bool
	nextSpawn time.Time

	state   State
	stateMu sync.RWMutex

	frameMu        sync.RWMutex
	frameListeners []func(protocol.Frame)

	spawns    atomic.Int64
	crashes   atomic.Int64
	commands  atomic.Int64
	frames    atomic.Int64
	malformed atomic.Int64
	dropped   atomic.Int64
}

// New creates a Supervisor. A nil Builder yields a disabled Supervisor.
func New(cfg Config) *Supervisor {
	s := &Supervisor{
		builder:       cfg.Builder,
		mode:          cfg.Mode,
		backoff:       cfg.Backoff,
		logger:        cfg.Logger,
		callbacks:     cfg.Callbacks,
		stderrParser:  cfg.StderrParser,
		maxFailures:   cfg.MaxConsecutiveFailures,
		stopGrace:     cfg.StopGrace,
		killTimeout:   cfg.KillTimeout,
		writeTimeout:  cfg.WriteTimeout,
		bufferSize:    cfg.BufferSize,
		dropThreshold: cfg.DropThreshold,
		state:         StateIdle,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.backoff == nil {
		s.backoff = NewBackoff(time.Now().UnixNano(), DefaultBackoffConfig())
	}
	if s.stderrParser == nil {
		s.stderrParser = parser.NoopParser{}
	}
	if s.maxFailures <= 0 {
		s.maxFailures = 3
	}
	if s.stopGrace <= 0 {
		s.stopGrace = 500 * time.Millisecond
	}
	if s.killTimeout <= 0 {
		s.killTimeout = 2 * time.Second
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 2 * time.Second
	}
	if s.mode == "" || s.mode == process.ModeAuto {
		s.mode = process.ModeStream
	}

	if s.builder == nil {
		s.state = StateDisabled
		s.logger.Warn("renderer_disabled", "reason", "no renderer binary for this platform")
		return s
	}
	s.transport = newTransport(s)
	return s
}

// EnsureStarted records the output directory and shader clock origin and,
// in streaming mode, spawns the worker if none is live. Argument mode defers
// spawning to Submit.
func (s *Supervisor) EnsureStarted(ctx context.Context, outDir string, origin time.Time) error {
	if s.Disabled() {
		return ErrDisabled
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	s.outDir = outDir
	s.origin = origin
	s.started = true
	s.mu.Unlock()

	if s.State() == StateStopped {
		s.setState(StateIdle)
	}
	return s.transport.Start(ctx)
}

// Submit delivers cmds to the worker in order, spawning one if needed.
func (s *Supervisor) Submit(ctx context.Context, cmds []protocol.Command) error {
	if s.Disabled() {
		return ErrDisabled
	}
	if len(cmds) == 0 {
		return nil
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	return s.transport.Submit(ctx, cmds)
}

// OnFrame registers a listener called with every frame in arrival order.
// Listeners run on the output goroutine and must not block for long.
func (s *Supervisor) OnFrame(fn func(protocol.Frame)) {
	s.frameMu.Lock()
	s.frameListeners = append(s.frameListeners, fn)
	s.frameMu.Unlock()
}

// Stop terminates the live worker: close stdin, wait StopGrace, SIGTERM the
// process group, wait KillTimeout, SIGKILL. Partial output is discarded.
// Idempotent; a later EnsureStarted spawns afresh. The error only reports
// that the worker had to be killed.
func (s *Supervisor) Stop() error {
	if s.Disabled() {
		return nil
	}

	s.mu.Lock()
	w := s.worker
	s.worker = nil
	s.started = false
	s.mu.Unlock()

	s.setState(StateStopped)
	if w == nil {
		s.logger.Debug("supervisor_stop_noop")
		return nil
	}

	w.stopping.Store(true)
	w.discardOutput()
	if w.terminate(s.stopGrace, s.killTimeout) {
		s.logger.Warn("force_killed_worker", "pid", w.pid)
		return fmt.Errorf("worker %d did not exit gracefully", w.pid)
	}
	s.logger.Info("worker_stopped", "pid", w.pid)
	return nil
}

// spawn starts a worker. Called with submitMu held.
//
// The worker outlives ctx: only Stop ends it, so that cancellation still
// goes through the stdin, SIGTERM, SIGKILL sequence.
func (s *Supervisor) spawn(ctx context.Context, l process.Launch) (*Worker, error) {
	if wait := s.throttled(); wait > 0 {
		s.logger.Warn("worker_spawn_throttled", "retry_in", wait.String())
		return nil, &ThrottledError{RetryIn: wait}
	}

	s.setState(StateStarting)

	cmd, err := s.builder.BuildCommand(context.WithoutCancel(ctx), s.mode, l)
	if err != nil {
		s.logger.Error("failed_to_build_command", "error", err)
		s.setState(StateIdle)
		return nil, err
	}

	w := &Worker{
		cmd:    cmd,
		mode:   s.mode,
		launch: l,
		done:   make(chan struct{}),
	}

	// A plain pipe rather than cmd.StdinPipe so writes can carry a deadline.
	var stdinRead *os.File
	if s.mode == process.ModeStream {
		r, pw, err := os.Pipe()
		if err != nil {
			s.setState(StateIdle)
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		cmd.Stdin = r
		stdinRead = r
		w.stdin = pw
	}

	w.stdoutPipeline = parser.NewPipeline("stdout", s.bufferSize, s.dropThreshold)
	w.stderrPipeline = parser.NewPipeline("stderr", s.bufferSize, s.dropThreshold)
	w.stdout = parser.NewLineWriter(w.stdoutPipeline)
	w.stderr = parser.NewLineWriter(w.stderrPipeline)
	cmd.Stdout = w.stdout
	cmd.Stderr = w.stderr

	setProcAttr(cmd)
	cmd.WaitDelay = s.killTimeout

	s.logger.Debug("worker_spawning", "mode", s.mode, "cmd", strings.Join(cmd.Args, " "))

	w.start = time.Now()
	err = cmd.Start()
	if stdinRead != nil {
		// The child has its own copy.
		_ = stdinRead.Close()
	}
	if err != nil {
		if w.stdin != nil {
			_ = w.stdin.Close()
		}
		w.stdout.Close()
		w.stderr.Close()
		s.logger.Error("failed_to_start_process", "error", err)
		notify, failures := s.recordCrash(0, 1)
		s.crashes.Add(1)
		s.setState(StateIdle)
		if notify {
			s.notifyRepeated(failures)
		}
		return nil, fmt.Errorf("start %s: %w", s.builder.Name(), err)
	}
	w.pid = cmd.Process.Pid

	frameParser := parser.NewFrameParser(s.dispatchFrame, s.handleMalformed)
	go w.stdoutPipeline.RunParser(frameParser)
	go w.stderrPipeline.RunParser(s.stderrParser)

	s.mu.Lock()
	s.worker = w
	s.mu.Unlock()
	s.spawns.Add(1)
	s.setState(StateRunning)

	s.logger.Info("worker_started",
		"pid", w.pid,
		"mode", s.mode,
		"outdir", l.OutDir,
		"time", l.Elapsed.Seconds(),
	)
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(w.pid)
	}

	go s.wait(w)
	return w, nil
}

// wait is the single goroutine observing a worker's exit.
func (s *Supervisor) wait(w *Worker) {
	err := w.cmd.Wait()
	w.uptime = time.Since(w.start)
	w.exitCode = extractExitCode(err)

	w.stdout.Close()
	w.stderr.Close()
	close(w.done)

	s.handleExit(w)
}

func (s *Supervisor) handleExit(w *Worker) {
	requested := w.stopping.Load()
	crashed := !requested && (w.mode == process.ModeStream || w.exitCode != 0)

	s.mu.Lock()
	current := s.worker == w
	if current {
		s.worker = nil
	}
	s.mu.Unlock()

	notify, failures := false, 0
	if crashed {
		// Streak first: a caller that sees the crash count also sees the
		// throttle it implies.
		notify, failures = s.recordCrash(w.uptime, w.exitCode)
		s.crashes.Add(1)
	}

	level := slog.LevelInfo
	if crashed {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "worker_exited",
		"pid", w.pid,
		"exit_code", w.exitCode,
		"uptime", w.uptime.String(),
		"requested", requested,
		"crashed", crashed,
	)
	s.logPipelineStats(w)

	if current && s.State() == StateRunning {
		s.setState(StateIdle)
	}

	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(w.pid, w.exitCode, w.uptime, crashed)
	}
	if notify {
		s.notifyRepeated(failures)
	}
}

// abandon detaches a worker that stopped reading its stdin and terminates
// it in the background. The next render spawns a fresh one.
func (s *Supervisor) abandon(w *Worker) {
	s.mu.Lock()
	current := s.worker == w
	if current {
		s.worker = nil
	}
	s.mu.Unlock()

	s.logger.Warn("worker_unresponsive", "pid", w.pid, "write_timeout", s.writeTimeout.String())
	w.stopping.Store(true)
	w.discardOutput()
	if current {
		s.setState(StateIdle)
	}
	go w.terminate(0, s.killTimeout)
}

func (s *Supervisor) notifyRepeated(failures int) {
	s.logger.Error("worker_repeated_failure", "consecutive_failures", failures)
	if s.callbacks.OnRepeatedFailure != nil {
		s.callbacks.OnRepeatedFailure(failures)
	}
}

// recordCrash counts a failure. The first crash of a streak leaves the next
// spawn unthrottled; later ones delay it by the backoff. It reports whether
// the repeated-failure notice should fire.
func (s *Supervisor) recordCrash(uptime time.Duration, exitCode int) (notify bool, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ShouldReset(uptime, exitCode) {
		s.backoff.Reset()
		s.failures = 0
	}
	s.failures++
	if s.failures > 1 {
		s.nextSpawn = time.Now().Add(s.backoff.Next())
	} else {
		s.nextSpawn = time.Time{}
	}

	if s.failures >= s.maxFailures && !s.notified {
		s.notified = true
		return true, s.failures
	}
	return false, s.failures
}

// throttled returns how long until a respawn is allowed.
func (s *Supervisor) throttled() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextSpawn.IsZero() {
		return 0
	}
	return time.Until(s.nextSpawn)
}

// markHealthy ends a crash streak once the renderer produces a frame.
func (s *Supervisor) markHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == 0 && !s.notified {
		return
	}
	s.failures = 0
	s.notified = false
	s.nextSpawn = time.Time{}
	s.backoff.Reset()
}

func (s *Supervisor) dispatchFrame(f protocol.Frame) {
	s.frames.Add(1)
	s.markHealthy()

	s.frameMu.RLock()
	listeners := make([]func(protocol.Frame), len(s.frameListeners))
	copy(listeners, s.frameListeners)
	s.frameMu.RUnlock()

	for _, fn := range listeners {
		fn(f)
	}
}

func (s *Supervisor) handleMalformed(line string) {
	s.malformed.Add(1)
	s.logger.Debug("malformed_frame_line", "line", line)
	if s.callbacks.OnMalformed != nil {
		s.callbacks.OnMalformed(line)
	}
}

// logPipelineStats logs pipeline health metrics.
func (s *Supervisor) logPipelineStats(w *Worker) {
	for _, p := range []*parser.Pipeline{w.stdoutPipeline, w.stderrPipeline} {
		read, dropped, parsed := p.Stats()
		s.dropped.Add(dropped)
		if dropped > 0 || s.logger.Enabled(context.Background(), slog.LevelDebug) {
			s.logger.Info("pipeline_stats",
				"pid", w.pid,
				"stream", p.Stream(),
				"lines_read", read,
				"lines_dropped", dropped,
				"lines_parsed", parsed,
				"degraded", p.IsDegraded(),
			)
		}
	}
}

// launch returns the launch parameters for a spawn now.
func (s *Supervisor) launch() process.Launch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return process.Launch{OutDir: s.outDir, Elapsed: time.Since(s.origin)}
}

// liveWorker returns the current worker if it has not exited.
func (s *Supervisor) liveWorker() *Worker {
	s.mu.Lock()
	w := s.worker
	s.mu.Unlock()
	if w == nil || w.exited() {
		return nil
	}
	return w
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Disabled reports whether the supervisor has no renderer.
func (s *Supervisor) Disabled() bool {
	return s.builder == nil
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// Mode returns the protocol mode fixed at construction.
func (s *Supervisor) Mode() process.Mode {
	return s.mode
}

// PID returns the live worker's process ID, or 0.
func (s *Supervisor) PID() int {
	if w := s.liveWorker(); w != nil {
		return w.pid
	}
	return 0
}

// Uptime returns the live worker's uptime, or 0.
func (s *Supervisor) Uptime() time.Duration {
	if w := s.liveWorker(); w != nil {
		return time.Since(w.start)
	}
	return 0
}

// Stats is a snapshot of supervisor counters.
type Stats struct {
	State               State
	Mode                process.Mode
	PID                 int
	Spawns              int64
	Crashes             int64
	Commands            int64
	Frames              int64
	Malformed           int64
	LinesDropped        int64
	ConsecutiveFailures int
}

// Stats returns a snapshot of the supervisor counters.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	failures := s.failures
	s.mu.Unlock()

	return Stats{
		State:               s.State(),
		Mode:                s.mode,
		PID:                 s.PID(),
		Spawns:              s.spawns.Load(),
		Crashes:             s.crashes.Load(),
		Commands:            s.commands.Load(),
		Frames:              s.frames.Load(),
		Malformed:           s.malformed.Load(),
		LinesDropped:        s.dropped.Load(),
		ConsecutiveFailures: failures,
	}
}
