package overlay

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-shader-preview/internal/clock"
)

// Overlay is one applied decoration tracked by the Engine.
type Overlay struct {
	ID       uint64
	Category Category
	ImageURL string
	Range    Range

	engine *Engine
	handle Handle
	state  State
	timer  clock.Timer
}

// State returns the overlay's current lifecycle state.
func (o *Overlay) State() State {
	o.engine.mu.Lock()
	defer o.engine.mu.Unlock()
	return o.state
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Host       Host
	Clock      clock.Clock
	GraceDelay time.Duration
	Logger     *slog.Logger
}

// Engine is the per-session overlay state machine. Safe for concurrent use.
type Engine struct {
	host   Host
	clock  clock.Clock
	grace  time.Duration
	logger *slog.Logger

	mu         sync.Mutex
	nextID     uint64
	active     map[Category]*Overlay
	superseded map[uint64]*Overlay
	applied    int64
	disposed   int64
}

// NewEngine creates an Engine. Zero GraceDelay means DefaultGraceDelay; a nil
// Clock means clock.Real().
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = DefaultGraceDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		host:       cfg.Host,
		clock:      cfg.Clock,
		grace:      cfg.GraceDelay,
		logger:     cfg.Logger,
		active:     make(map[Category]*Overlay),
		superseded: make(map[uint64]*Overlay),
	}
}

// ShowFrame presents the image at path over viewport. The previous preview is
// superseded and disposed after the grace delay. If the host cannot apply the
// new overlay the previous one stays Active.
func (e *Engine) ShowFrame(path string, viewport Range) (*Overlay, error) {
	d := Decoration{
		Category: CategoryPreview,
		ImageURL: CacheBust(path, e.clock.Now()),
		Range:    viewport,
	}
	o, prev, err := e.apply(d)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		e.supersede(prev)
	}
	return o, nil
}

// ShowBackground replaces the background overlay for a newly active editor.
// The old background is disposed at once.
func (e *Engine) ShowBackground(docRange Range) (*Overlay, error) {
	o, prev, err := e.apply(Decoration{Category: CategoryBackground, Range: docRange})
	if err != nil {
		return nil, err
	}
	if prev != nil {
		e.mu.Lock()
		h := e.disposeLocked(prev)
		e.mu.Unlock()
		disposeAll(h)
	}
	return o, nil
}

// apply asks the host for the decoration and makes it Active, returning the
// overlay it displaced.
func (e *Engine) apply(d Decoration) (*Overlay, *Overlay, error) {
	if e.host == nil {
		return nil, nil, fmt.Errorf("overlay: no host")
	}
	h, err := e.host.Apply(d)
	if err != nil {
		e.logger.Warn("overlay_apply_failed", "category", d.Category, "error", err)
		return nil, nil, fmt.Errorf("apply %s overlay: %w", d.Category, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	o := &Overlay{
		ID:       e.nextID,
		Category: d.Category,
		ImageURL: d.ImageURL,
		Range:    d.Range,
		engine:   e,
		handle:   h,
		state:    StateActive,
	}
	prev := e.active[d.Category]
	e.active[d.Category] = o
	e.applied++
	e.logger.Debug("overlay_applied", "category", d.Category, "id", o.ID, "range", d.Range.String())
	return o, prev, nil
}

func (e *Engine) supersede(o *Overlay) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o.state != StateActive {
		return
	}
	o.state = StateSuperseded
	e.superseded[o.ID] = o
	o.timer = e.clock.AfterFunc(e.grace, func() { e.retire(o) })
}

func (e *Engine) retire(o *Overlay) {
	e.mu.Lock()
	if o.state != StateSuperseded {
		e.mu.Unlock()
		return
	}
	h := e.disposeLocked(o)
	e.mu.Unlock()
	disposeAll(h)
}

// disposeLocked moves o to Disposed and returns the host handle to release
// once the lock is dropped.
func (e *Engine) disposeLocked(o *Overlay) []Handle {
	if o.state == StateDisposed {
		return nil
	}
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if e.active[o.Category] == o {
		delete(e.active, o.Category)
	}
	delete(e.superseded, o.ID)
	o.state = StateDisposed
	e.disposed++
	e.logger.Debug("overlay_disposed", "category", o.Category, "id", o.ID)
	if o.handle == nil {
		return nil
	}
	return []Handle{o.handle}
}

// Clear disposes every overlay now, cancelling pending retirements.
func (e *Engine) Clear() {
	e.mu.Lock()
	var handles []Handle
	for _, o := range e.superseded {
		handles = append(handles, e.disposeLocked(o)...)
	}
	for _, o := range e.active {
		handles = append(handles, e.disposeLocked(o)...)
	}
	e.mu.Unlock()
	disposeAll(handles)
}

// Active returns the Active overlay of a category, or nil.
func (e *Engine) Active(c Category) *Overlay {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[c]
}

// State returns the state of the category's current slot: Active if an
// overlay is shown, Absent otherwise.
func (e *Engine) State(c Category) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[c]; ok {
		return StateActive
	}
	return StateAbsent
}

// PendingDisposals is the number of superseded overlays awaiting the grace
// delay.
func (e *Engine) PendingDisposals() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.superseded)
}

// Stats returns the number of overlays applied and disposed so far.
func (e *Engine) Stats() (applied, disposed int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applied, e.disposed
}

func disposeAll(handles []Handle) {
	for _, h := range handles {
		h.Dispose()
	}
}
