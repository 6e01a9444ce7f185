// Package stats tracks render statistics for a preview session.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-shader-preview/internal/timeseries"
)

// Clock tells time. clock.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RenderStats counts submitted renders and delivered frames, and keeps a
// digest of submit-to-frame latency.
//
// Frames carry no request correlation, so latency is measured from the most
// recent unanswered submit to the next frame. Frames that arrive with no
// pending submit are counted but not timed.
//
// Thread-safe: counters are atomic, the digest is guarded by mu.
type RenderStats struct {
	submitted atomic.Int64
	frames    atomic.Int64
	malformed atomic.Int64
	crashes   atomic.Int64
	restarts  atomic.Int64

	mu           sync.Mutex // TDigest is not thread-safe
	latency      *tdigest.TDigest
	latencyCount int64
	latencyMin   time.Duration
	latencyMax   time.Duration
	pendingSince time.Time
	lastFrame    int
	lastFrameAt  time.Time
	hasLastFrame bool

	frameRate *timeseries.RateTracker
	clock     Clock
	startTime time.Time
}

// Snapshot is a point-in-time copy of RenderStats.
type Snapshot struct {
	Submitted int64
	Frames    int64
	Malformed int64
	Crashes   int64
	Restarts  int64

	// Latency percentiles; zero until the first timed frame.
	LatencyCount int64
	LatencyMin   time.Duration
	LatencyMax   time.Duration
	LatencyP50   time.Duration
	LatencyP95   time.Duration
	LatencyP99   time.Duration

	// LastFrame is -1 before any frame arrives.
	LastFrame   int
	LastFrameAt time.Time

	FrameRate timeseries.RateStats
	Elapsed   time.Duration
}

// NewRenderStats creates RenderStats with the real clock.
func NewRenderStats() *RenderStats {
	return NewRenderStatsWithClock(realClock{})
}

// NewRenderStatsWithClock creates RenderStats with a custom clock for testing.
func NewRenderStatsWithClock(c Clock) *RenderStats {
	return &RenderStats{
		latency:   tdigest.NewWithCompression(100), // ~100 centroids, ~10KB
		frameRate: timeseries.NewRateTrackerWithClock(c),
		clock:     c,
		startTime: c.Now(),
	}
}

// RecordSubmit notes that a render was submitted. A newer submit replaces
// an older one still waiting for its frame.
func (s *RenderStats) RecordSubmit() {
	s.submitted.Add(1)
	now := s.clock.Now()

	s.mu.Lock()
	s.pendingSince = now
	s.mu.Unlock()
}

// RecordFrame notes a delivered frame and returns the measured latency, or
// zero and false if no submit was pending.
func (s *RenderStats) RecordFrame(index int) (time.Duration, bool) {
	s.frames.Add(1)
	s.frameRate.Add(1)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFrame = index
	s.lastFrameAt = now
	s.hasLastFrame = true

	if s.pendingSince.IsZero() {
		return 0, false
	}
	d := now.Sub(s.pendingSince)
	s.pendingSince = time.Time{}
	if d < 0 {
		d = 0
	}

	s.latency.Add(float64(d.Nanoseconds()), 1)
	if s.latencyCount == 0 || d < s.latencyMin {
		s.latencyMin = d
	}
	if d > s.latencyMax {
		s.latencyMax = d
	}
	s.latencyCount++
	return d, true
}

// RecordMalformed counts a renderer output line that was not a frame index.
func (s *RenderStats) RecordMalformed() { s.malformed.Add(1) }

// RecordCrash counts an unrequested renderer exit.
func (s *RenderStats) RecordCrash() { s.crashes.Add(1) }

// RecordRestart counts a renderer spawn after the first.
func (s *RenderStats) RecordRestart() { s.restarts.Add(1) }

// ClearPending forgets an unanswered submit, e.g. after Stop.
func (s *RenderStats) ClearPending() {
	s.mu.Lock()
	s.pendingSince = time.Time{}
	s.mu.Unlock()
}

// RecordSample feeds the frame-rate tracker. Call it once per second.
func (s *RenderStats) RecordSample() { s.frameRate.RecordSample() }

// Snapshot returns the current statistics.
func (s *RenderStats) Snapshot() Snapshot {
	snap := Snapshot{
		Submitted: s.submitted.Load(),
		Frames:    s.frames.Load(),
		Malformed: s.malformed.Load(),
		Crashes:   s.crashes.Load(),
		Restarts:  s.restarts.Load(),
		LastFrame: -1,
		FrameRate: s.frameRate.Stats(),
		Elapsed:   s.clock.Now().Sub(s.startTime),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasLastFrame {
		snap.LastFrame = s.lastFrame
		snap.LastFrameAt = s.lastFrameAt
	}
	if s.latencyCount > 0 {
		snap.LatencyCount = s.latencyCount
		snap.LatencyMin = s.latencyMin
		snap.LatencyMax = s.latencyMax
		snap.LatencyP50 = time.Duration(s.latency.Quantile(0.50))
		snap.LatencyP95 = time.Duration(s.latency.Quantile(0.95))
		snap.LatencyP99 = time.Duration(s.latency.Quantile(0.99))
	}
	return snap
}

// Pending reports whether a submitted render has not produced a frame yet.
func (s *RenderStats) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.pendingSince.IsZero()
}
