package supervisor

import (
	"testing"
	"time"
)

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()

	if cfg.Initial != 250*time.Millisecond {
		t.Errorf("Initial = %v, want 250ms", cfg.Initial)
	}
	if cfg.Max != 5*time.Second {
		t.Errorf("Max = %v, want 5s", cfg.Max)
	}
	if cfg.Multiplier != 1.7 {
		t.Errorf("Multiplier = %v, want 1.7", cfg.Multiplier)
	}
	if cfg.JitterPct != 0.2 {
		t.Errorf("JitterPct = %v, want 0.2", cfg.JitterPct)
	}
}

// =============================================================================
// Table-Driven Tests: Calculate
// =============================================================================

func TestBackoff_Calculate_NoJitter(t *testing.T) {
	cfg := BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second},
		{10, 1 * time.Second},
	}

	for _, tt := range tests {
		b := NewBackoff(0, cfg)
		for i := 0; i < tt.attempts; i++ {
			b.Next()
		}
		if got := b.Calculate(); got != tt.want {
			t.Errorf("attempts=%d: Calculate() = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestBackoff_NextAndReset(t *testing.T) {
	b := NewBackoff(0, BackoffConfig{Initial: 10 * time.Millisecond, Max: time.Second, Multiplier: 2})

	got := []time.Duration{b.Next(), b.Next(), b.Next()}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Next() #%d = %v, want %v", i, got[i], want[i])
		}
	}
	if b.Attempts() != 3 {
		t.Errorf("Attempts() = %d, want 3", b.Attempts())
	}

	b.Reset()
	if b.Attempts() != 0 || b.Next() != 10*time.Millisecond {
		t.Error("Reset did not restart the sequence")
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: time.Second, Multiplier: 1, JitterPct: 0.2}
	b := NewBackoff(7, cfg)

	for i := 0; i < 100; i++ {
		d := b.Next()
		if d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Fatalf("delay %v outside ±10%%", d)
		}
	}
}

func TestBackoff_DeterministicJitter(t *testing.T) {
	cfg := DefaultBackoffConfig()
	b1 := NewBackoff(42, cfg)
	b2 := NewBackoff(42, cfg)

	for i := 0; i < 5; i++ {
		if d1, d2 := b1.Next(), b2.Next(); d1 != d2 {
			t.Errorf("attempt %d: %v != %v with the same seed", i, d1, d2)
		}
	}
}

func TestBackoff_ZeroInitial(t *testing.T) {
	b := NewBackoff(0, BackoffConfig{Multiplier: 2, Max: time.Second})
	if d := b.Next(); d != 0 {
		t.Errorf("Next() = %v, want 0", d)
	}
}

func TestShouldReset(t *testing.T) {
	tests := []struct {
		name     string
		uptime   time.Duration
		exitCode int
		want     bool
	}{
		{"quick crash", time.Second, 1, false},
		{"clean exit", time.Second, 0, true},
		{"stable then crash", BackoffResetThreshold, 139, true},
		{"just under threshold", BackoffResetThreshold - time.Millisecond, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldReset(tt.uptime, tt.exitCode); got != tt.want {
				t.Errorf("ShouldReset(%v, %d) = %v, want %v", tt.uptime, tt.exitCode, got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisabled, "disabled"},
		{StateIdle, "idle"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
	if !StateRunning.IsActive() || StateIdle.IsActive() {
		t.Error("IsActive mismatch")
	}
}
