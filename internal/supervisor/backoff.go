package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes the respawn delay during a crash streak. The delay
// after the n-th throttled respawn is Initial*Multiplier^n, capped at Max,
// spread by JitterPct of itself (0.2 means ±10%).
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	JitterPct  float64
}

// DefaultBackoffConfig: 250ms growing by 1.7x up to 5s, ±10% jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    250 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 1.7,
		JitterPct:  0.2,
	}
}

// Backoff yields successive respawn delays. The Supervisor only consults it
// from the second crash of a streak on, and guards it with its mutex.
type Backoff struct {
	cfg   BackoffConfig
	steps int
	rng   *rand.Rand
}

// NewBackoff creates a Backoff. A fixed seed makes the jitter repeatable.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Next returns the delay for the current step and advances to the next one.
func (b *Backoff) Next() time.Duration {
	d := b.Calculate()
	b.steps++
	return d
}

// Calculate returns the delay for the current step.
func (b *Backoff) Calculate() time.Duration {
	grown := float64(b.cfg.Initial) * math.Pow(b.cfg.Multiplier, float64(b.steps))
	d := math.Min(grown, float64(b.cfg.Max))

	if spread := d * b.cfg.JitterPct; spread > 0 {
		d += spread * (b.rng.Float64() - 0.5)
	}
	return time.Duration(math.Max(d, 0))
}

// Reset starts the sequence over at Initial.
func (b *Backoff) Reset() { b.steps = 0 }

// Attempts returns how many delays have been handed out since Reset.
func (b *Backoff) Attempts() int { return b.steps }

// BackoffResetThreshold is the uptime after which a renderer exit no longer
// extends the current crash streak.
const BackoffResetThreshold = 30 * time.Second

// ShouldReset reports whether an exit starts a new streak instead of
// extending the current one: the renderer either ran stably or exited 0.
func ShouldReset(uptime time.Duration, exitCode int) bool {
	return uptime >= BackoffResetThreshold || exitCode == 0
}
