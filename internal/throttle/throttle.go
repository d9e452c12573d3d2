// Package throttle gates the capture loop to the currently allowed
// send rate. The allowed rate is tier-locked: a normal tier while the
// processor keeps up and a degraded tier while slow-down warnings are
// outstanding. It never free-floats between the two.
package throttle

import (
	"sync"
	"time"
)

const (
	// DefaultNormalFPS is the send rate with no outstanding warnings.
	DefaultNormalFPS = 15.0
	// DefaultDegradedFPS is the send rate under congestion.
	DefaultDegradedFPS = 5.0
	// DefaultCooldown is how long after the last warning the degraded
	// tier stays in effect before the normal tier is restored.
	DefaultCooldown = 5 * time.Second
)

// Config configures a Gate. Zero fields take the package defaults.
type Config struct {
	NormalFPS   float64
	DegradedFPS float64
	Cooldown    time.Duration
	Now         func() time.Time // Monotonic clock, injectable for tests
}

// Gate is the adaptive rate throttler. It is driven by ticks at the
// host's cadence and emits at most once per allowed interval. The
// gate only assumes the clock is monotonic, never a fixed tick rate.
type Gate struct {
	mu       sync.Mutex
	cfg      Config
	lastEmit time.Time
	lastWarn time.Time
	warned   bool
	warnings int
}

// New creates a Gate with the given config.
func New(cfg Config) *Gate {
	if cfg.NormalFPS <= 0 {
		cfg.NormalFPS = DefaultNormalFPS
	}
	if cfg.DegradedFPS <= 0 {
		cfg.DegradedFPS = DefaultDegradedFPS
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{cfg: cfg}
}

// Tick is invoked on every render-loop tick. If the elapsed time
// since the last emission meets the interval implied by the current
// allowed rate, emit is called and the emission time recorded.
// Returns whether emit was invoked.
func (g *Gate) Tick(emit func()) bool {
	g.mu.Lock()
	now := g.cfg.Now()
	interval := g.intervalLocked(now)

	if !g.lastEmit.IsZero() && now.Sub(g.lastEmit) < interval {
		g.mu.Unlock()
		return false
	}
	g.lastEmit = now
	g.mu.Unlock()

	emit()
	return true
}

// SlowDown registers one congestion warning from the server. The
// degraded tier takes effect for all subsequent emissions until the
// warnings clear.
func (g *Gate) SlowDown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.warnings++
	g.warned = true
	g.lastWarn = g.cfg.Now()
}

// Clear is the explicit recovery signal; it removes all outstanding
// warnings and restores the normal tier immediately.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.warned = false
	g.warnings = 0
}

// Rate returns the currently allowed send rate in frames per second.
func (g *Gate) Rate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.congestedLocked(g.cfg.Now()) {
		return g.cfg.DegradedFPS
	}
	return g.cfg.NormalFPS
}

// Warnings returns the total slow-down warnings received.
func (g *Gate) Warnings() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.warnings
}

// Congested reports whether the degraded tier is currently in effect.
func (g *Gate) Congested() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.congestedLocked(g.cfg.Now())
}

func (g *Gate) intervalLocked(now time.Time) time.Duration {
	fps := g.cfg.NormalFPS
	if g.congestedLocked(now) {
		fps = g.cfg.DegradedFPS
	}
	return time.Duration(float64(time.Second) / fps)
}

// congestedLocked restores the normal tier once the cooldown window
// has elapsed with no further warnings.
func (g *Gate) congestedLocked(now time.Time) bool {
	if !g.warned {
		return false
	}
	if now.Sub(g.lastWarn) >= g.cfg.Cooldown {
		g.warned = false
		return false
	}
	return true
}
