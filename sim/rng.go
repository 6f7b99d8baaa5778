package sim

import "math/rand"

// Rng is the deterministic random source for one simulation iteration.
// Every random decision in the simulated world (fault rolls, latency
// samples, workload generation) must go through a single Rng handle that
// is threaded explicitly to each call site. Go's math/rand generator is
// fully specified for a fixed seed, so the same seed produces the same
// draw sequence on every host.
type Rng struct {
	src *rand.Rand
}

// NewRng creates a seeded random source. Seed 0 is a valid seed and is
// used as-is; the simulator never substitutes entropy for it.
func NewRng(seed uint64) *Rng {
	return &Rng{src: rand.New(rand.NewSource(int64(seed)))}
}

// Uint64 returns a random 64-bit value.
func (r *Rng) Uint64() uint64 {
	return r.src.Uint64()
}

// Intn returns a random int in [0, n). n must be > 0.
func (r *Rng) Intn(n int) int {
	return r.src.Intn(n)
}

// Float64 returns a random float in [0.0, 1.0).
func (r *Rng) Float64() float64 {
	return r.src.Float64()
}

// Chance returns true with probability p. It always consumes exactly one
// draw, including for p <= 0 and p >= 1, so the draw count at a call site
// does not depend on configuration.
func (r *Rng) Chance(p float64) bool {
	return r.src.Float64() < p
}

// Range returns a random value in [min, max). Returns min when the range
// is empty.
func (r *Rng) Range(min, max uint64) uint64 {
	if min >= max {
		return min
	}
	return min + r.src.Uint64()%(max-min)
}

// Delay samples a latency in [min, max).
func (r *Rng) Delay(min, max VirtualTime) VirtualTime {
	return VirtualTime(r.Range(uint64(min), uint64(max)))
}

// Fork derives an independent random stream from this one. The child is
// deterministic given the parent's state at the time of the fork.
func (r *Rng) Fork() *Rng {
	return NewRng(r.Uint64())
}
