package fixed

// RNG is a deterministic Xorshift32 generator. Every client in a session
// seeds it identically and draws in lockstep, so crit rolls, drops and
// shuffles agree across peers without any of them crossing the wire.
//
// State is a single uint32 and can be captured with State and restored
// with SetState, which is how rollback replays reproduce random outcomes.
type RNG struct {
	state uint32
}

// NewRNG creates a generator. Seed 0 is remapped to 1 because the
// xorshift state must be non-zero.
func NewRNG(seed uint32) *RNG {
	if seed == 0 {
		seed = 1
	}
	return &RNG{state: seed}
}

// NextUint32 advances the generator and returns the next value.
func (r *RNG) NextUint32() uint32 {
	x := r.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.state = x
	return x
}

// NextInt32 returns a signed value covering the full int32 range.
func (r *RNG) NextInt32() int32 {
	return int32(r.NextUint32() - 0x80000000)
}

// Range returns an integer in [lo, hi] inclusive.
func (r *RNG) Range(lo, hi int) int {
	if lo >= hi {
		return lo
	}
	span := uint32(hi - lo + 1)
	return lo + int(r.NextUint32()%span)
}

// Uniform returns a value in [0, 1). The float is derived from a
// deterministic integer draw, so it is itself deterministic, but it is a
// final-stage value for UI and thresholds only. Cross-peer comparisons go
// through ChanceQ.
func (r *RNG) Uniform() float64 {
	return float64(r.NextUint32()) / float64(1<<32)
}

// ChanceQ returns true with probability p, where p is a Q-point ratio in
// [0, Scale()]. Pure integer compare; safe in cross-peer code.
func (r *RNG) ChanceQ(p Fixed) bool {
	draw := int64(r.NextUint32()) * scale >> 32
	return draw < int64(p)
}

// Pick returns a deterministic random index into a collection of length n,
// or -1 when n <= 0.
func (r *RNG) Pick(n int) int {
	if n <= 0 {
		return -1
	}
	return r.Range(0, n-1)
}

// Shuffle permutes indices [0, n) in place via Fisher-Yates, iterating
// from the high index down so all peers produce the identical permutation.
func (r *RNG) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := r.Range(0, i)
		swap(i, j)
	}
}

// State returns the current generator state for snapshots.
func (r *RNG) State() uint32 { return r.state }

// SetState restores a previously captured state. Zero is remapped to 1,
// matching NewRNG.
func (r *RNG) SetState(s uint32) {
	if s == 0 {
		s = 1
	}
	r.state = s
}

// LCG is the classic linear congruential generator (Numerical Recipes
// constants). Slower mixing than Xorshift32 but simpler to reason about;
// kept for tooling that wants a second independent stream.
type LCG struct {
	state uint32
}

// NewLCG creates an LCG generator. Seed 0 is remapped to 1.
func NewLCG(seed uint32) *LCG {
	if seed == 0 {
		seed = 1
	}
	return &LCG{state: seed}
}

// Next advances the generator and returns the next value.
func (l *LCG) Next() uint32 {
	l.state = l.state*1664525 + 1013904223
	return l.state
}

// Range returns an integer in [lo, hi] inclusive.
func (l *LCG) Range(lo, hi int) int {
	if lo >= hi {
		return lo
	}
	return lo + int(l.Next()%uint32(hi-lo+1))
}

// Uniform returns a value in [0, 1).
func (l *LCG) Uniform() float64 {
	return float64(l.Next()) / float64(1<<32)
}
