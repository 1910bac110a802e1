package client

import (
	"time"

	"framesync/internal/fixed"
)

// Interpolator smooths rendering between two successive logic frames.
// It is strictly one-way: render positions are derived from simulation
// state and never feed back into it, so float math is safe here.
type Interpolator struct {
	frameTime time.Duration

	lastLogicAt time.Time
	prev        map[uint32][2]float64 // entity id -> position at previous frame
	curr        map[uint32][2]float64
}

// NewInterpolator creates an interpolator for the given logic period.
func NewInterpolator(frameTime time.Duration) *Interpolator {
	return &Interpolator{
		frameTime: frameTime,
		prev:      make(map[uint32][2]float64),
		curr:      make(map[uint32][2]float64),
	}
}

// Advance records a new logic frame's entity positions. Call once per
// applied frame, after the simulation step.
func (ip *Interpolator) Advance(now time.Time, positions map[uint32][2]fixed.Fixed) {
	ip.prev, ip.curr = ip.curr, ip.prev
	for k := range ip.curr {
		delete(ip.curr, k)
	}
	for id, pos := range positions {
		ip.curr[id] = [2]float64{pos[0].Float(), pos[1].Float()}
	}
	ip.lastLogicAt = now
}

// Alpha returns the interpolation factor for a render timestamp,
// clamped to [0, 1].
func (ip *Interpolator) Alpha(renderTime time.Time) float64 {
	if ip.frameTime <= 0 || ip.lastLogicAt.IsZero() {
		return 1
	}
	alpha := float64(renderTime.Sub(ip.lastLogicAt)) / float64(ip.frameTime)
	if alpha < 0 {
		return 0
	}
	if alpha > 1 {
		return 1
	}
	return alpha
}

// Position returns an entity's render position at the given time. An
// entity with no previous sample renders at its current position.
func (ip *Interpolator) Position(entityID uint32, renderTime time.Time) (x, y float64, ok bool) {
	curr, exists := ip.curr[entityID]
	if !exists {
		return 0, 0, false
	}
	prev, hasPrev := ip.prev[entityID]
	if !hasPrev {
		return curr[0], curr[1], true
	}

	alpha := ip.Alpha(renderTime)
	return prev[0] + (curr[0]-prev[0])*alpha,
		prev[1] + (curr[1]-prev[1])*alpha,
		true
}
