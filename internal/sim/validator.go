package sim

import "sort"

// StateValidator collects per-peer state hashes and reports the first
// frame where peers disagree. It is diagnostic tooling: a divergence
// means a determinism bug somewhere upstream, and the only remedy is a
// resync, not a patch-up.
type StateValidator struct {
	reports map[uint32]map[string]string
}

// NewStateValidator creates an empty hash collector.
func NewStateValidator() *StateValidator {
	return &StateValidator{reports: make(map[uint32]map[string]string)}
}

// Record stores one peer's hash for a frame. Re-reports overwrite.
func (v *StateValidator) Record(peer string, frameID uint32, hash string) {
	frame := v.reports[frameID]
	if frame == nil {
		frame = make(map[string]string)
		v.reports[frameID] = frame
	}
	frame[peer] = hash
}

// Diverged reports whether the recorded hashes for a frame disagree.
// A frame with fewer than two reports cannot diverge.
func (v *StateValidator) Diverged(frameID uint32) bool {
	frame := v.reports[frameID]
	if len(frame) < 2 {
		return false
	}
	var first string
	for _, h := range frame {
		if first == "" {
			first = h
		} else if h != first {
			return true
		}
	}
	return false
}

// FirstDivergence returns the lowest frame id with disagreeing hashes.
func (v *StateValidator) FirstDivergence() (uint32, bool) {
	frames := make([]uint32, 0, len(v.reports))
	for fid := range v.reports {
		frames = append(frames, fid)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })

	for _, fid := range frames {
		if v.Diverged(fid) {
			return fid, true
		}
	}
	return 0, false
}

// Trim discards reports older than the given frame.
func (v *StateValidator) Trim(before uint32) {
	for fid := range v.reports {
		if fid < before {
			delete(v.reports, fid)
		}
	}
}
