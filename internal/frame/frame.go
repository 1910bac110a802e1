// Package frame implements the lockstep scheduler: per-frame input
// accumulation, the commit/force-commit policy, and the bounded history
// ring the server replays from on reconnect.
//
// A Frame is a sequence-numbered collection of per-player encoded inputs.
// Inputs gather in a pending slot until every player has contributed,
// at which point the slot commits into an immutable confirmed Frame. A
// frame that commits past the deadline with players missing is filled
// with empty inputs and marked unconfirmed; it is never revised.
package frame

import (
	"errors"
	"fmt"
	"time"
)

// MaxInputSize caps a single player's encoded input within a frame.
const MaxInputSize = 1024

var (
	// ErrNegativeFrame rejects inputs addressed to a negative frame id.
	ErrNegativeFrame = errors.New("frame: negative frame id")

	// ErrInputTooLarge rejects oversized encoded inputs.
	ErrInputTooLarge = errors.New("frame: input exceeds size limit")
)

// Frame is one logical tick's worth of inputs. Confirmed means every
// player contributed; a force-committed frame carries empty bytes for
// the players that missed the deadline.
type Frame struct {
	ID        uint32
	Inputs    map[uint16][]byte
	Confirmed bool
	Timestamp time.Time
}

// Input returns a player's encoded input, nil if absent.
func (f *Frame) Input(playerID uint16) []byte { return f.Inputs[playerID] }

// Complete reports whether every expected player has an input present.
func (f *Frame) Complete(playerCount int) bool { return len(f.Inputs) == playerCount }

// Buffer holds not-yet-committed inputs and committed frames in two
// disjoint maps plus an ordered ready queue. It also remembers when the
// first input for each pending frame arrived, which drives the server's
// force-commit deadline.
type Buffer struct {
	bufferSize int

	frames  map[uint32]*Frame
	pending map[uint32]map[uint16][]byte
	firstAt map[uint32]time.Time
	ready   []uint32
}

// NewBuffer creates a buffer with the given latency-hiding window.
func NewBuffer(bufferSize int) *Buffer {
	return &Buffer{
		bufferSize: bufferSize,
		frames:     make(map[uint32]*Frame),
		pending:    make(map[uint32]map[uint16][]byte),
		firstAt:    make(map[uint32]time.Time),
	}
}

// AddInput stores one player's encoded input into the pending slot for a
// frame. A later input from the same player for the same frame replaces
// the earlier one; the replay guard upstream prevents that for remote
// players.
func (b *Buffer) AddInput(frameID int64, playerID uint16, data []byte) error {
	if frameID < 0 {
		return ErrNegativeFrame
	}
	if len(data) > MaxInputSize {
		return fmt.Errorf("%w: %d bytes", ErrInputTooLarge, len(data))
	}

	fid := uint32(frameID)
	slot := b.pending[fid]
	if slot == nil {
		slot = make(map[uint16][]byte)
		b.pending[fid] = slot
		b.firstAt[fid] = time.Now()
	}
	slot[playerID] = data
	return nil
}

// TryCommit atomically promotes the pending slot to a confirmed Frame
// once all players have contributed. Returns nil while incomplete.
func (b *Buffer) TryCommit(frameID uint32, playerCount int) *Frame {
	slot, ok := b.pending[frameID]
	if !ok || len(slot) != playerCount {
		return nil
	}

	f := &Frame{
		ID:        frameID,
		Inputs:    slot,
		Confirmed: true,
		Timestamp: time.Now(),
	}
	b.frames[frameID] = f
	b.ready = append(b.ready, frameID)
	delete(b.pending, frameID)
	delete(b.firstAt, frameID)
	return f
}

// TakePending removes and returns the pending slot for a frame, empty
// map if none. Used by the engine's force commit.
func (b *Buffer) TakePending(frameID uint32) map[uint16][]byte {
	slot := b.pending[frameID]
	delete(b.pending, frameID)
	delete(b.firstAt, frameID)
	if slot == nil {
		slot = make(map[uint16][]byte)
	}
	return slot
}

// FirstPendingAt reports when the first input for a frame arrived.
func (b *Buffer) FirstPendingAt(frameID uint32) (time.Time, bool) {
	at, ok := b.firstAt[frameID]
	return at, ok
}

// PendingCount returns how many players have contributed to a frame.
func (b *Buffer) PendingCount(frameID uint32) int {
	return len(b.pending[frameID])
}

// Frame returns a committed frame, nil if unknown.
func (b *Buffer) Frame(frameID uint32) *Frame { return b.frames[frameID] }

// Store inserts an externally produced frame (client side: frames arrive
// committed from the server) and queues it for execution.
func (b *Buffer) Store(f *Frame) {
	b.frames[f.ID] = f
	b.ready = append(b.ready, f.ID)
}

// PeekReady returns the next committed frame in arrival order without
// consuming it, nil if none.
func (b *Buffer) PeekReady() *Frame {
	for len(b.ready) > 0 {
		if f := b.frames[b.ready[0]]; f != nil {
			return f
		}
		b.ready = b.ready[1:]
	}
	return nil
}

// NextReady pops the next committed frame in arrival order, nil if none.
func (b *Buffer) NextReady() *Frame {
	for len(b.ready) > 0 {
		fid := b.ready[0]
		b.ready = b.ready[1:]
		if f := b.frames[fid]; f != nil {
			return f
		}
	}
	return nil
}

// ExecutableFrameID returns the frame the consumer should execute given
// the server cursor: bufferSize frames behind to absorb jitter.
func (b *Buffer) ExecutableFrameID(current uint32) int64 {
	return int64(current) - int64(b.bufferSize)
}

// Cleanup drops committed and pending state older than oldest.
func (b *Buffer) Cleanup(oldest uint32) {
	for fid := range b.frames {
		if fid < oldest {
			delete(b.frames, fid)
		}
	}
	for fid := range b.pending {
		if fid < oldest {
			delete(b.pending, fid)
			delete(b.firstAt, fid)
		}
	}
}

// Status reports buffer occupancy for the stats endpoints.
func (b *Buffer) Status() map[string]int {
	return map[string]int{
		"buffer_size":    b.bufferSize,
		"ready_frames":   len(b.ready),
		"pending_frames": len(b.pending),
		"total_stored":   len(b.frames),
	}
}
