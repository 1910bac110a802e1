package frame

import (
	"sort"
	"time"
)

// DefaultBufferSize is the latency-hiding window between the server
// cursor and the frame consumers execute.
const DefaultBufferSize = 3

// DefaultMaxHistory bounds the committed-frame ring kept for reconnect
// catch-up. 300 frames is ten seconds at 30 Hz.
const DefaultMaxHistory = 300

// Engine advances the authoritative frame cursor for one room. Commits
// are strictly monotonic: the cursor only moves when the frame it points
// at commits, normally or by force, and a committed frame is never
// touched again.
//
// Engine is not safe for concurrent use; the owning room's tick loop
// serializes access.
type Engine struct {
	buf        *Buffer
	players    []uint16
	current    uint32
	maxHistory uint32

	forced    uint64
	committed uint64
}

// NewEngine creates an engine with the standard buffer and history caps.
func NewEngine() *Engine {
	return NewEngineSized(DefaultBufferSize, DefaultMaxHistory)
}

// NewEngineSized creates an engine with explicit buffer and history
// caps. Non-positive values fall back to the defaults.
func NewEngineSized(bufferSize, maxHistory int) *Engine {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Engine{
		buf:        NewBuffer(bufferSize),
		maxHistory: uint32(maxHistory),
	}
}

// SetPlayers declares the set of player indices a complete frame must
// cover. Called by the room on every join and leave.
func (e *Engine) SetPlayers(indices []uint16) {
	e.players = append(e.players[:0], indices...)
	sort.Slice(e.players, func(i, j int) bool { return e.players[i] < e.players[j] })
}

// PlayerCount returns the number of players a frame waits for.
func (e *Engine) PlayerCount() int { return len(e.players) }

// CurrentFrame returns the commit cursor: the next frame to be produced.
func (e *Engine) CurrentFrame() uint32 { return e.current }

// AddInput routes one player's encoded input into the buffer.
func (e *Engine) AddInput(frameID int64, playerID uint16, data []byte) error {
	return e.buf.AddInput(frameID, playerID, data)
}

// Tick attempts to commit the frame under the cursor. On success the
// cursor advances and the committed frame is returned for broadcast;
// nil means players are still missing.
func (e *Engine) Tick() *Frame {
	f := e.buf.TryCommit(e.current, len(e.players))
	if f == nil {
		return nil
	}
	e.advance(f)
	return f
}

// ForceTick commits the frame under the cursor regardless of who has
// contributed, filling absent players with empty inputs. The frame is
// marked unconfirmed so consumers can count dropped inputs. Used when
// the frame deadline expires.
func (e *Engine) ForceTick() *Frame {
	inputs := e.buf.TakePending(e.current)
	for _, pid := range e.players {
		if _, ok := inputs[pid]; !ok {
			inputs[pid] = []byte{}
		}
	}

	f := &Frame{
		ID:        e.current,
		Inputs:    inputs,
		Confirmed: false,
		Timestamp: time.Now(),
	}
	e.buf.Store(f)
	e.forced++
	e.advance(f)
	return f
}

// Deadline reports when the first input for the cursor frame arrived;
// ok is false while the frame has no inputs at all. The room force-ticks
// when now − deadline exceeds the frame timeout.
func (e *Engine) Deadline() (time.Time, bool) {
	return e.buf.FirstPendingAt(e.current)
}

// PendingCount returns how many players have contributed to the frame
// under the cursor.
func (e *Engine) PendingCount() int { return e.buf.PendingCount(e.current) }

// HistoryFrame returns a committed frame still inside the history ring.
func (e *Engine) HistoryFrame(frameID uint32) *Frame {
	return e.buf.Frame(frameID)
}

// HistoryAfter returns committed frames with id > after in ascending
// order, for reconnect catch-up.
func (e *Engine) HistoryAfter(after uint32) []*Frame {
	var out []*Frame
	for fid := after + 1; fid < e.current; fid++ {
		if f := e.buf.Frame(fid); f != nil {
			out = append(out, f)
		}
	}
	return out
}

// Stats reports commit counters and buffer occupancy.
func (e *Engine) Stats() map[string]any {
	status := e.buf.Status()
	return map[string]any{
		"current_frame":    e.current,
		"player_count":     len(e.players),
		"committed_frames": e.committed,
		"forced_frames":    e.forced,
		"ready_frames":     status["ready_frames"],
		"pending_frames":   status["pending_frames"],
	}
}

func (e *Engine) advance(f *Frame) {
	e.committed++
	e.current = f.ID + 1
	if e.current > e.maxHistory {
		e.buf.Cleanup(e.current - e.maxHistory)
	}
	// Drain the ready queue; the engine hands frames out directly.
	for e.buf.NextReady() != nil {
	}
}
