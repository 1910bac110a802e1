// Package input defines the per-tick player input record, its compact
// binary wire format, and the client- and server-side machinery around
// it: the InputManager that batches local inputs for sending and the
// InputValidator that gates remote inputs before they reach a room.
package input

import (
	"encoding/binary"
	"errors"
	"fmt"

	"framesync/internal/fixed"
)

// Input flag bits. One byte on the wire, so at most eight actions.
const (
	FlagMoveUp    uint8 = 1 << 0
	FlagMoveDown  uint8 = 1 << 1
	FlagMoveLeft  uint8 = 1 << 2
	FlagMoveRight uint8 = 1 << 3
	FlagAttack    uint8 = 1 << 4
	FlagSkill1    uint8 = 1 << 5
	FlagSkill2    uint8 = 1 << 6
	FlagJump      uint8 = 1 << 7
)

const (
	// HeaderSize is the fixed wire header:
	// frameId(4) + playerId(2) + flags(1) + targetX(4) + targetY(4) + extraLen(1).
	HeaderSize = 16

	// MaxEncodedSize caps a single encoded input on the wire.
	MaxEncodedSize = 1024

	// MaxExtra is the largest extra payload (one length byte).
	MaxExtra = 255
)

var (
	// ErrShortInput means fewer than HeaderSize bytes were available.
	ErrShortInput = errors.New("input: short buffer")

	// ErrExtraTooLarge means the extra payload exceeds one length byte.
	ErrExtraTooLarge = errors.New("input: extra payload too large")
)

// PlayerInput is one player's input for one frame. Target coordinates are
// Q-format fixed point so aimed abilities resolve identically everywhere.
type PlayerInput struct {
	FrameID  uint32
	PlayerID uint16
	Flags    uint8
	TargetX  fixed.Fixed
	TargetY  fixed.Fixed
	Extra    []byte
}

// Has reports whether a flag bit is set.
func (in *PlayerInput) Has(flag uint8) bool { return in.Flags&flag != 0 }

// Set turns a flag bit on.
func (in *PlayerInput) Set(flag uint8) { in.Flags |= flag }

// Clear turns a flag bit off.
func (in *PlayerInput) Clear(flag uint8) { in.Flags &^= flag }

// Direction returns the unit movement direction implied by the flags.
// Opposed flags cancel per axis.
func (in *PlayerInput) Direction() (dx, dy int) {
	if in.Has(FlagMoveLeft) {
		dx--
	}
	if in.Has(FlagMoveRight) {
		dx++
	}
	if in.Has(FlagMoveUp) {
		dy--
	}
	if in.Has(FlagMoveDown) {
		dy++
	}
	return dx, dy
}

// Encode serializes to the big-endian wire layout.
func (in *PlayerInput) Encode() ([]byte, error) {
	if len(in.Extra) > MaxExtra {
		return nil, ErrExtraTooLarge
	}

	buf := make([]byte, HeaderSize+len(in.Extra))
	binary.BigEndian.PutUint32(buf[0:4], in.FrameID)
	binary.BigEndian.PutUint16(buf[4:6], in.PlayerID)
	buf[6] = in.Flags
	binary.BigEndian.PutUint32(buf[7:11], uint32(in.TargetX.Raw()))
	binary.BigEndian.PutUint32(buf[11:15], uint32(in.TargetY.Raw()))
	buf[15] = uint8(len(in.Extra))
	copy(buf[HeaderSize:], in.Extra)
	return buf, nil
}

// Decode parses the wire layout. The extra payload is truncated to
// min(remaining, extraLen); a missing tail is not an error so a trailing
// partial write degrades instead of poisoning the frame.
func Decode(data []byte) (*PlayerInput, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortInput, len(data))
	}

	in := &PlayerInput{
		FrameID:  binary.BigEndian.Uint32(data[0:4]),
		PlayerID: binary.BigEndian.Uint16(data[4:6]),
		Flags:    data[6],
		TargetX:  fixed.FromRaw(int32(binary.BigEndian.Uint32(data[7:11]))),
		TargetY:  fixed.FromRaw(int32(binary.BigEndian.Uint32(data[11:15]))),
	}

	extraLen := int(data[15])
	rest := data[HeaderSize:]
	if extraLen > len(rest) {
		extraLen = len(rest)
	}
	if extraLen > 0 {
		in.Extra = make([]byte, extraLen)
		copy(in.Extra, rest[:extraLen])
	}
	return in, nil
}

// Manager accumulates the local player's input between BeginFrame and
// EndFrame, keeps a bounded history for prediction, and queues encoded
// inputs for the network layer to drain.
type Manager struct {
	playerID uint16

	current *PlayerInput
	history map[uint32]*PlayerInput
	pending []*PlayerInput

	maxHistory int
}

// NewManager creates a manager for the given local player index.
func NewManager(playerID uint16) *Manager {
	return &Manager{
		playerID:   playerID,
		history:    make(map[uint32]*PlayerInput),
		maxHistory: 300,
	}
}

// BeginFrame opens a fresh input record for the frame. Any un-ended
// previous record is discarded.
func (m *Manager) BeginFrame(frameID uint32) {
	m.current = &PlayerInput{FrameID: frameID, PlayerID: m.playerID}
}

// SetInput fills the open record. No-op if BeginFrame was not called.
func (m *Manager) SetInput(flags uint8, targetX, targetY fixed.Fixed, extra []byte) {
	if m.current == nil {
		return
	}
	m.current.Flags = flags
	m.current.TargetX = targetX
	m.current.TargetY = targetY
	m.current.Extra = extra
}

// EndFrame closes the open record: it is appended to history, queued for
// sending, and returned. Returns nil when no frame is open.
func (m *Manager) EndFrame() *PlayerInput {
	if m.current == nil {
		return nil
	}

	in := m.current
	m.current = nil

	m.history[in.FrameID] = in
	if len(m.history) > m.maxHistory {
		oldest := in.FrameID
		for fid := range m.history {
			if fid < oldest {
				oldest = fid
			}
		}
		delete(m.history, oldest)
	}

	m.pending = append(m.pending, in)
	return in
}

// PendingInputs drains the send queue.
func (m *Manager) PendingInputs() []*PlayerInput {
	out := m.pending
	m.pending = nil
	return out
}

// Input returns the recorded input for a frame, or nil.
func (m *Manager) Input(frameID uint32) *PlayerInput {
	return m.history[frameID]
}
