// Package protocol defines the wire envelopes exchanged over the
// WebSocket transport. Every message is a MsgPack map with a type tag
// and a typed payload; the per-tick input bytes inside stay in their
// own compact binary layout and pass through opaque.
package protocol

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"framesync/internal/frame"
)

// Envelope types.
const (
	TypeAuth         = "auth"
	TypeJoinSuccess  = "joinSuccess"
	TypePlayerJoined = "playerJoined"
	TypePlayerLeft   = "playerLeft"
	TypeGameStart    = "gameStart"
	TypeInput        = "input"
	TypeLeave        = "leave"
	TypeReconnect    = "reconnect"
	TypeSyncFrames   = "syncFrames"
	TypeGameFrame    = "gameFrame"
)

// WebSocket close codes in the application range.
const (
	CloseAuthFailure = 4001
	CloseAuthTimeout = 4002
	CloseRoomFull    = 4003
)

// MaxIDLength bounds playerId and roomId strings in auth payloads.
const MaxIDLength = 64

// Envelope is the outer message shape. Payload stays raw until the
// dispatcher knows which struct to decode into.
type Envelope struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Encode marshals a payload and wraps it in an envelope.
func Encode(typ string, payload any) ([]byte, error) {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", typ, err)
	}
	data, err := msgpack.Marshal(&Envelope{Type: typ, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s envelope: %w", typ, err)
	}
	return data, nil
}

// DecodeEnvelope parses the outer envelope, leaving the payload raw.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("protocol: envelope missing type")
	}
	return &env, nil
}

// DecodePayload unmarshals the raw payload into a typed struct.
func (e *Envelope) DecodePayload(v any) error {
	if err := msgpack.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("protocol: unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// AuthPayload opens a session. Must be the first client message.
type AuthPayload struct {
	PlayerID string `msgpack:"playerId"`
	RoomID   string `msgpack:"roomId"`
}

// Valid checks the id length rules.
func (p *AuthPayload) Valid() bool {
	return p.PlayerID != "" && len(p.PlayerID) <= MaxIDLength &&
		p.RoomID != "" && len(p.RoomID) <= MaxIDLength
}

// JoinSuccessPayload confirms room entry to the joining player.
type JoinSuccessPayload struct {
	RoomID      string   `msgpack:"roomId"`
	PlayerID    string   `msgpack:"playerId"`
	PlayerCount int      `msgpack:"playerCount"`
	Players     []string `msgpack:"players"`
}

// PlayerJoinedPayload notifies existing members of a new player.
type PlayerJoinedPayload struct {
	PlayerID    string `msgpack:"playerId"`
	PlayerCount int    `msgpack:"playerCount"`
}

// PlayerLeftPayload notifies members of a departure.
type PlayerLeftPayload struct {
	PlayerID string `msgpack:"playerId"`
}

// GameStartPayload announces the session start frame.
type GameStartPayload struct {
	StartFrame uint32 `msgpack:"startFrame"`
}

// InputPayload carries one encoded per-tick input. FrameID is signed so
// a hostile negative value survives decoding and reaches the validator.
type InputPayload struct {
	FrameID   int64  `msgpack:"frameId"`
	InputData []byte `msgpack:"inputData"`
}

// LeavePayload is an explicit, empty goodbye.
type LeavePayload struct{}

// ReconnectPayload asks for the frames missed while away.
type ReconnectPayload struct {
	LastFrame uint32 `msgpack:"lastFrame"`
}

// GameFramePayload is one committed frame on the wire.
type GameFramePayload struct {
	FrameID   uint32            `msgpack:"frameId"`
	Inputs    map[uint16][]byte `msgpack:"inputs"`
	Confirmed bool              `msgpack:"confirmed"`
}

// SyncFramesPayload is the reconnect catch-up batch.
type SyncFramesPayload struct {
	Frames       []GameFramePayload `msgpack:"frames"`
	CurrentFrame uint32             `msgpack:"currentFrame"`
}

// FrameToPayload converts a committed frame for broadcast.
func FrameToPayload(f *frame.Frame) GameFramePayload {
	return GameFramePayload{FrameID: f.ID, Inputs: f.Inputs, Confirmed: f.Confirmed}
}

// FrameFromPayload reconstitutes a frame on the receiving side.
func FrameFromPayload(p GameFramePayload) *frame.Frame {
	inputs := p.Inputs
	if inputs == nil {
		inputs = make(map[uint16][]byte)
	}
	return &frame.Frame{ID: p.FrameID, Inputs: inputs, Confirmed: p.Confirmed}
}

// PlayerIndex derives the stable numeric index for a player id string:
// the integer after the last underscore when present, otherwise an FNV
// hash modulo 1000. Derived once at join and reused for every frame.
func PlayerIndex(playerID string) uint16 {
	if i := strings.LastIndexByte(playerID, '_'); i >= 0 {
		if n, err := strconv.ParseUint(playerID[i+1:], 10, 16); err == nil {
			return uint16(n)
		}
	}
	h := fnv.New32a()
	h.Write([]byte(playerID))
	return uint16(h.Sum32() % 1000)
}
