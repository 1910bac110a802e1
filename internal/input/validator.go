package input

import (
	"errors"
	"fmt"
	"time"

	"framesync/internal/fixed"
)

// Validation failure kinds. The session layer drops the message, counts
// the reason for analytics, and keeps the connection alive; none of these
// tear a player down on their own.
var (
	ErrInputTooLarge = errors.New("input: encoded size over limit")
	ErrFrameNegative = errors.New("input: negative frame id")
	ErrFrameTooFar   = errors.New("input: frame id too far ahead")
	ErrFrameReplayed = errors.New("input: frame id not newer than last accepted")
	ErrTargetOOB     = errors.New("input: target coordinate out of bounds")
	ErrAPMExceeded   = errors.New("input: action rate over limit")
)

// maxTargetCoord bounds |targetX| and |targetY|: 10000 world units in Q
// form. Anything beyond is outside any sane map and treated as tampering.
func maxTargetCoord() int64 { return 10000 * fixed.Scale() }

// apmWindow is the wall-clock sliding window for the APM check. The
// window is wall time, not frame ids: a cheater can forge frame ids but
// not the arrival clock.
const apmWindow = time.Second

// actionMask selects the discrete action bits. Movement keys are held
// state that streams one input per tick, so only actions count toward
// the APM budget; otherwise a normal 30 Hz input stream would trip the
// cap by existing.
const actionMask = FlagAttack | FlagSkill1 | FlagSkill2 | FlagJump

// ValidatorConfig tunes the server-side acceptance rules.
type ValidatorConfig struct {
	MaxAPM        int // distinct action frames per trailing second, scaled to a minute
	MaxFrameAhead uint32
}

// DefaultValidatorConfig returns the production acceptance rules.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{MaxAPM: 600, MaxFrameAhead: 100}
}

type apmSample struct {
	at      time.Time
	frameID uint32
}

type playerRecord struct {
	lastAccepted int64 // -1 until the first accepted input
	samples      []apmSample
}

// Validator applies the anti-cheat acceptance rules to decoded inputs.
// One instance per room; per-player state is keyed by player index. Not
// safe for concurrent use — the owning room serializes access.
type Validator struct {
	cfg     ValidatorConfig
	players map[uint16]*playerRecord
}

// NewValidator creates a validator with the given rules.
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{cfg: cfg, players: make(map[uint16]*playerRecord)}
}

// Validate checks one encoded input from a player against the current
// server frame cursor. On success the player's replay guard and APM
// window are updated and the decoded input is returned.
//
// frameID arrives as int64 because the envelope layer cannot rule out a
// negative value before the cast to uint32.
func (v *Validator) Validate(playerIndex uint16, frameID int64, data []byte, currentFrame uint32, now time.Time) (*PlayerInput, error) {
	if len(data) > MaxEncodedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInputTooLarge, len(data))
	}
	if frameID < 0 {
		return nil, ErrFrameNegative
	}
	if uint64(frameID) > uint64(currentFrame)+uint64(v.cfg.MaxFrameAhead) {
		return nil, fmt.Errorf("%w: frame %d, cursor %d", ErrFrameTooFar, frameID, currentFrame)
	}

	rec := v.players[playerIndex]
	if rec == nil {
		rec = &playerRecord{lastAccepted: -1}
		v.players[playerIndex] = rec
	}
	if frameID <= rec.lastAccepted {
		return nil, fmt.Errorf("%w: frame %d, last %d", ErrFrameReplayed, frameID, rec.lastAccepted)
	}

	in, err := Decode(data)
	if err != nil {
		return nil, err
	}

	if abs64(int64(in.TargetX.Raw())) > maxTargetCoord() || abs64(int64(in.TargetY.Raw())) > maxTargetCoord() {
		return nil, ErrTargetOOB
	}

	if in.Flags&actionMask != 0 {
		if err := v.checkAPM(rec, uint32(frameID), now); err != nil {
			return nil, err
		}
	}

	rec.lastAccepted = frameID
	return in, nil
}

// checkAPM records an action input in the sliding window and rejects
// when the number of distinct action frames in the trailing second,
// scaled to a minute, exceeds the configured cap.
func (v *Validator) checkAPM(rec *playerRecord, frameID uint32, now time.Time) error {
	cutoff := now.Add(-apmWindow)
	live := rec.samples[:0]
	for _, s := range rec.samples {
		if s.at.After(cutoff) {
			live = append(live, s)
		}
	}
	rec.samples = append(live, apmSample{at: now, frameID: frameID})

	distinct := make(map[uint32]struct{}, len(rec.samples))
	for _, s := range rec.samples {
		distinct[s.frameID] = struct{}{}
	}

	apm := len(distinct) * 60
	if apm > v.cfg.MaxAPM {
		return fmt.Errorf("%w: %d apm", ErrAPMExceeded, apm)
	}
	return nil
}

// Forget drops a player's validation state on disconnect. Reconnects
// start fresh; the rate window is per-session by design.
func (v *Validator) Forget(playerIndex uint16) {
	delete(v.players, playerIndex)
}

// LastAccepted returns the replay-guard cursor for a player, or -1.
func (v *Validator) LastAccepted(playerIndex uint16) int64 {
	if rec := v.players[playerIndex]; rec != nil {
		return rec.lastAccepted
	}
	return -1
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
