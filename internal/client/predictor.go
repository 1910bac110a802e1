// Package client contains the predicting game client: the session that
// talks to the server, the predictor that runs the simulation ahead of
// confirmed frames, and the interpolation helper for the render layer.
package client

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"framesync/internal/frame"
	"framesync/internal/sim"
)

// MaxPredictedFrames bounds how far the predictor runs ahead of the
// last confirmed frame: 30 frames is one second at 30 Hz. When the
// window is full the client stalls instead of speculating further.
const MaxPredictedFrames = 30

// ErrPredictionLimit signals the prediction window is full.
var ErrPredictionLimit = errors.New("client: prediction window full")

// Predictor runs the deterministic simulation optimistically: the local
// input is applied immediately, other players are assumed to repeat
// their last seen input, and the server's authoritative frame later
// confirms or rolls back the guess.
type Predictor struct {
	state       *sim.GameState
	localPlayer uint16

	predicted map[uint32]*frame.Frame
	lastSeen  map[uint16][]byte

	// Counters for the stats surface.
	Predictions uint64
	Corrects    uint64
	Mispredicts uint64
	Rollbacks   uint64
}

// NewPredictor wraps a game state for the given local player index.
func NewPredictor(state *sim.GameState, localPlayer uint16) *Predictor {
	return &Predictor{
		state:       state,
		localPlayer: localPlayer,
		predicted:   make(map[uint32]*frame.Frame),
		lastSeen:    make(map[uint16][]byte),
	}
}

// State returns the simulated world the predictor advances.
func (p *Predictor) State() *sim.GameState { return p.state }

// PredictedCount returns the number of outstanding predictions.
func (p *Predictor) PredictedCount() int { return len(p.predicted) }

// PredictFrame speculatively applies a frame: the local player's real
// input plus the last seen input for every other player. A snapshot is
// taken before mutation so the frame can be rolled back.
func (p *Predictor) PredictFrame(frameID uint32, myInput []byte, otherPlayers []uint16) error {
	if len(p.predicted) >= MaxPredictedFrames {
		return ErrPredictionLimit
	}

	p.state.SaveSnapshotAs(frameID)

	inputs := map[uint16][]byte{p.localPlayer: myInput}
	for _, pid := range otherPlayers {
		if pid == p.localPlayer {
			continue
		}
		inputs[pid] = p.lastSeen[pid]
	}

	f := &frame.Frame{ID: frameID, Inputs: inputs, Confirmed: false}
	p.predicted[frameID] = f
	p.Predictions++

	if err := p.state.ApplyFrame(f); err != nil {
		return fmt.Errorf("client: predict frame %d: %w", frameID, err)
	}
	return nil
}

// OnServerFrame reconciles an authoritative frame with the prediction
// made for it. A correctly predicted frame is simply confirmed; a
// mispredicted one triggers a rollback to the pre-frame snapshot, an
// apply of the server frame, and an ascending replay of every newer
// prediction.
func (p *Predictor) OnServerFrame(sf *frame.Frame) error {
	pf, wasPredicted := p.predicted[sf.ID]

	// Remember what everyone actually did; the next prediction assumes
	// they keep doing it.
	for pid, data := range sf.Inputs {
		if pid != p.localPlayer {
			p.lastSeen[pid] = data
		}
	}

	if !wasPredicted {
		return p.state.ApplyFrame(sf)
	}

	if p.inputsMatch(pf, sf) {
		delete(p.predicted, sf.ID)
		p.Corrects++
		return nil
	}

	p.Mispredicts++
	return p.rollback(sf)
}

// inputsMatch compares the non-local inputs of a predicted and a server
// frame. The local input is echoed back unchanged by the server and is
// never a mispredict source.
func (p *Predictor) inputsMatch(pf, sf *frame.Frame) bool {
	for pid, serverData := range sf.Inputs {
		if pid == p.localPlayer {
			continue
		}
		if !bytes.Equal(pf.Inputs[pid], serverData) {
			return false
		}
	}
	for pid := range pf.Inputs {
		if pid == p.localPlayer {
			continue
		}
		if _, ok := sf.Inputs[pid]; !ok {
			return false
		}
	}
	return true
}

// rollback restores the snapshot taken before the mispredicted frame,
// applies the authoritative frame, and replays the surviving
// predictions in ascending order, refreshing their snapshots as it goes.
func (p *Predictor) rollback(sf *frame.Frame) error {
	p.Rollbacks++

	if err := p.state.RestoreSnapshot(sf.ID); err != nil {
		return fmt.Errorf("client: rollback to frame %d: %w", sf.ID, err)
	}
	if err := p.state.ApplyFrame(sf); err != nil {
		return fmt.Errorf("client: reapply server frame %d: %w", sf.ID, err)
	}

	var replay []uint32
	for fid := range p.predicted {
		if fid > sf.ID {
			replay = append(replay, fid)
		} else {
			delete(p.predicted, fid)
		}
	}
	sort.Slice(replay, func(i, j int) bool { return replay[i] < replay[j] })

	for _, fid := range replay {
		p.state.SaveSnapshotAs(fid)
		if err := p.state.ApplyFrame(p.predicted[fid]); err != nil {
			return fmt.Errorf("client: replay frame %d: %w", fid, err)
		}
	}
	return nil
}

// Stats reports prediction accuracy counters.
func (p *Predictor) Stats() map[string]uint64 {
	return map[string]uint64{
		"predictions": p.Predictions,
		"corrects":    p.Corrects,
		"mispredicts": p.Mispredicts,
		"rollbacks":   p.Rollbacks,
		"outstanding": uint64(len(p.predicted)),
	}
}
