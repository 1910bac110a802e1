package client

import (
	"errors"
	"testing"

	"framesync/internal/frame"
	"framesync/internal/input"
	"framesync/internal/sim"
)

const stepMs = 33

func encodeInput(t *testing.T, frameID uint32, playerID uint16, flags uint8) []byte {
	t.Helper()
	in := input.PlayerInput{FrameID: frameID, PlayerID: playerID, Flags: flags}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func newPredictorState() *sim.GameState {
	gs := sim.NewGameState(sim.DefaultConfig(), stepMs, 7)
	gs.SpawnPlayer(0)
	gs.SpawnPlayer(1)
	return gs
}

// serverFrame builds an authoritative frame. Zero flags become empty
// bytes, the shape an idle or force-committed player produces.
func serverFrame(t *testing.T, frameID uint32, localFlags, otherFlags uint8) *frame.Frame {
	t.Helper()
	inputs := map[uint16][]byte{0: {}, 1: {}}
	if localFlags != 0 {
		inputs[0] = encodeInput(t, frameID, 0, localFlags)
	}
	if otherFlags != 0 {
		inputs[1] = encodeInput(t, frameID, 1, otherFlags)
	}
	return &frame.Frame{ID: frameID, Inputs: inputs, Confirmed: true}
}

// TestCorrectPredictionConfirmed verifies a matching server frame costs
// nothing: no rollback, state untouched.
func TestCorrectPredictionConfirmed(t *testing.T) {
	p := NewPredictor(newPredictorState(), 0)

	my := encodeInput(t, 0, 0, input.FlagMoveRight)
	if err := p.PredictFrame(0, my, []uint16{1}); err != nil {
		t.Fatalf("PredictFrame: %v", err)
	}
	hashAfterPredict := p.State().ComputeStateHash()

	// Server frame: local echoed, other idle (matches the nil guess).
	sf := &frame.Frame{
		ID: 0,
		Inputs: map[uint16][]byte{
			0: my,
			1: {},
		},
		Confirmed: true,
	}
	if err := p.OnServerFrame(sf); err != nil {
		t.Fatalf("OnServerFrame: %v", err)
	}

	if p.Corrects != 1 || p.Rollbacks != 0 {
		t.Errorf("counters = %+v", p.Stats())
	}
	if p.PredictedCount() != 0 {
		t.Error("confirmed prediction not dropped")
	}
	if got := p.State().ComputeStateHash(); got != hashAfterPredict {
		t.Error("confirming a correct prediction changed the state")
	}
}

// TestRollbackReplay is the canonical mispredict scenario: the client
// assumes the other player idles for several frames, the server reports
// a MoveLeft partway through, and after rollback and replay the state
// must equal that of a peer that never predicted at all.
func TestRollbackReplay(t *testing.T) {
	p := NewPredictor(newPredictorState(), 0)
	reference := newPredictorState()

	const (
		frames        = 6
		mispredictAt  = 2
		localFlags    = uint8(input.FlagMoveRight)
		surpriseFlags = uint8(input.FlagMoveLeft)
	)

	// Predict all frames before any server frame arrives.
	for fid := uint32(0); fid < frames; fid++ {
		my := encodeInput(t, fid, 0, localFlags)
		if err := p.PredictFrame(fid, my, []uint16{1}); err != nil {
			t.Fatalf("PredictFrame %d: %v", fid, err)
		}
	}

	// Authoritative stream: other player idles except one MoveLeft.
	for fid := uint32(0); fid < frames; fid++ {
		other := uint8(0)
		if fid == mispredictAt {
			other = surpriseFlags
		}
		sf := serverFrame(t, fid, localFlags, other)
		if err := p.OnServerFrame(sf); err != nil {
			t.Fatalf("OnServerFrame %d: %v", fid, err)
		}

		ref := serverFrame(t, fid, localFlags, other)
		if err := reference.ApplyFrame(ref); err != nil {
			t.Fatalf("reference frame %d: %v", fid, err)
		}
	}

	if p.Mispredicts != 1 || p.Rollbacks != 1 {
		t.Errorf("counters = %+v, want one mispredict and one rollback", p.Stats())
	}

	// Predicted frames past the mispredict replay with an idle guess for
	// the other player, which the later server frames confirm.
	if got, want := p.State().ComputeStateHash(), reference.ComputeStateHash(); got != want {
		t.Errorf("post-rollback hash = %s, want reference %s", got, want)
	}
}

// TestUnpredictedFrameAppliesDirectly verifies a frame the client never
// guessed at just applies.
func TestUnpredictedFrameAppliesDirectly(t *testing.T) {
	p := NewPredictor(newPredictorState(), 0)

	sf := serverFrame(t, 0, 0, input.FlagMoveDown)
	if err := p.OnServerFrame(sf); err != nil {
		t.Fatalf("OnServerFrame: %v", err)
	}

	if p.State().FrameID() != 0 {
		t.Errorf("state frame = %d, want 0", p.State().FrameID())
	}
	if p.Corrects != 0 && p.Mispredicts != 0 {
		t.Errorf("counters moved for a non-prediction: %+v", p.Stats())
	}
}

// TestPredictionWindowStalls verifies the 30-frame cap.
func TestPredictionWindowStalls(t *testing.T) {
	p := NewPredictor(newPredictorState(), 0)

	for fid := uint32(0); fid < MaxPredictedFrames; fid++ {
		my := encodeInput(t, fid, 0, 0)
		if err := p.PredictFrame(fid, my, []uint16{1}); err != nil {
			t.Fatalf("PredictFrame %d: %v", fid, err)
		}
	}

	err := p.PredictFrame(MaxPredictedFrames, encodeInput(t, MaxPredictedFrames, 0, 0), []uint16{1})
	if !errors.Is(err, ErrPredictionLimit) {
		t.Errorf("error = %v, want ErrPredictionLimit", err)
	}
	if p.PredictedCount() != MaxPredictedFrames {
		t.Errorf("outstanding = %d, want %d", p.PredictedCount(), MaxPredictedFrames)
	}
}

// TestLastSeenCarriesForward verifies the next prediction assumes the
// other player repeats their last confirmed input.
func TestLastSeenCarriesForward(t *testing.T) {
	p := NewPredictor(newPredictorState(), 0)

	// Server frame 0 arrives first with the other player moving left.
	sf := serverFrame(t, 0, 0, input.FlagMoveLeft)
	if err := p.OnServerFrame(sf); err != nil {
		t.Fatal(err)
	}

	// The prediction for frame 1 should reuse that input, so a server
	// frame repeating it confirms rather than rolls back.
	if err := p.PredictFrame(1, encodeInput(t, 1, 0, 0), []uint16{1}); err != nil {
		t.Fatal(err)
	}
	sf1 := &frame.Frame{
		ID: 1,
		Inputs: map[uint16][]byte{
			0: encodeInput(t, 1, 0, 0),
			1: sf.Inputs[1],
		},
		Confirmed: true,
	}
	if err := p.OnServerFrame(sf1); err != nil {
		t.Fatal(err)
	}

	if p.Corrects != 1 || p.Rollbacks != 0 {
		t.Errorf("counters = %+v, want a clean confirm", p.Stats())
	}
}
