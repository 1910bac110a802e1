package frame

import (
	"errors"
	"fmt"
	"testing"
)

// TestBufferAddInputValidation verifies the size and sign gates.
func TestBufferAddInputValidation(t *testing.T) {
	b := NewBuffer(DefaultBufferSize)

	if err := b.AddInput(-1, 0, []byte{1}); !errors.Is(err, ErrNegativeFrame) {
		t.Errorf("negative frame error = %v, want ErrNegativeFrame", err)
	}
	if err := b.AddInput(0, 0, make([]byte, MaxInputSize+1)); !errors.Is(err, ErrInputTooLarge) {
		t.Errorf("oversized error = %v, want ErrInputTooLarge", err)
	}
	if err := b.AddInput(0, 0, make([]byte, MaxInputSize)); err != nil {
		t.Errorf("max-size input rejected: %v", err)
	}
}

// TestBufferCommit verifies a frame commits exactly when every player
// has contributed, and pending state moves wholesale into the frame.
func TestBufferCommit(t *testing.T) {
	b := NewBuffer(DefaultBufferSize)

	if err := b.AddInput(0, 0, []byte{0xA}); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if f := b.TryCommit(0, 2); f != nil {
		t.Error("committed with one of two players")
	}

	if err := b.AddInput(0, 1, []byte{0xB}); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	f := b.TryCommit(0, 2)
	if f == nil {
		t.Fatal("commit failed with all players present")
	}
	if !f.Confirmed || f.ID != 0 {
		t.Errorf("frame = %+v, want confirmed id 0", f)
	}
	if string(f.Input(0)) != "\x0a" || string(f.Input(1)) != "\x0b" {
		t.Errorf("inputs = %x / %x", f.Input(0), f.Input(1))
	}
	if b.PendingCount(0) != 0 {
		t.Error("pending slot survived commit")
	}
}

// TestBufferLateInputReplaces verifies a resend for a still-pending
// frame replaces the earlier bytes rather than duplicating them.
func TestBufferLateInputReplaces(t *testing.T) {
	b := NewBuffer(DefaultBufferSize)

	_ = b.AddInput(5, 0, []byte{1})
	_ = b.AddInput(5, 0, []byte{2})
	if got := b.PendingCount(5); got != 1 {
		t.Fatalf("PendingCount = %d, want 1", got)
	}

	f := b.TryCommit(5, 1)
	if f == nil || string(f.Input(0)) != "\x02" {
		t.Errorf("frame input = %x, want the replacement", f.Input(0))
	}
}

// TestExecutableFrameID verifies the buffer window arithmetic, including
// the negative result before the window fills.
func TestExecutableFrameID(t *testing.T) {
	b := NewBuffer(3)
	tests := []struct {
		current uint32
		want    int64
	}{
		{0, -3},
		{2, -1},
		{3, 0},
		{100, 97},
	}
	for _, tt := range tests {
		if got := b.ExecutableFrameID(tt.current); got != tt.want {
			t.Errorf("ExecutableFrameID(%d) = %d, want %d", tt.current, got, tt.want)
		}
	}
}

// TestEngineTickOrder verifies commits advance the cursor one frame at a
// time in strictly ascending order.
func TestEngineTickOrder(t *testing.T) {
	e := NewEngine()
	e.SetPlayers([]uint16{0, 1})

	var committed []uint32
	for fid := int64(0); fid < 5; fid++ {
		_ = e.AddInput(fid, 0, []byte{byte(fid)})
		if f := e.Tick(); f != nil {
			t.Fatalf("frame %d committed with a player missing", fid)
		}
		_ = e.AddInput(fid, 1, []byte{byte(fid)})
		f := e.Tick()
		if f == nil {
			t.Fatalf("frame %d did not commit", fid)
		}
		committed = append(committed, f.ID)
	}

	for i, fid := range committed {
		if fid != uint32(i) {
			t.Errorf("commit %d has id %d, want %d", i, fid, i)
		}
	}
	if e.CurrentFrame() != 5 {
		t.Errorf("cursor = %d, want 5", e.CurrentFrame())
	}
}

// TestEngineOutOfOrderArrival verifies a future frame's inputs wait
// until the cursor reaches them; frames never commit out of order.
func TestEngineOutOfOrderArrival(t *testing.T) {
	e := NewEngine()
	e.SetPlayers([]uint16{0})

	// Frame 1 arrives before frame 0.
	_ = e.AddInput(1, 0, []byte{1})
	if f := e.Tick(); f != nil {
		t.Fatalf("committed frame %d before frame 0", f.ID)
	}

	_ = e.AddInput(0, 0, []byte{0})
	if f := e.Tick(); f == nil || f.ID != 0 {
		t.Fatal("frame 0 did not commit first")
	}
	if f := e.Tick(); f == nil || f.ID != 1 {
		t.Fatal("frame 1 did not commit second")
	}
}

// TestEngineForceTick verifies the deadline path: missing players get
// empty inputs and the frame is marked unconfirmed.
func TestEngineForceTick(t *testing.T) {
	e := NewEngine()
	e.SetPlayers([]uint16{0, 1, 2})

	_ = e.AddInput(0, 1, []byte{0xFF})
	f := e.ForceTick()
	if f == nil {
		t.Fatal("ForceTick returned nil")
	}
	if f.Confirmed {
		t.Error("forced frame marked confirmed")
	}
	if !f.Complete(3) {
		t.Errorf("forced frame has %d inputs, want 3", len(f.Inputs))
	}
	if len(f.Input(0)) != 0 || len(f.Input(2)) != 0 {
		t.Error("missing players not filled with empty inputs")
	}
	if string(f.Input(1)) != "\xff" {
		t.Error("present player's input lost")
	}
	if e.CurrentFrame() != 1 {
		t.Errorf("cursor = %d, want 1", e.CurrentFrame())
	}
}

// TestEngineForceTickNoInputs verifies force commit works on a frame
// with no inputs at all (every player timed out).
func TestEngineForceTickNoInputs(t *testing.T) {
	e := NewEngine()
	e.SetPlayers([]uint16{0, 1})

	f := e.ForceTick()
	if f == nil || !f.Complete(2) {
		t.Fatal("empty force commit did not fill all players")
	}
	if _, ok := e.Deadline(); ok {
		t.Error("deadline survived force commit")
	}
}

// TestEngineHistory verifies reconnect catch-up reads and the ring cap.
func TestEngineHistory(t *testing.T) {
	e := NewEngine()
	e.SetPlayers([]uint16{0})

	const total = 400
	for fid := int64(0); fid < total; fid++ {
		_ = e.AddInput(fid, 0, []byte{byte(fid)})
		if e.Tick() == nil {
			t.Fatalf("frame %d did not commit", fid)
		}
	}

	// Oldest frames fell out of the ring.
	if e.HistoryFrame(0) != nil {
		t.Error("frame 0 still in history past the cap")
	}
	if e.HistoryFrame(total-1) == nil {
		t.Error("newest frame missing from history")
	}

	// Catch-up from a frame inside the ring is dense and ascending.
	frames := e.HistoryAfter(total - 10)
	if len(frames) != 9 {
		t.Fatalf("HistoryAfter returned %d frames, want 9", len(frames))
	}
	for i, f := range frames {
		if f.ID != uint32(total-9+i) {
			t.Errorf("catch-up frame %d has id %d", i, f.ID)
		}
	}
}

// TestEngineTimestampsMonotonic verifies committed frames carry
// non-decreasing timestamps.
func TestEngineTimestampsMonotonic(t *testing.T) {
	e := NewEngine()
	e.SetPlayers([]uint16{0})

	var frames []*Frame
	for fid := int64(0); fid < 10; fid++ {
		_ = e.AddInput(fid, 0, nil)
		frames = append(frames, e.Tick())
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Timestamp.Before(frames[i-1].Timestamp) {
			t.Fatalf("frame %d timestamp precedes frame %d", i, i-1)
		}
	}
}

// TestEngineSizedHistory verifies a configured history cap is honoured:
// frames behind the window are evicted, frames inside it survive.
func TestEngineSizedHistory(t *testing.T) {
	e := NewEngineSized(3, 50)
	e.SetPlayers([]uint16{0})

	for fid := int64(0); fid < 100; fid++ {
		_ = e.AddInput(fid, 0, nil)
		if e.Tick() == nil {
			t.Fatalf("frame %d did not commit", fid)
		}
	}

	if e.HistoryFrame(10) != nil {
		t.Error("frame 10 survived past the configured history cap")
	}
	if e.HistoryFrame(99) == nil {
		t.Error("newest frame missing from history")
	}
	if got := e.HistoryAfter(98); len(got) == 0 {
		t.Error("HistoryAfter lost frames inside the window")
	}
}

func BenchmarkEngineTick(b *testing.B) {
	e := NewEngine()
	e.SetPlayers([]uint16{0, 1, 2, 3})
	payload := []byte{1, 2, 3, 4}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for pid := uint16(0); pid < 4; pid++ {
			if err := e.AddInput(int64(i), pid, payload); err != nil {
				b.Fatal(err)
			}
		}
		if e.Tick() == nil {
			b.Fatal(fmt.Sprintf("frame %d did not commit", i))
		}
	}
}
