package server

import (
	"errors"
	"testing"

	"framesync/internal/input"
)

// seatPlayers inserts sessions directly into the room, bypassing the
// join broadcast, for tests that drive the scheduler by hand.
func seatPlayers(r *Room, sessions ...*Session) {
	r.mu.Lock()
	for _, s := range sessions {
		r.sessions[s.PlayerID] = s
	}
	r.syncEnginePlayers()
	r.mu.Unlock()
}

// TestRoomSustainedConfirmedSession drives two players through 300
// consecutive frames, each sending one movement input per tick the way
// a live client does, and expects every single frame to commit
// confirmed. A rate limiter that throttles the normal input cadence
// shows up here as an unconfirmed or missing frame.
func TestRoomSustainedConfirmedSession(t *testing.T) {
	room := NewRoom("room_sustained", testConfig(), nil)
	a := &Session{PlayerID: "player_0", RoomID: room.ID, Index: 0}
	b := &Session{PlayerID: "player_1", RoomID: room.ID, Index: 1}
	seatPlayers(room, a, b)

	for fid := uint32(0); fid < 300; fid++ {
		room.HandleInput(a, int64(fid), encodedInput(t, fid, 0, input.FlagMoveRight))
		room.HandleInput(b, int64(fid), encodedInput(t, fid, 1, input.FlagMoveLeft))

		f := room.engine.Tick()
		if f == nil {
			t.Fatalf("frame %d did not commit", fid)
		}
		if !f.Confirmed {
			t.Fatalf("frame %d committed unconfirmed", fid)
		}
	}
}

// TestRoomStartThreshold verifies the configured player count gates the
// game start instead of a fixed constant.
func TestRoomStartThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Game.PlayerCount = 3
	room := NewRoom("room_threshold", cfg, nil)

	seatPlayers(room,
		&Session{PlayerID: "player_0", RoomID: room.ID, Index: 0},
		&Session{PlayerID: "player_1", RoomID: room.ID, Index: 1},
	)
	room.mu.Lock()
	ready := room.readyToStartLocked()
	room.mu.Unlock()
	if ready {
		t.Fatal("room ready to start with 2 of 3 players")
	}

	seatPlayers(room, &Session{PlayerID: "player_2", RoomID: room.ID, Index: 2})
	room.mu.Lock()
	ready = room.readyToStartLocked()
	room.mu.Unlock()
	if !ready {
		t.Fatal("room not ready to start with 3 of 3 players")
	}
}

// TestClosedRoomReplacedOnJoin covers the teardown race: after the last
// player leaves, the room is closed and removed, and a joiner arriving
// with a stale reference must get a fresh room rather than one whose
// tick loop has exited.
func TestClosedRoomReplacedOnJoin(t *testing.T) {
	gs := New(testConfig())
	t.Cleanup(gs.rateLimiter.Stop)

	room := gs.getOrCreateRoom("room_race")
	t.Cleanup(room.Stop)

	s := &Session{PlayerID: "player_0", RoomID: room.ID, Index: 0}
	if err := room.AddPlayer(s); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if !room.RemovePlayer(s) {
		t.Fatal("RemovePlayer did not report the room empty")
	}
	if !room.Closed() {
		t.Fatal("emptied room not marked closed")
	}

	// A joiner holding the stale pointer is refused outright.
	late := &Session{PlayerID: "player_1", RoomID: room.ID, Index: 1}
	if err := room.AddPlayer(late); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("AddPlayer on closed room = %v, want ErrRoomClosed", err)
	}

	// The registry hands out a live replacement.
	fresh := gs.getOrCreateRoom("room_race")
	t.Cleanup(fresh.Stop)
	if fresh == room {
		t.Fatal("registry returned the closed room")
	}
	if err := fresh.AddPlayer(late); err != nil {
		t.Fatalf("AddPlayer on fresh room: %v", err)
	}
	fresh.RemovePlayer(late)
}
