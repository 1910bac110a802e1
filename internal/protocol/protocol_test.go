package protocol

import (
	"bytes"
	"testing"

	"framesync/internal/frame"
)

// TestEnvelopeRoundTrip verifies type dispatch plus payload decode for
// the envelopes with interesting payloads.
func TestEnvelopeRoundTrip(t *testing.T) {
	t.Run("auth", func(t *testing.T) {
		data, err := Encode(TypeAuth, &AuthPayload{PlayerID: "player_1", RoomID: "lobby"})
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			t.Fatalf("DecodeEnvelope: %v", err)
		}
		if env.Type != TypeAuth {
			t.Errorf("type = %q, want auth", env.Type)
		}
		var p AuthPayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if p.PlayerID != "player_1" || p.RoomID != "lobby" {
			t.Errorf("payload = %+v", p)
		}
	})

	t.Run("input", func(t *testing.T) {
		raw := []byte{0, 1, 2, 3}
		data, err := Encode(TypeInput, &InputPayload{FrameID: -5, InputData: raw})
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		env, _ := DecodeEnvelope(data)
		var p InputPayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		// Negative frame ids must survive to reach the validator.
		if p.FrameID != -5 || !bytes.Equal(p.InputData, raw) {
			t.Errorf("payload = %+v", p)
		}
	})

	t.Run("gameFrame", func(t *testing.T) {
		f := &frame.Frame{
			ID:        77,
			Inputs:    map[uint16][]byte{0: {1, 2}, 3: {}},
			Confirmed: false,
		}
		data, err := Encode(TypeGameFrame, FrameToPayload(f))
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		env, _ := DecodeEnvelope(data)
		var p GameFramePayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}

		got := FrameFromPayload(p)
		if got.ID != 77 || got.Confirmed {
			t.Errorf("frame = %+v", got)
		}
		if !bytes.Equal(got.Input(0), []byte{1, 2}) {
			t.Errorf("input 0 = %x", got.Input(0))
		}
		if _, ok := got.Inputs[3]; !ok {
			t.Error("empty input for player 3 lost")
		}
	})
}

// TestDecodeEnvelopeRejectsGarbage verifies malformed bytes and missing
// type tags fail cleanly.
func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := DecodeEnvelope([]byte{0xC1, 0xFF, 0x00}); err == nil {
		t.Error("garbage bytes decoded")
	}

	data, err := Encode("", struct{}{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := DecodeEnvelope(data); err == nil {
		t.Error("empty type accepted")
	}
}

// TestAuthPayloadValid verifies the id length rules.
func TestAuthPayloadValid(t *testing.T) {
	long := make([]byte, MaxIDLength+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name string
		p    AuthPayload
		want bool
	}{
		{"ok", AuthPayload{PlayerID: "p1", RoomID: "r1"}, true},
		{"empty player", AuthPayload{RoomID: "r1"}, false},
		{"empty room", AuthPayload{PlayerID: "p1"}, false},
		{"player too long", AuthPayload{PlayerID: string(long), RoomID: "r1"}, false},
		{"room too long", AuthPayload{PlayerID: "p1", RoomID: string(long)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPlayerIndex verifies suffix parsing and the hash fallback.
func TestPlayerIndex(t *testing.T) {
	tests := []struct {
		id         string
		wantSuffix bool
		want       uint16
	}{
		{"player_0", true, 0},
		{"player_42", true, 42},
		{"team_red_7", true, 7},
		{"alice", false, 0},
		{"bob_", false, 0},
		{"carol_99999999", false, 0}, // overflows u16, falls back to hash
	}

	for _, tt := range tests {
		got := PlayerIndex(tt.id)
		if tt.wantSuffix {
			if got != tt.want {
				t.Errorf("PlayerIndex(%q) = %d, want %d", tt.id, got, tt.want)
			}
			continue
		}
		if got >= 1000 {
			t.Errorf("PlayerIndex(%q) = %d, want hash < 1000", tt.id, got)
		}
	}

	// Stable across calls.
	if PlayerIndex("alice") != PlayerIndex("alice") {
		t.Error("hash fallback not stable")
	}
}
