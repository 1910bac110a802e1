package sim

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"framesync/internal/fixed"
	"framesync/internal/frame"
	"framesync/internal/input"
)

// DefaultMaxSnapshots bounds the snapshot ring: 60 frames is two
// seconds at 30 Hz, comfortably past the prediction horizon.
const DefaultMaxSnapshots = 60

// Snapshot is a frozen copy of the world at one frame: the canonical
// entity bytes, the RNG state needed to replay forward, and the MD5 of
// the entity bytes. Snapshots are immutable once taken.
type Snapshot struct {
	FrameID  uint32
	Entities []byte
	RNGState uint32
	Hash     string
}

// GameState couples the physics engine with frame application, the
// player-to-entity mapping, and the hashed snapshot ring. It is the
// object both the predictor and any observer advance.
type GameState struct {
	frameID uint32
	physics *Engine
	rng     *fixed.RNG

	playerToEntity map[uint16]uint32

	snapshots    map[uint32]*Snapshot
	maxSnapshots int

	dtMs int64
}

// NewGameState creates a world with the given tuning, simulation step,
// and RNG seed. Every peer in a session must pass identical arguments.
func NewGameState(cfg Config, dtMs int64, seed uint32) *GameState {
	return &GameState{
		physics:        NewEngine(cfg),
		rng:            fixed.NewRNG(seed),
		playerToEntity: make(map[uint16]uint32),
		snapshots:      make(map[uint32]*Snapshot),
		maxSnapshots:   DefaultMaxSnapshots,
		dtMs:           dtMs,
	}
}

// SetMaxSnapshots resizes the snapshot ring. Values under one keep the
// current capacity; existing entries are evicted lazily on the next
// save.
func (gs *GameState) SetMaxSnapshots(n int) {
	if n > 0 {
		gs.maxSnapshots = n
	}
}

// FrameID returns the id of the last applied frame.
func (gs *GameState) FrameID() uint32 { return gs.frameID }

// Physics exposes the underlying engine for direct entity access.
func (gs *GameState) Physics() *Engine { return gs.physics }

// RNG exposes the deterministic generator for gameplay rolls.
func (gs *GameState) RNG() *fixed.RNG { return gs.rng }

// SpawnPlayer creates the entity for a player index. Both the spawn
// point and the entity id derive from the index alone: peers learn
// about players in different orders (join list versus live join
// events), so any order-dependent id assignment would diverge their
// hashes.
func (gs *GameState) SpawnPlayer(playerID uint16) *Entity {
	if eid, ok := gs.playerToEntity[playerID]; ok {
		return gs.physics.Entity(eid)
	}

	cfg := gs.physics.Config()
	x := 100 + (200*int32(playerID))%1700
	y := int32(100)

	e := NewEntity(uint32(playerID)+1, x, y, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
	gs.physics.AddEntity(e)
	gs.playerToEntity[playerID] = e.ID
	return e
}

// RemovePlayer drops a player's entity from the world.
func (gs *GameState) RemovePlayer(playerID uint16) {
	eid, ok := gs.playerToEntity[playerID]
	if !ok {
		return
	}
	gs.physics.RemoveEntity(eid)
	delete(gs.playerToEntity, playerID)
}

// EntityFor returns the entity controlled by a player, nil if none.
func (gs *GameState) EntityFor(playerID uint16) *Entity {
	if eid, ok := gs.playerToEntity[playerID]; ok {
		return gs.physics.Entity(eid)
	}
	return nil
}

// PlayerCount returns the number of mapped players.
func (gs *GameState) PlayerCount() int { return len(gs.playerToEntity) }

// ApplyFrame applies one committed frame: decode and apply each
// player's input in ascending player order, then advance the physics
// step. Empty input bytes mean the player contributed nothing that
// frame; the entity coasts.
func (gs *GameState) ApplyFrame(f *frame.Frame) error {
	players := make([]uint16, 0, len(f.Inputs))
	for pid := range f.Inputs {
		players = append(players, pid)
	}
	sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })

	for _, pid := range players {
		data := f.Inputs[pid]
		if len(data) == 0 {
			continue
		}
		in, err := input.Decode(data)
		if err != nil {
			return fmt.Errorf("frame %d player %d: %w", f.ID, pid, err)
		}
		eid, ok := gs.playerToEntity[pid]
		if !ok {
			continue
		}
		gs.physics.ApplyInput(eid, in)
	}

	gs.physics.Update(gs.dtMs)
	gs.frameID = f.ID
	return nil
}

// canonicalBytes serialises the world in a fixed order: entity count
// then each entity ascending by id. This byte stream is the hashing and
// snapshot unit.
func (gs *GameState) canonicalBytes() []byte {
	ids := gs.physics.SortedIDs()
	buf := make([]byte, 4, 4+len(ids)*entityWireSize)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(ids)))
	for _, id := range ids {
		buf = gs.physics.Entity(id).appendWire(buf)
	}
	return buf
}

// ComputeStateHash returns the MD5 of the canonical serialisation as a
// hex string. Peers that applied the same ordered frames must agree on
// every character. Divergence detection only; never a security check.
func (gs *GameState) ComputeStateHash() string {
	sum := md5.Sum(gs.canonicalBytes())
	return hex.EncodeToString(sum[:])
}

// SaveSnapshot freezes the current world under the current frame id and
// stores it in the ring, evicting the oldest entry past capacity.
func (gs *GameState) SaveSnapshot() *Snapshot {
	return gs.SaveSnapshotAs(gs.frameID)
}

// SaveSnapshotAs freezes the current world under an explicit frame id.
// The predictor keys its pre-application snapshot by the frame it is
// about to predict, so a rollback to that frame restores the world as
// it stood just before the frame applied.
func (gs *GameState) SaveSnapshotAs(frameID uint32) *Snapshot {
	entities := gs.canonicalBytes()
	sum := md5.Sum(entities)

	snap := &Snapshot{
		FrameID:  frameID,
		Entities: entities,
		RNGState: gs.rng.State(),
		Hash:     hex.EncodeToString(sum[:]),
	}
	gs.snapshots[frameID] = snap

	for len(gs.snapshots) > gs.maxSnapshots {
		oldest := frameID
		for fid := range gs.snapshots {
			if fid < oldest {
				oldest = fid
			}
		}
		delete(gs.snapshots, oldest)
	}
	return snap
}

// Snapshot returns the stored snapshot for a frame, nil if evicted or
// never taken.
func (gs *GameState) Snapshot(frameID uint32) *Snapshot { return gs.snapshots[frameID] }

// RestoreSnapshot replaces the entire entity set and RNG state with a
// stored snapshot's contents. The player mapping survives; entity ids
// are stable across restore.
func (gs *GameState) RestoreSnapshot(frameID uint32) error {
	snap := gs.snapshots[frameID]
	if snap == nil {
		return fmt.Errorf("sim: no snapshot for frame %d", frameID)
	}

	count := binary.BigEndian.Uint32(snap.Entities[:4])
	entities := make(map[uint32]*Entity, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		e := entityFromWire(snap.Entities[off : off+entityWireSize])
		entities[e.ID] = &e
		off += entityWireSize
	}

	gs.physics.replaceEntities(entities)
	gs.rng.SetState(snap.RNGState)
	gs.frameID = snap.FrameID
	return nil
}
