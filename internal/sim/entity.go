// Package sim is the deterministic simulation kernel: entities, integer
// physics with AABB collision over a spatial grid, and hashed state
// snapshots. Every peer that applies the identical ordered frame stream
// through this package produces byte-identical state; nothing in here
// touches floating point on a cross-peer path.
package sim

import (
	"encoding/binary"

	"framesync/internal/fixed"
)

// Entity state flag bits.
const (
	EntityFlagGrounded  uint32 = 1 << 0
	EntityFlagAttacking uint32 = 1 << 1
	EntityFlagDead      uint32 = 1 << 2
)

// entityWireSize is the canonical serialized size of one entity.
const entityWireSize = 40

// Entity is one simulated object. Position, velocity, and extents are
// Q-format fixed point.
type Entity struct {
	ID     uint32
	X, Y   fixed.Fixed
	VX, VY fixed.Fixed
	Width  fixed.Fixed
	Height fixed.Fixed
	HP     uint32
	MaxHP  uint32
	Flags  uint32
}

// NewEntity creates an entity at integer world coordinates with the
// given extents and hit points.
func NewEntity(id uint32, x, y int32, width, height fixed.Fixed, hp uint32) *Entity {
	return &Entity{
		ID:     id,
		X:      fixed.FromInt(x),
		Y:      fixed.FromInt(y),
		Width:  width,
		Height: height,
		HP:     hp,
		MaxHP:  hp,
	}
}

// Bounds returns the AABB corners (x1, y1, x2, y2).
func (e *Entity) Bounds() (x1, y1, x2, y2 fixed.Fixed) {
	return e.X, e.Y, fixed.Add(e.X, e.Width), fixed.Add(e.Y, e.Height)
}

// Center returns the AABB centre, used for grid hashing and range checks.
func (e *Entity) Center() (cx, cy fixed.Fixed) {
	return fixed.Add(e.X, fixed.FromRaw(e.Width.Raw()>>1)),
		fixed.Add(e.Y, fixed.FromRaw(e.Height.Raw()>>1))
}

// Overlaps reports AABB intersection with another entity.
func (e *Entity) Overlaps(o *Entity) bool {
	ax1, ay1, ax2, ay2 := e.Bounds()
	bx1, by1, bx2, by2 := o.Bounds()
	return ax1 < bx2 && ax2 > bx1 && ay1 < by2 && ay2 > by1
}

// DistanceSqRaw returns the squared centre distance in raw Q units,
// widened to 64 bits. Comparing squared distances avoids the square
// root on hot paths.
func (e *Entity) DistanceSqRaw(o *Entity) int64 {
	acx, acy := e.Center()
	bcx, bcy := o.Center()
	dx := int64(acx.Raw()) - int64(bcx.Raw())
	dy := int64(acy.Raw()) - int64(bcy.Raw())
	return dx*dx + dy*dy
}

// DistanceRaw returns the centre distance in raw Q units via integer
// square root. Deterministic but slower than DistanceSqRaw.
func (e *Entity) DistanceRaw(o *Entity) int64 {
	return fixed.Sqrt(e.DistanceSqRaw(o))
}

// Damage subtracts hit points, clamping at zero and setting the dead
// flag when they run out.
func (e *Entity) Damage(amount uint32) {
	if amount >= e.HP {
		e.HP = 0
		e.Flags |= EntityFlagDead
		return
	}
	e.HP -= amount
}

// Heal adds hit points, clamping at MaxHP.
func (e *Entity) Heal(amount uint32) {
	e.HP += amount
	if e.HP > e.MaxHP {
		e.HP = e.MaxHP
	}
}

// Alive reports whether the entity still has hit points.
func (e *Entity) Alive() bool { return e.Flags&EntityFlagDead == 0 }

// appendWire appends the canonical big-endian representation. This
// layout is the unit of state hashing; changing it changes every hash.
func (e *Entity) appendWire(buf []byte) []byte {
	var w [entityWireSize]byte
	binary.BigEndian.PutUint32(w[0:4], e.ID)
	binary.BigEndian.PutUint32(w[4:8], uint32(e.X.Raw()))
	binary.BigEndian.PutUint32(w[8:12], uint32(e.Y.Raw()))
	binary.BigEndian.PutUint32(w[12:16], uint32(e.VX.Raw()))
	binary.BigEndian.PutUint32(w[16:20], uint32(e.VY.Raw()))
	binary.BigEndian.PutUint32(w[20:24], uint32(e.Width.Raw()))
	binary.BigEndian.PutUint32(w[24:28], uint32(e.Height.Raw()))
	binary.BigEndian.PutUint32(w[28:32], e.HP)
	binary.BigEndian.PutUint32(w[32:36], e.MaxHP)
	binary.BigEndian.PutUint32(w[36:40], e.Flags)
	return append(buf, w[:]...)
}

// entityFromWire decodes one canonical entity record.
func entityFromWire(w []byte) Entity {
	return Entity{
		ID:     binary.BigEndian.Uint32(w[0:4]),
		X:      fixed.FromRaw(int32(binary.BigEndian.Uint32(w[4:8]))),
		Y:      fixed.FromRaw(int32(binary.BigEndian.Uint32(w[8:12]))),
		VX:     fixed.FromRaw(int32(binary.BigEndian.Uint32(w[12:16]))),
		VY:     fixed.FromRaw(int32(binary.BigEndian.Uint32(w[16:20]))),
		Width:  fixed.FromRaw(int32(binary.BigEndian.Uint32(w[20:24]))),
		Height: fixed.FromRaw(int32(binary.BigEndian.Uint32(w[24:28]))),
		HP:     binary.BigEndian.Uint32(w[28:32]),
		MaxHP:  binary.BigEndian.Uint32(w[32:36]),
		Flags:  binary.BigEndian.Uint32(w[36:40]),
	}
}

// clone returns a value copy for snapshots.
func (e *Entity) clone() Entity { return *e }
