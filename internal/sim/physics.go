package sim

import (
	"sort"

	"framesync/internal/fixed"
	"framesync/internal/input"
	"framesync/internal/sim/spatial"
)

// Config carries the tunable physics and combat constants, all in Q
// form. Peers must share an identical Config or their hashes diverge.
type Config struct {
	Gravity      fixed.Fixed // world units per second squared
	FrictionQ    fixed.Fixed // per-tick velocity multiplier
	MaxVelocity  fixed.Fixed
	WorldWidth   fixed.Fixed
	WorldHeight  fixed.Fixed
	EntityWidth  fixed.Fixed
	EntityHeight fixed.Fixed
	GridCellSize fixed.Fixed
	PlayerSpeed  fixed.Fixed
	AttackRange  fixed.Fixed
	AttackDamage uint32
	DefaultHP    uint32
}

// DefaultConfig returns the standard tuning. Friction 0.9 is expressed
// directly in Q form with integer math so every peer computes the same
// raw multiplier.
func DefaultConfig() Config {
	return Config{
		Gravity:      fixed.FromInt(980),
		FrictionQ:    fixed.FromRaw(int32(9 * fixed.Scale() / 10)),
		MaxVelocity:  fixed.FromInt(1000),
		WorldWidth:   fixed.FromInt(1920),
		WorldHeight:  fixed.FromInt(1080),
		EntityWidth:  fixed.FromInt(32),
		EntityHeight: fixed.FromInt(32),
		GridCellSize: fixed.FromInt(64),
		PlayerSpeed:  fixed.FromInt(300),
		AttackRange:  fixed.FromInt(50),
		AttackDamage: 10,
		DefaultHP:    100,
	}
}

// Engine advances entities with pure integer arithmetic. Entity
// iteration is always in ascending id order; that ordering is part of
// the cross-peer contract, not an optimisation.
type Engine struct {
	cfg Config

	entities map[uint32]*Entity
	ids      []uint32 // ascending, rebuilt on membership change

	grid       *spatial.Grid
	collisions []spatial.Pair
}

// NewEngine creates a physics engine with the given tuning.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		entities: make(map[uint32]*Entity),
		grid: spatial.NewGrid(
			int64(cfg.WorldWidth.Raw()),
			int64(cfg.WorldHeight.Raw()),
			int64(cfg.GridCellSize.Raw()),
		),
	}
}

// Config returns the engine tuning.
func (p *Engine) Config() Config { return p.cfg }

// AddEntity inserts an entity, replacing any previous holder of its id.
func (p *Engine) AddEntity(e *Entity) {
	if _, exists := p.entities[e.ID]; !exists {
		p.ids = append(p.ids, e.ID)
		sort.Slice(p.ids, func(i, j int) bool { return p.ids[i] < p.ids[j] })
	}
	p.entities[e.ID] = e
}

// RemoveEntity drops an entity by id.
func (p *Engine) RemoveEntity(id uint32) {
	if _, exists := p.entities[id]; !exists {
		return
	}
	delete(p.entities, id)
	for i, eid := range p.ids {
		if eid == id {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			break
		}
	}
}

// Entity returns an entity by id, nil if absent.
func (p *Engine) Entity(id uint32) *Entity { return p.entities[id] }

// EntityCount returns the number of live entities.
func (p *Engine) EntityCount() int { return len(p.entities) }

// SortedIDs returns the ascending entity id order shared by every
// deterministic traversal. The slice is the engine's own; do not mutate.
func (p *Engine) SortedIDs() []uint32 { return p.ids }

// Update advances the world by dtMs milliseconds: integrate, clamp to
// the world box, then resolve entity collisions. dt <= 0 is a no-op.
func (p *Engine) Update(dtMs int64) {
	if dtMs <= 0 {
		return
	}

	for _, id := range p.ids {
		e := p.entities[id]

		e.VY = fixed.Add(e.VY, fixed.MulRaw(p.cfg.Gravity, dtMs, 1000))

		e.VX = fixed.Clamp(e.VX, fixed.Neg(p.cfg.MaxVelocity), p.cfg.MaxVelocity)
		e.VY = fixed.Clamp(e.VY, fixed.Neg(p.cfg.MaxVelocity), p.cfg.MaxVelocity)

		e.X = fixed.Add(e.X, fixed.MulRaw(e.VX, dtMs, 1000))
		e.Y = fixed.Add(e.Y, fixed.MulRaw(e.VY, dtMs, 1000))

		e.VX = e.VX.Mul(p.cfg.FrictionQ)
	}

	p.clampToWorld()
	p.resolveCollisions()
}

// clampToWorld pins entities inside the world box, zeroing the velocity
// component that pushed them out. An entity resting on the floor is
// grounded.
func (p *Engine) clampToWorld() {
	for _, id := range p.ids {
		e := p.entities[id]

		if e.X < 0 {
			e.X = 0
			e.VX = 0
		}
		if maxX := fixed.Sub(p.cfg.WorldWidth, e.Width); e.X > maxX {
			e.X = maxX
			e.VX = 0
		}
		if e.Y < 0 {
			e.Y = 0
			e.VY = 0
		}
		maxY := fixed.Sub(p.cfg.WorldHeight, e.Height)
		if e.Y > maxY {
			e.Y = maxY
			e.VY = 0
			e.Flags |= EntityFlagGrounded
		} else {
			e.Flags &^= EntityFlagGrounded
		}
	}
}

// resolveCollisions rebuilds the grid from entity centres, walks the
// candidate pairs, and separates every overlapping pair.
func (p *Engine) resolveCollisions() {
	p.grid.Clear()
	for _, id := range p.ids {
		cx, cy := p.entities[id].Center()
		p.grid.Insert(id, int64(cx.Raw()), int64(cy.Raw()))
	}

	p.collisions = p.collisions[:0]
	for _, pair := range p.grid.CandidatePairs() {
		a, b := p.entities[pair.A], p.entities[pair.B]
		if a == nil || b == nil || !a.Overlaps(b) {
			continue
		}
		p.collisions = append(p.collisions, pair)
		p.separate(a, b)
	}
}

// separate pushes an overlapping pair apart along the axis of least
// overlap, half each. The halving is an integer shift: both peers must
// land on the exact same coordinates, so the lost low bit is accepted.
func (p *Engine) separate(a, b *Entity) {
	ox := minFixed(
		fixed.Sub(fixed.Add(a.X, a.Width), b.X),
		fixed.Sub(fixed.Add(b.X, b.Width), a.X),
	)
	oy := minFixed(
		fixed.Sub(fixed.Add(a.Y, a.Height), b.Y),
		fixed.Sub(fixed.Add(b.Y, b.Height), a.Y),
	)

	if ox < oy {
		half := fixed.FromRaw(ox.Raw() >> 1)
		if a.X < b.X {
			a.X = fixed.Sub(a.X, half)
			b.X = fixed.Add(b.X, half)
		} else {
			a.X = fixed.Add(a.X, half)
			b.X = fixed.Sub(b.X, half)
		}
		a.VX = 0
		b.VX = 0
	} else {
		half := fixed.FromRaw(oy.Raw() >> 1)
		if a.Y < b.Y {
			a.Y = fixed.Sub(a.Y, half)
			b.Y = fixed.Add(b.Y, half)
		} else {
			a.Y = fixed.Add(a.Y, half)
			b.Y = fixed.Sub(b.Y, half)
		}
		a.VY = 0
		b.VY = 0
	}
}

// ApplyInput translates a decoded input into entity velocity and combat
// actions. Velocity is rebuilt from scratch each frame so a released key
// stops the entity rather than leaving residual motion.
func (p *Engine) ApplyInput(entityID uint32, in *input.PlayerInput) {
	e := p.entities[entityID]
	if e == nil || !e.Alive() {
		return
	}

	var vx, vy fixed.Fixed
	if in.Has(input.FlagMoveLeft) {
		vx = fixed.Sub(vx, p.cfg.PlayerSpeed)
	}
	if in.Has(input.FlagMoveRight) {
		vx = fixed.Add(vx, p.cfg.PlayerSpeed)
	}
	if in.Has(input.FlagMoveUp) {
		vy = fixed.Sub(vy, p.cfg.PlayerSpeed)
	}
	if in.Has(input.FlagMoveDown) {
		vy = fixed.Add(vy, p.cfg.PlayerSpeed)
	}
	e.VX = vx
	e.VY = vy

	if in.Has(input.FlagAttack) {
		e.Flags |= EntityFlagAttacking
		p.attack(e)
	} else {
		e.Flags &^= EntityFlagAttacking
	}
}

// attack damages every other living entity whose centre is within the
// attack range. Targets are visited in ascending id order.
func (p *Engine) attack(attacker *Entity) {
	rangeRaw := int64(p.cfg.AttackRange.Raw())
	rangeSq := rangeRaw * rangeRaw

	for _, id := range p.ids {
		if id == attacker.ID {
			continue
		}
		target := p.entities[id]
		if !target.Alive() {
			continue
		}
		if attacker.DistanceSqRaw(target) <= rangeSq {
			target.Damage(p.cfg.AttackDamage)
		}
	}
}

// CollisionPairs returns the pairs resolved during the last Update. The
// slice is reused on the next call.
func (p *Engine) CollisionPairs() []spatial.Pair { return p.collisions }

// GridStats exposes broad-phase occupancy for the debug endpoints.
func (p *Engine) GridStats() spatial.GridStats { return p.grid.Stats() }

// replaceEntities swaps the whole entity set, used by snapshot restore.
func (p *Engine) replaceEntities(entities map[uint32]*Entity) {
	p.entities = entities
	p.ids = p.ids[:0]
	for id := range entities {
		p.ids = append(p.ids, id)
	}
	sort.Slice(p.ids, func(i, j int) bool { return p.ids[i] < p.ids[j] })
}

func minFixed(a, b fixed.Fixed) fixed.Fixed {
	if a < b {
		return a
	}
	return b
}
