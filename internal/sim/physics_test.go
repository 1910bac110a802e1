package sim

import (
	"testing"

	"framesync/internal/fixed"
	"framesync/internal/input"
)

const stepMs = 33 // one 30 Hz tick

// TestUpdateGravityAndIntegration verifies the per-step pipeline order:
// gravity, velocity clamp, integrate, friction.
func TestUpdateGravityAndIntegration(t *testing.T) {
	cfg := DefaultConfig()
	p := NewEngine(cfg)
	e := NewEntity(1, 100, 100, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
	e.VX = fixed.FromInt(100)
	p.AddEntity(e)

	startY := e.Y
	p.Update(stepMs)

	wantVY := fixed.MulRaw(cfg.Gravity, stepMs, 1000)
	if e.VY != wantVY {
		t.Errorf("VY = %d, want %d", e.VY.Raw(), wantVY.Raw())
	}
	if e.Y <= startY {
		t.Error("gravity did not move the entity down")
	}

	// Friction runs after integration, on vx only.
	wantVX := fixed.FromInt(100).Mul(cfg.FrictionQ)
	if e.VX != wantVX {
		t.Errorf("VX after friction = %d, want %d", e.VX.Raw(), wantVX.Raw())
	}
}

// TestUpdateVelocityClamp verifies speeds saturate at MaxVelocity before
// integration.
func TestUpdateVelocityClamp(t *testing.T) {
	cfg := DefaultConfig()
	p := NewEngine(cfg)
	e := NewEntity(1, 500, 0, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
	e.VY = fixed.FromRaw(fixed.MaxRaw)
	p.AddEntity(e)

	p.Update(stepMs)

	if e.VY != cfg.MaxVelocity {
		t.Errorf("VY = %d, want clamp at %d", e.VY.Raw(), cfg.MaxVelocity.Raw())
	}
}

// TestUpdateZeroDt verifies dt <= 0 leaves the world untouched.
func TestUpdateZeroDt(t *testing.T) {
	cfg := DefaultConfig()
	p := NewEngine(cfg)
	e := NewEntity(1, 100, 100, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
	e.VX = fixed.FromInt(50)
	p.AddEntity(e)

	before := *e
	p.Update(0)
	p.Update(-10)

	if *e != before {
		t.Errorf("entity changed on zero dt: %+v != %+v", *e, before)
	}
}

// TestBoundaryClamp verifies every wall pins position and zeroes the
// offending velocity component.
func TestBoundaryClamp(t *testing.T) {
	cfg := DefaultConfig()

	run := func(x, y, vx, vy int32) *Entity {
		p := NewEngine(cfg)
		e := NewEntity(1, x, y, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
		e.VX = fixed.FromInt(vx)
		e.VY = fixed.FromInt(vy)
		p.AddEntity(e)
		p.Update(stepMs)
		return e
	}

	t.Run("left wall", func(t *testing.T) {
		e := run(1, 500, -1000, 0)
		if e.X != 0 || e.VX != 0 {
			t.Errorf("x=%d vx=%d, want both 0", e.X.Raw(), e.VX.Raw())
		}
	})

	t.Run("right wall", func(t *testing.T) {
		e := run(1918, 500, 1000, 0)
		if want := fixed.Sub(cfg.WorldWidth, cfg.EntityWidth); e.X != want || e.VX != 0 {
			t.Errorf("x=%d vx=%d, want x=%d vx=0", e.X.Raw(), e.VX.Raw(), want.Raw())
		}
	})

	t.Run("floor", func(t *testing.T) {
		e := run(500, 1079, 0, 1000)
		if want := fixed.Sub(cfg.WorldHeight, cfg.EntityHeight); e.Y != want || e.VY != 0 {
			t.Errorf("y=%d vy=%d, want y=%d vy=0", e.Y.Raw(), e.VY.Raw(), want.Raw())
		}
		if e.Flags&EntityFlagGrounded == 0 {
			t.Error("floor contact did not set grounded flag")
		}
	})
}

// TestCollisionSeparation verifies overlapping entities split along the
// least-overlap axis, half each, and the axis velocity zeroes.
func TestCollisionSeparation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gravity = 0 // isolate the collision response
	p := NewEngine(cfg)

	// Overlap 8 px along x, full overlap along y.
	a := NewEntity(1, 100, 500, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
	b := NewEntity(2, 124, 500, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
	a.VX = fixed.FromInt(50)
	b.VX = fixed.FromInt(-50)
	p.AddEntity(a)
	p.AddEntity(b)

	p.Update(stepMs)

	if len(p.CollisionPairs()) != 1 {
		t.Fatalf("collision pairs = %v, want one", p.CollisionPairs())
	}
	if a.VX != 0 || b.VX != 0 {
		t.Errorf("x velocities not zeroed: %d, %d", a.VX.Raw(), b.VX.Raw())
	}
	if a.X >= b.X {
		t.Errorf("separation inverted order: a.x=%d b.x=%d", a.X.Raw(), b.X.Raw())
	}
	if a.Overlaps(b) {
		ox := fixed.Sub(fixed.Add(a.X, a.Width), b.X)
		// A residual overlap of at most one raw unit comes from the
		// integer halving.
		if ox.Raw() > 1 {
			t.Errorf("still overlapping by %d raw units", ox.Raw())
		}
	}
}

// TestApplyInputMovement verifies velocity is rebuilt from flags.
func TestApplyInputMovement(t *testing.T) {
	cfg := DefaultConfig()
	p := NewEngine(cfg)
	e := NewEntity(1, 500, 500, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
	e.VX = fixed.FromInt(999)
	p.AddEntity(e)

	in := &input.PlayerInput{Flags: input.FlagMoveLeft | input.FlagMoveUp}
	p.ApplyInput(1, in)

	if e.VX != fixed.Neg(cfg.PlayerSpeed) || e.VY != fixed.Neg(cfg.PlayerSpeed) {
		t.Errorf("velocity = (%d,%d), want (-speed,-speed)", e.VX.Raw(), e.VY.Raw())
	}

	// No movement flags: entity stops.
	p.ApplyInput(1, &input.PlayerInput{})
	if e.VX != 0 || e.VY != 0 {
		t.Errorf("velocity after empty input = (%d,%d)", e.VX.Raw(), e.VY.Raw())
	}
}

// TestApplyInputAttack verifies in-range targets take damage and
// out-of-range targets do not.
func TestApplyInputAttack(t *testing.T) {
	cfg := DefaultConfig()
	p := NewEngine(cfg)

	attacker := NewEntity(1, 100, 100, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
	near := NewEntity(2, 130, 100, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
	far := NewEntity(3, 1000, 100, cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
	p.AddEntity(attacker)
	p.AddEntity(near)
	p.AddEntity(far)

	p.ApplyInput(1, &input.PlayerInput{Flags: input.FlagAttack})

	if near.HP != cfg.DefaultHP-cfg.AttackDamage {
		t.Errorf("near target hp = %d, want %d", near.HP, cfg.DefaultHP-cfg.AttackDamage)
	}
	if far.HP != cfg.DefaultHP {
		t.Errorf("far target hp = %d, want untouched", far.HP)
	}
	if attacker.Flags&EntityFlagAttacking == 0 {
		t.Error("attacking flag not set")
	}
}

// TestDamageClampsAndKills verifies hp never underflows and the dead
// flag latches.
func TestDamageClampsAndKills(t *testing.T) {
	e := NewEntity(1, 0, 0, fixed.FromInt(32), fixed.FromInt(32), 15)

	e.Damage(10)
	if e.HP != 5 || !e.Alive() {
		t.Errorf("hp = %d alive = %v", e.HP, e.Alive())
	}

	e.Damage(100)
	if e.HP != 0 || e.Alive() {
		t.Errorf("overkill: hp = %d alive = %v", e.HP, e.Alive())
	}

	e.Heal(50)
	if e.HP != 15 {
		t.Errorf("heal clamp: hp = %d, want MaxHP", e.HP)
	}
}

func BenchmarkUpdate(b *testing.B) {
	cfg := DefaultConfig()
	p := NewEngine(cfg)
	for id := uint32(1); id <= 32; id++ {
		e := NewEntity(id, int32(id*50%1800), int32(id*37%1000), cfg.EntityWidth, cfg.EntityHeight, cfg.DefaultHP)
		p.AddEntity(e)
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p.Update(stepMs)
	}
}
