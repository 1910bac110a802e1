// Package fixed provides the deterministic math primitives shared by every
// peer in a session: Q16.16 fixed-point arithmetic and seedable RNGs.
//
// All cross-peer calculations use only integer operations. Multiplication
// and division widen to 64 bits before shifting so intermediate results
// never overflow, and every operation saturates to the int32 range instead
// of wrapping. Two peers configured with the same fraction bits produce
// bit-identical results for any sequence of operations.
package fixed

import (
	"fmt"
	"math"
)

// Fixed is a signed 32-bit fixed-point number. With the default
// configuration the high 16 bits are the integer part and the low 16 bits
// the fraction (Q16.16).
type Fixed int32

const (
	// MaxRaw is the largest representable raw value.
	MaxRaw = math.MaxInt32
	// MinRaw is the smallest representable raw value. Saturation clamps
	// to -MaxRaw so Abs never overflows.
	MinRaw = -math.MaxInt32
)

// Package-level precision. Single configuration point: all peers in a
// session must call Configure with the same value before any arithmetic.
var (
	fractionBits uint = 16
	scale        int64 = 1 << 16
)

// Configure sets the number of fraction bits. Valid range is 1..30.
// Peers with mismatched fraction bits diverge immediately, so this is
// called exactly once at process start from the loaded configuration.
func Configure(bits int) error {
	if bits < 1 || bits > 30 {
		return fmt.Errorf("fraction bits must be 1-30, got %d", bits)
	}
	fractionBits = uint(bits)
	scale = 1 << uint(bits)
	return nil
}

// Bits returns the configured fraction bits.
func Bits() int { return int(fractionBits) }

// Scale returns the scale factor 2^Bits.
func Scale() int64 { return scale }

// saturate clamps a 64-bit intermediate to the representable range.
func saturate(v int64) Fixed {
	if v > MaxRaw {
		return MaxRaw
	}
	if v < MinRaw {
		return MinRaw
	}
	return Fixed(v)
}

// FromInt converts an integer to fixed point, saturating on overflow.
func FromInt(v int32) Fixed {
	return saturate(int64(v) << fractionBits)
}

// FromFloat converts a float to fixed point. Only used at configuration
// and display boundaries, never inside cross-peer simulation code.
func FromFloat(v float64) Fixed {
	return saturate(int64(v * float64(scale)))
}

// FromRaw reinterprets a raw int32 as fixed point (deserialization).
func FromRaw(raw int32) Fixed { return Fixed(raw) }

// Raw returns the underlying int32 value.
func (f Fixed) Raw() int32 { return int32(f) }

// Int truncates to the integer part. Go's >> on signed integers is an
// arithmetic shift, so negative values stay sign-correct.
func (f Fixed) Int() int32 { return int32(f) >> fractionBits }

// Round rounds to the nearest integer.
func (f Fixed) Round() int32 {
	return int32(saturate(int64(f)+scale>>1)) >> fractionBits
}

// Float converts to float64 for rendering and logs only.
func (f Fixed) Float() float64 { return float64(f) / float64(scale) }

// Add returns f+o with saturation.
func (f Fixed) Add(o Fixed) Fixed { return saturate(int64(f) + int64(o)) }

// Sub returns f-o with saturation.
func (f Fixed) Sub(o Fixed) Fixed { return saturate(int64(f) - int64(o)) }

// Mul returns (f*o)>>bits, widening to 64 bits first.
func (f Fixed) Mul(o Fixed) Fixed {
	return saturate((int64(f) * int64(o)) >> fractionBits)
}

// Div returns (f<<bits)/o, widening to 64 bits first. Division by zero
// saturates toward the sign of f; it never panics so a malformed input
// cannot crash the simulation.
func (f Fixed) Div(o Fixed) Fixed {
	if o == 0 {
		if f < 0 {
			return MinRaw
		}
		return MaxRaw
	}
	return saturate((int64(f) << fractionBits) / int64(o))
}

// Neg returns -f with saturation.
func (f Fixed) Neg() Fixed { return saturate(-int64(f)) }

// Abs returns |f| with saturation.
func (f Fixed) Abs() Fixed {
	if f < 0 {
		return f.Neg()
	}
	return f
}

// Clamp limits f to [lo, hi].
func (f Fixed) Clamp(lo, hi Fixed) Fixed {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

// Package-level forms of the arithmetic methods, for call sites that
// read better prefix style (fixed.Add(a, b) vs a.Add(b)).

// Add returns a+b with saturation.
func Add(a, b Fixed) Fixed { return a.Add(b) }

// Sub returns a-b with saturation.
func Sub(a, b Fixed) Fixed { return a.Sub(b) }

// Mul returns (a*b)>>bits.
func Mul(a, b Fixed) Fixed { return a.Mul(b) }

// Div returns (a<<bits)/b.
func Div(a, b Fixed) Fixed { return a.Div(b) }

// Neg returns -a with saturation.
func Neg(a Fixed) Fixed { return a.Neg() }

// Abs returns |a| with saturation.
func Abs(a Fixed) Fixed { return a.Abs() }

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi Fixed) Fixed { return v.Clamp(lo, hi) }

// MulRaw multiplies a raw fixed value by a plain integer and divides by a
// plain integer, widening to 64 bits. This is the v*dt/1000 pattern the
// physics integrator uses; factoring it here keeps the widening in one
// audited place.
func MulRaw(f Fixed, num, den int64) Fixed {
	if den == 0 {
		return 0
	}
	return saturate(int64(f) * num / den)
}

// Sqrt returns the integer square root of a non-negative raw value using
// Newton's method. Used by fixed-point distance; deterministic because it
// is pure integer iteration.
func Sqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

func (f Fixed) String() string {
	return fmt.Sprintf("%g", f.Float())
}
