// Package logic implements the four-valued (Logic-0, Logic-1, High-Z,
// Undefined) bit-packed algebra the simulation core evaluates netlists
// over. Every function here is pure and branch-free across bit lanes:
// it operates on up to 32 single-bit lanes packed into one Atom.
package logic

import "math/bits"

// Atom packs up to 32 single-bit four-valued logic values. For lane i,
// (Valid_i, State_i) encodes: (0,0)=High-Z, (0,1)=Undefined, (1,0)=Logic-0,
// (1,1)=Logic-1.
type Atom struct {
	State uint32
	Valid uint32
}

// Distinguished single-lane constants, each with all 32 lanes set the same.
var (
	HighZ     = Atom{State: 0x00000000, Valid: 0x00000000}
	Undefined = Atom{State: 0xFFFFFFFF, Valid: 0x00000000}
	Logic0    = Atom{State: 0x00000000, Valid: 0xFFFFFFFF}
	Logic1    = Atom{State: 0xFFFFFFFF, Valid: 0xFFFFFFFF}
)

// Bit is a single four-valued logic lane, used where a value can't be
// packed alongside 31 others — e.g. a tri-state enable line or a carry.
type Bit struct {
	State bool
	Valid bool
}

// BitAt extracts lane i (0..31) of an Atom as a Bit.
func BitAt(a Atom, i uint) Bit {
	return Bit{
		State: (a.State>>i)&1 != 0,
		Valid: (a.Valid>>i)&1 != 0,
	}
}

// Not inverts every lane. High-Z and Undefined both map to Undefined.
func Not(x Atom) Atom {
	return Atom{
		State: ^x.State | ^x.Valid,
		Valid: x.Valid,
	}
}

// And folds two atoms lane-wise. A valid 0 is absorbing; otherwise any
// invalid operand makes the lane Undefined.
func And(a, b Atom) Atom {
	return Atom{
		State: (a.State & b.State) | (^a.Valid & ^b.Valid) | (a.State & ^b.Valid) | (b.State & ^a.Valid),
		Valid: (a.Valid & b.Valid) | (^a.State & a.Valid) | (^b.State & b.Valid),
	}
}

// Or folds two atoms lane-wise. A valid 1 is absorbing; otherwise any
// invalid operand makes the lane Undefined.
func Or(a, b Atom) Atom {
	return Atom{
		State: a.State | ^a.Valid | b.State | ^b.Valid,
		Valid: (a.State & a.Valid) | (b.State & b.Valid) | (a.Valid & b.Valid),
	}
}

// Xor folds two atoms lane-wise. The result is valid only when both
// operands are valid; otherwise the lane is forced Undefined.
func Xor(a, b Atom) Atom {
	return Atom{
		State: (a.State ^ b.State) | ^a.Valid | ^b.Valid,
		Valid: a.Valid & b.Valid,
	}
}

func Nand(a, b Atom) Atom { return Not(And(a, b)) }
func Nor(a, b Atom) Atom  { return Not(Or(a, b)) }
func Xnor(a, b Atom) Atom { return Not(Xor(a, b)) }

// Combine merges two drivers of the same wire bit, as used by the wire
// kernel's bus-resolution reduction. Conflict is set on any lane where
// both operands contribute a non-High-Z value.
func Combine(a, b Atom) (result Atom, conflict uint32) {
	result = Atom{
		State: a.State | b.State,
		Valid: a.Valid | b.Valid,
	}
	conflict = (a.State & b.State) | (a.State & b.Valid) | (a.Valid & b.State) | (a.Valid & b.Valid)
	return result, conflict
}

// HighZToUndefined coerces every High-Z lane to Undefined while leaving
// every other lane untouched. Used by the tri-state buffer's enable
// protocol so a disabled upstream driver never silently contributes
// High-Z to a bus it is supposed to be driving.
func HighZToUndefined(x Atom) Atom {
	return Atom{
		State: x.State | ^x.Valid,
		Valid: x.Valid,
	}
}

// trailingOnesMask returns a mask whose low k bits are 1, where k is the
// number of contiguous valid lanes starting at bit 0 of v.
func trailingOnesMask(v uint32) uint32 {
	k := bits.TrailingZeros32(^v)
	if k >= 32 {
		return 0xFFFFFFFF
	}
	return (uint32(1) << uint(k)) - 1
}

// Add performs a 32-lane ripple-carry sum of a, b and an incoming carry
// bit. Only the contiguous prefix of valid lanes in each operand
// contributes; every lane from the first invalid lane up is Undefined in
// the result, and the outgoing carry is Undefined whenever lane 31 isn't
// part of that valid prefix.
func Add(a, b Atom, carryIn Bit) (sum Atom, carryOut Bit) {
	m := trailingOnesMask(a.Valid) & trailingOnesMask(b.Valid)
	if !carryIn.Valid {
		m = 0
	}

	var cin uint32
	if carryIn.Valid && carryIn.State {
		cin = 1
	}

	sum32, carry32 := bits.Add32(a.State, b.State, cin)

	sum = Atom{
		State: sum32 | ^m,
		Valid: m,
	}

	msb := (m >> 31) & 1
	carryOut = Bit{
		State: carry32&1 != 0 || msb == 0,
		Valid: msb == 1,
	}
	return sum, carryOut
}

// NegateOperand returns b with its State lanes inverted and Valid untouched.
// A SUB component reuses the ripple-carry Add loop by calling this on its
// second operand and seeding the first atom's carry-in as a valid Logic-1
// (two's complement subtraction), per-atom carry then propagates from Add
// as usual.
func NegateOperand(b Atom) Atom {
	return Atom{State: ^b.State, Valid: b.Valid}
}
