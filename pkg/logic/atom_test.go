package logic

import "testing"

// singleBitOp mirrors each packed op's normative single-bit truth table,
// used to check agreement across all 16 possible (a, b) lane encodings.
func singleBitAnd(a, b Bit) Bit {
	av, as := a.Valid, a.State
	bv, bs := b.Valid, b.State
	if av && !as || bv && !bs {
		return Bit{State: false, Valid: true}
	}
	if av && as && bv && bs {
		return Bit{State: true, Valid: true}
	}
	return Bit{State: true, Valid: false} // Undefined
}

func singleBitOr(a, b Bit) Bit {
	if a.Valid && a.State || b.Valid && b.State {
		return Bit{State: true, Valid: true}
	}
	if a.Valid && !a.State && b.Valid && !b.State {
		return Bit{State: false, Valid: true}
	}
	return Bit{State: true, Valid: false}
}

func singleBitXor(a, b Bit) Bit {
	if !a.Valid || !b.Valid {
		return Bit{State: true, Valid: false}
	}
	return Bit{State: a.State != b.State, Valid: true}
}

func singleBitNot(a Bit) Bit {
	if !a.Valid {
		return Bit{State: true, Valid: false}
	}
	return Bit{State: !a.State, Valid: true}
}

// allLanes enumerates the four single-bit encodings: High-Z, Undefined,
// Logic-0, Logic-1.
var allLanes = []Bit{
	{State: false, Valid: false}, // High-Z
	{State: true, Valid: false},  // Undefined
	{State: false, Valid: true},  // Logic-0
	{State: true, Valid: true},   // Logic-1
}

func atomFromLane(b Bit) Atom {
	var a Atom
	if b.State {
		a.State = 0xFFFFFFFF
	}
	if b.Valid {
		a.Valid = 0xFFFFFFFF
	}
	return a
}

func TestAlgebraAgreementWithSingleBitTruthTables(t *testing.T) {
	binOps := []struct {
		name   string
		packed func(a, b Atom) Atom
		single func(a, b Bit) Bit
	}{
		{"and", And, singleBitAnd},
		{"or", Or, singleBitOr},
		{"xor", Xor, singleBitXor},
		{"nand", Nand, func(a, b Bit) Bit { return singleBitNot(singleBitAnd(a, b)) }},
		{"nor", Nor, func(a, b Bit) Bit { return singleBitNot(singleBitOr(a, b)) }},
		{"xnor", Xnor, func(a, b Bit) Bit { return singleBitNot(singleBitXor(a, b)) }},
	}

	for _, op := range binOps {
		t.Run(op.name, func(t *testing.T) {
			for _, la := range allLanes {
				for _, lb := range allLanes {
					got := BitAt(op.packed(atomFromLane(la), atomFromLane(lb)), 0)
					want := op.single(la, lb)
					if got != want {
						t.Errorf("%s(%v, %v) = %v, want %v", op.name, la, lb, got, want)
					}
				}
			}
		})
	}
}

func TestNotAgreesWithSingleBit(t *testing.T) {
	for _, l := range allLanes {
		got := BitAt(Not(atomFromLane(l)), 0)
		want := singleBitNot(l)
		if got != want {
			t.Errorf("Not(%v) = %v, want %v", l, got, want)
		}
	}
}

func TestNotInvolution(t *testing.T) {
	atoms := []Atom{HighZ, Undefined, Logic0, Logic1, {State: 0xDEADBEEF, Valid: 0x0F0F0F0F}}
	for _, a := range atoms {
		if got := Not(Not(a)); got != a {
			t.Errorf("Not(Not(%v)) = %v, want %v", a, got, a)
		}
	}
}

func TestCombineCommutativeAndAssociative(t *testing.T) {
	atoms := []Atom{HighZ, Undefined, Logic0, Logic1, {State: 0xAAAAAAAA, Valid: 0xFFFF0000}}
	for _, a := range atoms {
		for _, b := range atoms {
			ra, ca := Combine(a, b)
			rb, cb := Combine(b, a)
			if ra != rb || ca != cb {
				t.Errorf("Combine not commutative for %v, %v", a, b)
			}
			for _, c := range atoms {
				abThenC, cAB := Combine(ra, c)
				abThenCConflict := ca | cAB

				rbc, cbc := Combine(b, c)
				aThenBC, cABC := Combine(a, rbc)
				aThenBCConflict := cbc | cABC

				if abThenC != aThenBC || abThenCConflict != aThenBCConflict {
					t.Errorf("Combine not associative for %v, %v, %v", a, b, c)
				}
			}
		}
	}
}

func TestCombineNeutral(t *testing.T) {
	atoms := []Atom{HighZ, Undefined, Logic0, Logic1, {State: 0x12345678, Valid: 0xFFFFFFFF}}
	for _, a := range atoms {
		result, conflict := Combine(a, HighZ)
		if result != a {
			t.Errorf("Combine(%v, HighZ) = %v, want %v", a, result, a)
		}
		if conflict != 0 {
			t.Errorf("Combine(%v, HighZ) conflict = %#x, want 0", a, conflict)
		}
	}
}

func TestCombineConflictIffBothNonHighZ(t *testing.T) {
	for _, la := range allLanes {
		for _, lb := range allLanes {
			_, conflict := Combine(atomFromLane(la), atomFromLane(lb))
			gotConflict := conflict&1 != 0
			wantConflict := (la.State || la.Valid) && (lb.State || lb.Valid)
			if gotConflict != wantConflict {
				t.Errorf("Combine(%v, %v) conflict = %v, want %v", la, lb, gotConflict, wantConflict)
			}
		}
	}
}

func TestAddRippleCarry(t *testing.T) {
	a := Atom{State: 0x00000001, Valid: 0xFFFFFFFF}
	b := Atom{State: 0xFFFFFFFF, Valid: 0xFFFFFFFF}
	sum, carryOut := Add(a, b, Bit{State: false, Valid: true})
	if sum.State != 0x00000000 || sum.Valid != 0xFFFFFFFF {
		t.Errorf("sum = %+v, want state=0 valid=all", sum)
	}
	if !(carryOut.State && carryOut.Valid) {
		t.Errorf("carryOut = %+v, want Logic-1", carryOut)
	}
}

func TestAddInvalidBitHaltsCarry(t *testing.T) {
	a := Atom{State: 0x00000000, Valid: 0xFFFFFFEF} // bit 4 invalid (High-Z)
	b := Atom{State: 0x00000000, Valid: 0xFFFFFFFF}
	sum, carryOut := Add(a, b, Bit{State: false, Valid: true})
	for i := uint(0); i < 4; i++ {
		if bit := BitAt(sum, i); bit != (Bit{State: false, Valid: true}) {
			t.Errorf("sum bit %d = %v, want Logic-0", i, bit)
		}
	}
	for i := uint(4); i < 32; i++ {
		if bit := BitAt(sum, i); bit != (Bit{State: true, Valid: false}) {
			t.Errorf("sum bit %d = %v, want Undefined", i, bit)
		}
	}
	if carryOut.Valid {
		t.Errorf("carryOut = %+v, want Undefined (invalid)", carryOut)
	}
}

func TestHighZToUndefined(t *testing.T) {
	tests := []struct {
		in, want Atom
	}{
		{HighZ, Undefined},
		{Undefined, Undefined},
		{Logic0, Logic0},
		{Logic1, Logic1},
	}
	for _, tt := range tests {
		if got := HighZToUndefined(tt.in); got != tt.want {
			t.Errorf("HighZToUndefined(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
