// Package netlist defines the flat, pointer-free data model the
// simulation engine evaluates: wires, components, their descriptors and
// driver lists, plus the construction-time validation that guarantees the
// invariants the engine's kernels rely on.
package netlist

import (
	"fmt"

	"github.com/fourstate/lsim/pkg/logic"
)

// InvalidIndex is the sentinel terminating a driver list and marking an
// absent driver head.
const InvalidIndex uint32 = 0xFFFFFFFF

// MaxWireWidth is the widest a single wire may be (spec §3).
const MaxWireWidth = 256

// Kind enumerates the combinational component tags the component kernel
// dispatches on. Component kind is a tag, not a type hierarchy — see
// Component.
type Kind uint16

const (
	KindAnd Kind = iota
	KindOr
	KindXor
	KindNand
	KindNor
	KindXnor
	KindNot
	KindBuffer
	KindAdd
	KindSub

	// Reserved kinds: enumerated per spec §4.2/§9(b) but evaluated as
	// "no change" by the component kernel, except KindNeg which is a
	// trivial composition of Sub (see DESIGN.md for the Open Question
	// this resolves).
	KindNeg
	KindShl
	KindShr
	KindEq
	KindLt
	KindHybridAOI

	kindCount
)

func (k Kind) String() string {
	names := [...]string{
		"AND", "OR", "XOR", "NAND", "NOR", "XNOR", "NOT", "BUFFER", "ADD", "SUB",
		"NEG", "SHL", "SHR", "EQ", "LT", "HYBRID_AOI",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Reserved reports whether the component kernel evaluates this kind as
// "no change" rather than a concrete primitive.
func (k Kind) Reserved() bool {
	switch k {
	case KindAnd, KindOr, KindXor, KindNand, KindNor, KindXnor, KindNot, KindBuffer, KindAdd, KindSub, KindNeg:
		return false
	default:
		return true
	}
}

// WireIndex and ComponentIndex are stable identifiers into Netlist.Wires
// and Netlist.Components.
type WireIndex uint32
type ComponentIndex uint32

// Wire is an addressable multi-bit net. Its topology is immutable once
// constructed; only its state atoms (held in the engine's Buffers, not
// here) are mutated, and only by the wire kernel.
type Wire struct {
	Width             uint32 // 1..256
	StateOffset       uint32 // index into the wire-state atom array
	DriveOffset       uint32 // index into the wire-drive atom array
	FirstDriverWidth  uint32 // 0 if no inline first driver
	FirstDriverOffset uint32 // index into the output-state atom array
	DriverList        uint32 // head index into Drivers, or InvalidIndex
}

// AtomCount is the number of 32-bit-packed atoms this wire's width spans.
func (w Wire) AtomCount() uint32 { return atomsFor(w.Width) }

func atomsFor(width uint32) uint32 {
	return (width + 31) / 32
}

// InputDescriptor references a slice of wire-state atoms feeding a
// component.
type InputDescriptor struct {
	Width  uint32
	Offset uint32 // index into the wire-state atom array
}

// OutputDescriptor references a slice of output-state atoms a component
// owns exclusively.
type OutputDescriptor struct {
	Width  uint32
	Offset uint32 // index into the output-state atom array
}

// Driver is an intrusive linked-list node enumerating an additional
// driver of a wire beyond its inline first driver.
type Driver struct {
	Width            uint32
	OutputStateOffset uint32 // index into the output-state atom array
	Next             uint32 // index into Drivers, or InvalidIndex
}

// Component is a combinational primitive. Reserved MemoryOffset/MemorySize
// fields exist for future sequential components (spec §3, out of scope
// here) and are always zero for every Kind this core evaluates.
type Component struct {
	Kind                    Kind
	OutputCount             uint32
	InputCount              uint32
	OutputWidth             uint32 // width of the primary output
	OutputOffsetOrFirstOutput uint32 // index into Outputs (this component's first output descriptor)
	FirstInput              uint32 // index into Inputs (this component's first input descriptor)
	MemoryOffset            uint32 // reserved
	MemorySize              uint32 // reserved
}

// Netlist is the fully-resolved, construction-time-validated description
// of a combinational circuit: everything the engine needs to allocate its
// buffers and run the fixed-point loop, with no live state of its own.
type Netlist struct {
	Wires      []Wire
	Components []Component
	Inputs     []InputDescriptor
	Outputs    []OutputDescriptor
	Drivers    []Driver

	// InitialDrives holds the external drive atoms for every wire, laid
	// out the same way WireStates will be in the engine's buffers:
	// InitialDrives[w.DriveOffset:][:w.AtomCount()].
	InitialDrives []logic.Atom

	WireStateAtoms   uint32 // total atom slots across all wires
	OutputStateAtoms uint32 // total atom slots across all component outputs
}
