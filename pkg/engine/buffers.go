// Package engine runs the two-phase fixed-point simulation loop over a
// constructed netlist.Netlist: alternating component-kernel and
// wire-kernel passes until neither changes anything, a conflict is
// raised, or an iteration budget is exhausted.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/fourstate/lsim/pkg/logic"
	"github.com/fourstate/lsim/pkg/netlist"
)

// MaxConflicts bounds the conflict list's storage; past this
// recordConflict saturates ControlWord.ConflictListLen rather than grow
// without limit, mirroring a fixed-capacity device buffer.
const MaxConflicts = 1024

// Buffers is the flat, pointer-free working set the kernels read and
// write every iteration — the CPU-resident analogue of the storage
// bindings a real accelerator backend would bind once and reuse across
// dispatches. The Memory binding is carried for layout parity with a
// future sequential-component extension (out of scope) and is never
// read or written by any kernel in this package.
type Buffers struct {
	WireStates   []logic.Atom    // per netlist.Wire.AtomCount(), indexed by StateOffset
	WireDrives   []logic.Atom    // external drive atoms, indexed by DriveOffset
	WireDrivers  []netlist.Driver // the driver-list arena; Wire.DriverList indexes into this
	Wires        []netlist.Wire
	OutputStates []logic.Atom // per component output, indexed by Offset
	Outputs      []netlist.OutputDescriptor
	Inputs       []netlist.InputDescriptor
	Memory       []byte // reserved, always empty for the kinds this engine evaluates
	Components   []netlist.Component

	Control   ControlWord
	conflictsMu sync.Mutex
	Conflicts []ConflictRecord
}

// ConflictRecord names a wire whose combine reduction saw two sources
// contribute a non-High-Z value to the same bit in the same iteration.
type ConflictRecord struct {
	Wire      netlist.WireIndex
	Iteration uint32
}

// ControlWord mirrors the single control-word binding a real dispatch
// would read back after each kernel pass: whether anything changed, and
// how many conflicts have been recorded so far. All fields are atomic so
// kernel work-items (goroutines, here) can update them lock-free.
type ControlWord struct {
	WiresChanged      atomic.Bool
	ComponentsChanged atomic.Bool
	ConflictListLen   atomic.Uint32
	HasConflicts      atomic.Bool
}

// Reset kernel push-constant bits (spec §4.4/§6): bit 0 clears
// wires_changed, bit 1 clears components_changed. ResetKernel accepts a
// bitmask combining either or both.
const (
	ResetClearWiresChanged      uint32 = 1 << 0
	ResetClearComponentsChanged uint32 = 1 << 1
)

// reset applies mask (a combination of ResetClearWiresChanged /
// ResetClearComponentsChanged) and then republishes HasConflicts from
// ConflictListLen, matching spec §4.4: "Also republishes has_conflicts =
// (conflict_list_len > 0)."
func (c *ControlWord) reset(mask uint32) {
	if mask&ResetClearWiresChanged != 0 {
		c.WiresChanged.Store(false)
	}
	if mask&ResetClearComponentsChanged != 0 {
		c.ComponentsChanged.Store(false)
	}
	c.HasConflicts.Store(c.ConflictListLen.Load() > 0)
}

// NewBuffers allocates and seeds a Buffers from nl: wire states start
// High-Z, output states start High-Z, and wire drives are copied from
// nl.InitialDrives.
func NewBuffers(nl *netlist.Netlist) *Buffers {
	b := &Buffers{
		WireStates:   make([]logic.Atom, nl.WireStateAtoms),
		WireDrives:   append([]logic.Atom(nil), nl.InitialDrives...),
		WireDrivers:  nl.Drivers,
		Wires:        nl.Wires,
		OutputStates: make([]logic.Atom, nl.OutputStateAtoms),
		Outputs:      nl.Outputs,
		Inputs:       nl.Inputs,
		Components:   nl.Components,
		Conflicts:    make([]ConflictRecord, 0, MaxConflicts),
	}
	for i := range b.WireStates {
		b.WireStates[i] = logic.HighZ
	}
	for i := range b.OutputStates {
		b.OutputStates[i] = logic.HighZ
	}
	return b
}

// Reset zeroes wire states, output states, and the control word back to
// their just-constructed values, leaving wire drives untouched (spec §6
// simulator handle operation reset(): "zeroes wire states, output
// states, and the control word; preserves drives").
func (b *Buffers) Reset() {
	for i := range b.WireStates {
		b.WireStates[i] = logic.HighZ
	}
	for i := range b.OutputStates {
		b.OutputStates[i] = logic.HighZ
	}
	b.Control = ControlWord{}
	b.conflictsMu.Lock()
	b.Conflicts = b.Conflicts[:0]
	b.conflictsMu.Unlock()
}

// WireStateSlice returns the atoms backing wire w's current state.
func (b *Buffers) WireStateSlice(w netlist.Wire) []logic.Atom {
	return b.WireStates[w.StateOffset : w.StateOffset+w.AtomCount()]
}

// WireDriveSlice returns the atoms backing wire w's external drive.
func (b *Buffers) WireDriveSlice(w netlist.Wire) []logic.Atom {
	n := w.AtomCount()
	return b.WireDrives[w.DriveOffset : w.DriveOffset+n]
}

// OutputSlice returns the atoms backing output descriptor d.
func (b *Buffers) OutputSlice(d netlist.OutputDescriptor) []logic.Atom {
	n := (d.Width + 31) / 32
	return b.OutputStates[d.Offset : d.Offset+n]
}

// InputSlice returns the atoms feeding input descriptor d, i.e. the
// current state of the wire it reads.
func (b *Buffers) InputSlice(d netlist.InputDescriptor) []logic.Atom {
	n := (d.Width + 31) / 32
	return b.WireStates[d.Offset : d.Offset+n]
}

// recordConflict appends a conflict, saturating at MaxConflicts the way a
// fixed-capacity append-only device buffer would stop incrementing its
// length past capacity instead of overflowing it.
func (b *Buffers) recordConflict(w netlist.WireIndex, iteration uint32) {
	b.Control.HasConflicts.Store(true)
	n := b.Control.ConflictListLen.Add(1)
	if n > uint32(cap(b.Conflicts)) {
		b.Control.ConflictListLen.Store(uint32(cap(b.Conflicts)))
		return
	}
	b.conflictsMu.Lock()
	b.Conflicts = append(b.Conflicts, ConflictRecord{Wire: w, Iteration: iteration})
	b.conflictsMu.Unlock()
}
