package netlist

import (
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/fourstate/lsim/pkg/logic"
)

// ConstructionError reports an invariant violation detected while
// building a Netlist. It is the only error kind this package returns —
// topology is either valid or rejected outright, never partially built.
type ConstructionError struct {
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("netlist: construction failed: %s", e.Reason)
}

func constructionErrorf(format string, args ...any) *ConstructionError {
	return &ConstructionError{Reason: fmt.Sprintf(format, args...)}
}

// Builder assembles a Netlist incrementally and validates it on Build.
// Offsets into the state/output atom arrays and the driver arena are
// assigned automatically as wires, components and drivers are added, the
// way a netlist importer (out of scope for this package, per spec §1)
// would call in after parsing an external format.
type Builder struct {
	wires      []Wire
	components []Component
	inputs     []InputDescriptor
	outputs    []OutputDescriptor
	drivers    []Driver
	drives     []logic.Atom

	wireStateCursor   uint32
	outputStateCursor uint32
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddWire reserves state and drive atom slots for a width-W wire and
// returns its index. The wire has no drivers until AddDriver/SetFirstDriver
// are called against it.
func (b *Builder) AddWire(width uint32) (WireIndex, error) {
	if width == 0 || width > MaxWireWidth {
		return 0, constructionErrorf("wire width %d out of range [1,%d]", width, MaxWireWidth)
	}
	n := atomsFor(width)
	w := Wire{
		Width:       width,
		StateOffset: b.wireStateCursor,
		DriveOffset: b.wireStateCursor, // drive array mirrors the state array's layout
		DriverList:  InvalidIndex,
	}
	b.wireStateCursor += n
	b.drives = append(b.drives, make([]logic.Atom, n)...)
	for i := range b.drives[len(b.drives)-int(n):] {
		b.drives[len(b.drives)-int(n)+i] = logic.HighZ
	}
	idx := WireIndex(len(b.wires))
	b.wires = append(b.wires, w)
	return idx, nil
}

// WireStateOffset returns the wire-state atom offset reserved for wire w,
// for callers (e.g. a netlist parser) assembling InputDescriptors that
// read it.
func (b *Builder) WireStateOffset(w WireIndex) uint32 {
	return b.wires[w].StateOffset
}

// HasFirstDriver reports whether wire w already has an inline first
// driver attached, so a caller knows whether a subsequent driver must go
// through AddDriver instead of SetFirstDriver.
func (b *Builder) HasFirstDriver(w WireIndex) bool {
	return b.wires[w].FirstDriverWidth > 0
}

// SetFirstDriver attaches the fast-path inline first driver to wire w,
// pointing at an output-state slice the caller has already reserved via
// AddComponent (outputOffset, outputWidth).
func (b *Builder) SetFirstDriver(w WireIndex, outputOffset, outputWidth uint32) error {
	if int(w) >= len(b.wires) {
		return constructionErrorf("SetFirstDriver: wire index %d out of range", w)
	}
	b.wires[w].FirstDriverOffset = outputOffset
	b.wires[w].FirstDriverWidth = outputWidth
	return nil
}

// AddDriver prepends a driver list node to wire w's DriverList, pointing
// at an output-state slice the caller has already reserved.
func (b *Builder) AddDriver(w WireIndex, outputOffset, outputWidth uint32) error {
	if int(w) >= len(b.wires) {
		return constructionErrorf("AddDriver: wire index %d out of range", w)
	}
	node := Driver{
		Width:             outputWidth,
		OutputStateOffset: outputOffset,
		Next:              b.wires[w].DriverList,
	}
	idx := uint32(len(b.drivers))
	b.drivers = append(b.drivers, node)
	b.wires[w].DriverList = idx
	return nil
}

// AddComponent reserves output-state atom slots for a component with the
// given kind, input descriptors (each a wire-state slice) and primary
// output width. It returns the component index and the offset of its
// first (primary) output, for use with SetFirstDriver/AddDriver.
func (b *Builder) AddComponent(kind Kind, outputWidth uint32, inputs []InputDescriptor) (idx ComponentIndex, outputOffset uint32, err error) {
	if outputWidth == 0 || outputWidth > MaxWireWidth {
		return 0, 0, constructionErrorf("component output width %d out of range [1,%d]", outputWidth, MaxWireWidth)
	}
	firstInput := uint32(len(b.inputs))
	for _, in := range inputs {
		if in.Width == 0 || in.Width > MaxWireWidth {
			return 0, 0, constructionErrorf("component input width %d out of range [1,%d]", in.Width, MaxWireWidth)
		}
		b.inputs = append(b.inputs, in)
	}

	outputOffset = b.outputStateCursor
	n := atomsFor(outputWidth)
	b.outputStateCursor += n
	firstOutput := uint32(len(b.outputs))
	b.outputs = append(b.outputs, OutputDescriptor{Width: outputWidth, Offset: outputOffset})

	c := Component{
		Kind:                      kind,
		OutputCount:               1,
		InputCount:                uint32(len(inputs)),
		OutputWidth:               outputWidth,
		OutputOffsetOrFirstOutput: firstOutput,
		FirstInput:                firstInput,
	}
	idx = ComponentIndex(len(b.components))
	b.components = append(b.components, c)
	return idx, outputOffset, nil
}

// SetDrive overwrites wire w's external drive atoms prior to Build. Widths
// narrower than the wire default to High-Z in the remaining atoms.
func (b *Builder) SetDrive(w WireIndex, atoms []logic.Atom) error {
	if int(w) >= len(b.wires) {
		return constructionErrorf("SetDrive: wire index %d out of range", w)
	}
	wire := b.wires[w]
	n := int(wire.AtomCount())
	if len(atoms) > n {
		return constructionErrorf("SetDrive: wire %d has %d atom slots, got %d", w, n, len(atoms))
	}
	base := int(wire.DriveOffset)
	for i := 0; i < n; i++ {
		if i < len(atoms) {
			b.drives[base+i] = atoms[i]
		} else {
			b.drives[base+i] = logic.HighZ
		}
	}
	return nil
}

// Build validates invariants I1, I2 and I4 (spec §3) and returns the finished
// Netlist, or a *ConstructionError describing the first violation found.
func (b *Builder) Build() (*Netlist, error) {
	if err := b.validateDescriptorBounds(); err != nil {
		return nil, err
	}
	if err := b.validateDriverListsAcyclic(); err != nil {
		return nil, err
	}

	nl := &Netlist{
		Wires:            append([]Wire(nil), b.wires...),
		Components:       append([]Component(nil), b.components...),
		Inputs:           append([]InputDescriptor(nil), b.inputs...),
		Outputs:          append([]OutputDescriptor(nil), b.outputs...),
		Drivers:          append([]Driver(nil), b.drivers...),
		InitialDrives:    append([]logic.Atom(nil), b.drives...),
		WireStateAtoms:   b.wireStateCursor,
		OutputStateAtoms: b.outputStateCursor,
	}
	return nl, nil
}

// validateDescriptorBounds checks I1 (width/slot-count agreement) and I2
// (every input/driver references atoms actually backed by the output or
// wire-state arrays).
func (b *Builder) validateDescriptorBounds() error {
	for i, w := range b.wires {
		if w.StateOffset+w.AtomCount() > b.wireStateCursor {
			return constructionErrorf("wire %d: state slice [%d,%d) exceeds wire-state array of %d atoms",
				i, w.StateOffset, w.StateOffset+w.AtomCount(), b.wireStateCursor)
		}
		if w.FirstDriverWidth > 0 {
			n := atomsFor(w.FirstDriverWidth)
			if w.FirstDriverOffset+n > b.outputStateCursor {
				return constructionErrorf("wire %d: first-driver slice [%d,%d) exceeds output-state array of %d atoms",
					i, w.FirstDriverOffset, w.FirstDriverOffset+n, b.outputStateCursor)
			}
		}
	}
	for i, in := range b.inputs {
		n := atomsFor(in.Width)
		if in.Offset+n > b.wireStateCursor {
			return constructionErrorf("input descriptor %d: slice [%d,%d) exceeds wire-state array of %d atoms",
				i, in.Offset, in.Offset+n, b.wireStateCursor)
		}
	}
	for i, out := range b.outputs {
		n := atomsFor(out.Width)
		if out.Offset+n > b.outputStateCursor {
			return constructionErrorf("output descriptor %d: slice [%d,%d) exceeds output-state array of %d atoms",
				i, out.Offset, out.Offset+n, b.outputStateCursor)
		}
	}
	for i, d := range b.drivers {
		n := atomsFor(d.Width)
		if d.OutputStateOffset+n > b.outputStateCursor {
			return constructionErrorf("driver %d: slice [%d,%d) exceeds output-state array of %d atoms",
				i, d.OutputStateOffset, d.OutputStateOffset+n, b.outputStateCursor)
		}
	}
	return nil
}

// validateDriverListsAcyclic checks I4: every wire's DriverList terminates
// at InvalidIndex within len(Drivers) hops. A cycle would otherwise spin
// the wire kernel's combine reduction forever.
func (b *Builder) validateDriverListsAcyclic() error {
	// Iterate wires in index order for deterministic error messages; no
	// functional requirement forces this, it just keeps failures
	// reproducible across runs.
	indices := make([]int, len(b.wires))
	for i := range indices {
		indices[i] = i
	}
	sort.Ints(indices)

	limit := len(b.drivers) + 1
	for _, i := range indices {
		steps := 0
		for cur := b.wires[i].DriverList; cur != InvalidIndex; cur = b.drivers[cur].Next {
			if int(cur) >= len(b.drivers) {
				return constructionErrorf("wire %d: driver list references out-of-range driver index %d", i, cur)
			}
			steps++
			if steps > limit {
				return constructionErrorf("wire %d: driver list is cyclic", i)
			}
		}
	}
	return nil
}

// seenKinds is a small helper used by callers validating a parsed netlist
// against the set of kinds this engine actually evaluates (vs. reserved,
// no-change kinds); it has no bearing on Build's own invariants.
func seenKinds(components []Component) map[Kind]int {
	seen := make(map[Kind]int, len(components))
	for _, c := range components {
		seen[c.Kind]++
	}
	return seen
}

// ReservedKindsUsed returns the sorted set of reserved (no-change) kinds
// referenced by nl, if any — useful for a CLI to warn the caller that part
// of the netlist will not evaluate.
func ReservedKindsUsed(nl *Netlist) []Kind {
	seen := seenKinds(nl.Components)
	keys := maps.Keys(seen)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var reserved []Kind
	for _, k := range keys {
		if k.Reserved() {
			reserved = append(reserved, k)
		}
	}
	return reserved
}
