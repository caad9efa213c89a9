package engine

import (
	"runtime"
	"sync"

	"github.com/fourstate/lsim/pkg/logic"
	"github.com/fourstate/lsim/pkg/netlist"
)

// WorkgroupSize is the number of work-items each dispatched job covers,
// matching the workgroup size a shader-style kernel would use.
const WorkgroupSize = 64

// WorkerPool fans a dispatch's work-items out across goroutines. It is
// the CPU stand-in for whatever a concrete Dispatcher (GPU,
// subprocess, or otherwise) would use to run the same kernel in
// parallel; CPUDispatcher is built directly on top of it.
type WorkerPool struct {
	NumWorkers int
}

// NewWorkerPool returns a pool sized to numWorkers, or runtime.NumCPU()
// workers if numWorkers <= 0.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &WorkerPool{NumWorkers: numWorkers}
}

// Dispatch runs fn(i) for every i in [0, n), split into WorkgroupSize-item
// jobs distributed across the pool's workers, and blocks until all have
// completed.
func (wp *WorkerPool) Dispatch(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	type job struct{ start, end int }
	jobs := make(chan job, (n+WorkgroupSize-1)/WorkgroupSize)
	for start := 0; start < n; start += WorkgroupSize {
		end := start + WorkgroupSize
		if end > n {
			end = n
		}
		jobs <- job{start, end}
	}
	close(jobs)

	numWorkers := wp.NumWorkers
	if numWorkers > n {
		numWorkers = n
	}
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				for i := j.start; i < j.end; i++ {
					fn(i)
				}
			}
		}()
	}
	wg.Wait()
}

// ComponentKernel evaluates every component's output from its current
// inputs. A component whose output changes from this iteration's
// previous value sets Control.ComponentsChanged.
func ComponentKernel(pool *WorkerPool, b *Buffers) {
	pool.Dispatch(len(b.Components), func(i int) {
		evalComponent(b, netlist.ComponentIndex(i))
	})
}

func evalComponent(b *Buffers, idx netlist.ComponentIndex) {
	if b.Control.HasConflicts.Load() {
		return
	}
	c := b.Components[idx]
	out := b.Outputs[c.OutputOffsetOrFirstOutput]
	outSlice := b.OutputSlice(out)

	prev := make([]logic.Atom, len(outSlice))
	copy(prev, outSlice)

	in := func(i uint32) []logic.Atom {
		return b.InputSlice(b.Inputs[c.FirstInput+i])
	}
	allIns := func() [][]logic.Atom {
		ins := make([][]logic.Atom, c.InputCount)
		for i := range ins {
			ins[i] = in(uint32(i))
		}
		return ins
	}

	switch c.Kind {
	case netlist.KindAnd:
		evalFold(outSlice, allIns(), logic.And, false)
	case netlist.KindOr:
		evalFold(outSlice, allIns(), logic.Or, false)
	case netlist.KindXor:
		evalFold(outSlice, allIns(), logic.Xor, false)
	case netlist.KindNand:
		evalFold(outSlice, allIns(), logic.And, true)
	case netlist.KindNor:
		evalFold(outSlice, allIns(), logic.Or, true)
	case netlist.KindXnor:
		evalFold(outSlice, allIns(), logic.Xor, true)
	case netlist.KindNot:
		evalUnary(outSlice, in(0), logic.Not)
	case netlist.KindBuffer:
		evalBuffer(outSlice, in(0), in(1))
	case netlist.KindAdd:
		evalAdd(outSlice, in(0), in(1), logic.Bit{State: false, Valid: true})
	case netlist.KindSub:
		evalSub(outSlice, in(0), in(1))
	case netlist.KindNeg:
		evalNeg(outSlice, in(0))
	default:
		// Reserved kinds evaluate as "no change": leave outSlice as-is.
	}

	if !atomsEqual(prev, outSlice) {
		b.Control.ComponentsChanged.Store(true)
	}
}

// atomAt returns slice[i], or logic.HighZ if an input narrower than the
// component's output width has no atom at that index (spec §4.2: "inputs
// narrower than output_width are zero-extended to HIGH_Z").
func atomAt(slice []logic.Atom, i int) logic.Atom {
	if i < len(slice) {
		return slice[i]
	}
	return logic.HighZ
}

// evalFold implements the gate family's accumulator fold (spec §4.2):
// seed from input 0, fold the binary op over every subsequent input,
// zero-extending any input narrower than the output to HIGH_Z. negate
// applies Not atom-wise after the fold, turning AND/OR/XOR into
// NAND/NOR/XNOR.
func evalFold(out []logic.Atom, ins [][]logic.Atom, op func(a, b logic.Atom) logic.Atom, negate bool) {
	for i := range out {
		acc := logic.HighZ
		if len(ins) > 0 {
			acc = atomAt(ins[0], i)
			for k := 1; k < len(ins); k++ {
				acc = op(acc, atomAt(ins[k], i))
			}
		}
		if negate {
			acc = logic.Not(acc)
		}
		out[i] = acc
	}
}

func evalUnary(out, a []logic.Atom, op func(a logic.Atom) logic.Atom) {
	for i := range out {
		out[i] = op(atomAt(a, i))
	}
}

// evalBuffer implements the tri-state buffer: enable is lane 0 of the
// second input. Enabled (valid 1) output is data coerced High-Z→Undefined
// so a disabled upstream driver never silently contributes High-Z to a bus
// its own enable asserts; disabled (valid 0) output is High-Z; an invalid
// enable forces Undefined unconditionally, regardless of the data value.
func evalBuffer(out, data, enable []logic.Atom) {
	en := logic.BitAt(atomAt(enable, 0), 0)
	for i := range out {
		d := atomAt(data, i)
		switch {
		case en.Valid && en.State:
			out[i] = logic.HighZToUndefined(d)
		case en.Valid && !en.State:
			out[i] = logic.HighZ
		default:
			out[i] = logic.Undefined
		}
	}
}

func evalAdd(out, a, b []logic.Atom, carryIn logic.Bit) {
	carry := carryIn
	for i := range out {
		out[i], carry = logic.Add(atomAt(a, i), atomAt(b, i), carry)
	}
}

func evalSub(out, a, b []logic.Atom) {
	carry := logic.Bit{State: true, Valid: true}
	for i := range out {
		negB := logic.NegateOperand(atomAt(b, i))
		out[i], carry = logic.Add(atomAt(a, i), negB, carry)
	}
}

func evalNeg(out, a []logic.Atom) {
	zero := make([]logic.Atom, len(out))
	for i := range zero {
		zero[i] = logic.Logic0
	}
	evalSub(out, zero, a)
}

func atomsEqual(a, b []logic.Atom) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WireKernel resolves each wire's new state from its drive, its inline
// first driver and its driver list via Combine, recording a conflict for
// any wire where two sources contribute a non-High-Z value to one bit. A wire whose resolved state changes sets
// Control.WiresChanged.
func WireKernel(pool *WorkerPool, b *Buffers, iteration uint32) {
	pool.Dispatch(len(b.Wires), func(i int) {
		evalWire(b, netlist.WireIndex(i), iteration)
	})
}

func evalWire(b *Buffers, idx netlist.WireIndex, iteration uint32) {
	if b.Control.HasConflicts.Load() {
		return
	}
	w := b.Wires[idx]
	stateSlice := b.WireStateSlice(w)
	driveSlice := b.WireDriveSlice(w)

	prev := make([]logic.Atom, len(stateSlice))
	copy(prev, stateSlice)

	n := len(stateSlice)
	resolved := make([]logic.Atom, n)
	conflictMask := make([]uint32, n)

	for i := 0; i < n; i++ {
		resolved[i] = driveSlice[i]
	}

	if w.FirstDriverWidth > 0 {
		combineDriverContribution(resolved, conflictMask, b.OutputStates, w.FirstDriverOffset, w.FirstDriverWidth, w.Width)
	}

	for d := w.DriverList; d != netlist.InvalidIndex; d = b.WireDrivers[d].Next {
		driver := b.WireDrivers[d]
		combineDriverContribution(resolved, conflictMask, b.OutputStates, driver.OutputStateOffset, driver.Width, w.Width)
	}

	copy(stateSlice, resolved)

	for i := 0; i < n; i++ {
		if conflictMask[i] != 0 {
			b.recordConflict(idx, iteration)
			break
		}
	}

	if !atomsEqual(prev, stateSlice) {
		b.Control.WiresChanged.Store(true)
	}
}

// combineDriverContribution folds a driver's output-state atoms into
// resolved/conflictMask, bounded to min(driverWidth, wireWidth) bits per
// spec §4.3: a driver narrower than its wire contributes High-Z past its
// own width, and a driver wider than its wire never reads past the
// wire's own atom slots. The last partial atom is bit-masked so the
// undefined bits beyond the driver's own width (spec I3) never leak into
// the combine reduction as spurious conflicts.
func combineDriverContribution(resolved []logic.Atom, conflictMask []uint32, outputStates []logic.Atom, offset, driverWidth, wireWidth uint32) {
	limit := driverWidth
	if wireWidth < limit {
		limit = wireWidth
	}
	fullAtoms := limit / 32
	remBits := limit % 32
	driverAtoms := outputStates[offset : offset+fullAtoms+boolToU32(remBits > 0)]

	for i := uint32(0); i < fullAtoms; i++ {
		var c uint32
		resolved[i], c = logic.Combine(resolved[i], driverAtoms[i])
		conflictMask[i] |= c
	}
	if remBits > 0 {
		mask := (uint32(1) << remBits) - 1
		da := driverAtoms[fullAtoms]
		masked := logic.Atom{State: da.State & mask, Valid: da.Valid & mask}
		var c uint32
		resolved[fullAtoms], c = logic.Combine(resolved[fullAtoms], masked)
		conflictMask[fullAtoms] |= c
	}
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// ResetKernel clears the change flags named by mask (ResetClearWiresChanged
// and/or ResetClearComponentsChanged) and republishes HasConflicts, per
// spec §4.4.
func ResetKernel(b *Buffers, mask uint32) {
	b.Control.reset(mask)
}
