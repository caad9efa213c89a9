package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourstate/lsim/pkg/logic"
	"github.com/fourstate/lsim/pkg/netlist"
)

// buildAndGate wires a.AND(b) -> y and returns the netlist plus the input
// wire indices.
func buildAndGate(t *testing.T) (*netlist.Netlist, netlist.WireIndex, netlist.WireIndex, netlist.WireIndex) {
	t.Helper()
	b := netlist.NewBuilder()
	wa, err := b.AddWire(1)
	require.NoError(t, err)
	wb, err := b.AddWire(1)
	require.NoError(t, err)
	wy, err := b.AddWire(1)
	require.NoError(t, err)

	_, outOffset, err := b.AddComponent(netlist.KindAnd, 1, []netlist.InputDescriptor{
		{Width: 1, Offset: 0},
		{Width: 1, Offset: 1},
	})
	require.NoError(t, err)
	require.NoError(t, b.SetFirstDriver(wy, outOffset, 1))

	nl, err := b.Build()
	require.NoError(t, err)
	return nl, wa, wb, wy
}

func TestDriverConvergesSimpleAndGate(t *testing.T) {
	nl, wa, wb, wy := buildAndGate(t)
	d := New(nl, Config{MaxIterations: 16})

	d.SetDrive(wa, []logic.Atom{logic.Logic1})
	d.SetDrive(wb, []logic.Atom{logic.Logic1})

	result, err := d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Converged, result.Outcome)

	got := d.ReadWire(wy)
	require.Len(t, got, 1)
	assert.Equal(t, logic.Logic1, got[0])
}

// TestDriverUndrivenWireIsHighZ leaves both AND inputs undriven: they stay
// High-Z, and the AND of two High-Z operands drives y Undefined.
func TestDriverUndrivenWireIsHighZ(t *testing.T) {
	nl, wa, _, wy := buildAndGate(t)
	d := New(nl, Config{MaxIterations: 16})

	result, err := d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Converged, result.Outcome)

	assert.Equal(t, []logic.Atom{logic.HighZ}, d.ReadWire(wa))

	got := d.ReadWire(wy)
	require.Len(t, got, 1)
	assert.Equal(t, logic.Undefined, got[0])
}

// TestWireKernelDetectsConflict builds a wire with two driver slots, seeds
// their backing output atoms directly as disagreeing live values, and
// invokes WireKernel in isolation — exercising the combine-conflict path
// without a component kernel pass that would otherwise recompute the
// seeded values away.
func TestWireKernelDetectsConflict(t *testing.T) {
	b := netlist.NewBuilder()
	wy, err := b.AddWire(1)
	require.NoError(t, err)
	_, off1, err := b.AddComponent(netlist.KindBuffer, 1, []netlist.InputDescriptor{{Width: 1, Offset: 0}})
	require.NoError(t, err)
	_, off2, err := b.AddComponent(netlist.KindBuffer, 1, []netlist.InputDescriptor{{Width: 1, Offset: 0}})
	require.NoError(t, err)

	require.NoError(t, b.SetFirstDriver(wy, off1, 1))
	require.NoError(t, b.AddDriver(wy, off2, 1))

	nl, err := b.Build()
	require.NoError(t, err)

	buf := NewBuffers(nl)
	buf.OutputStates[off1] = logic.Logic1
	buf.OutputStates[off2] = logic.Logic0

	pool := NewWorkerPool(2)
	WireKernel(pool, buf, 1)

	assert.True(t, buf.Control.HasConflicts.Load())
	require.NotEmpty(t, buf.Conflicts)
	assert.Equal(t, wy, buf.Conflicts[0].Wire)
}

// TestComponentKernelFoldsThreeInputGate exercises the gate family's
// accumulator fold (spec §4.2) over more than two inputs: a 3-input AND
// gate should only read Logic1 when every input is Logic1.
func TestComponentKernelFoldsThreeInputGate(t *testing.T) {
	b := netlist.NewBuilder()
	wa, err := b.AddWire(1)
	require.NoError(t, err)
	wb, err := b.AddWire(1)
	require.NoError(t, err)
	wc, err := b.AddWire(1)
	require.NoError(t, err)
	wy, err := b.AddWire(1)
	require.NoError(t, err)

	_, outOffset, err := b.AddComponent(netlist.KindAnd, 1, []netlist.InputDescriptor{
		{Width: 1, Offset: 0},
		{Width: 1, Offset: 1},
		{Width: 1, Offset: 2},
	})
	require.NoError(t, err)
	require.NoError(t, b.SetFirstDriver(wy, outOffset, 1))

	nl, err := b.Build()
	require.NoError(t, err)

	d := New(nl, Config{MaxIterations: 16})
	d.SetDrive(wa, []logic.Atom{logic.Logic1})
	d.SetDrive(wb, []logic.Atom{logic.Logic1})
	d.SetDrive(wc, []logic.Atom{logic.Logic1})

	result, err := d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Converged, result.Outcome)
	assert.Equal(t, []logic.Atom{logic.Logic1}, d.ReadWire(wy))

	d.SetDrive(wc, []logic.Atom{logic.Logic0})
	result, err = d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Converged, result.Outcome)
	assert.Equal(t, []logic.Atom{logic.Logic0}, d.ReadWire(wy))
}

// TestWireKernelBoundsNarrowDriverContribution builds a 2-bit wire driven
// by a 1-bit buffer's output: the driver must only contribute its own
// bit 0, leaving bit 1 to the wire's own drive (spec §4.3, min(wire.width,
// driver.width)).
func TestWireKernelBoundsNarrowDriverContribution(t *testing.T) {
	b := netlist.NewBuilder()
	wEnable, err := b.AddWire(1)
	require.NoError(t, err)
	wData, err := b.AddWire(1)
	require.NoError(t, err)
	wy, err := b.AddWire(2)
	require.NoError(t, err)

	_, outOffset, err := b.AddComponent(netlist.KindBuffer, 1, []netlist.InputDescriptor{
		{Width: 1, Offset: 1}, // data = wData
		{Width: 1, Offset: 0}, // enable = wEnable
	})
	require.NoError(t, err)
	require.NoError(t, b.SetFirstDriver(wy, outOffset, 1))
	require.NoError(t, b.SetDrive(wy, []logic.Atom{{State: 0x2, Valid: 0x2}})) // bit1=Logic1 baseline, bit0=High-Z

	nl, err := b.Build()
	require.NoError(t, err)

	d := New(nl, Config{MaxIterations: 16})
	d.SetDrive(wEnable, []logic.Atom{logic.Logic1})
	d.SetDrive(wData, []logic.Atom{logic.Logic1})

	result, err := d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Converged, result.Outcome)

	got := d.ReadWire(wy)
	require.Len(t, got, 1)
	assert.Equal(t, logic.Bit{State: true, Valid: true}, logic.BitAt(got[0], 0)) // driven by the 1-bit buffer
	assert.Equal(t, logic.Bit{State: true, Valid: true}, logic.BitAt(got[0], 1)) // left to the wire's own drive
}

// TestDriverHaltsOnConflict checks that once a conflict is recorded the
// remaining passes are no-ops: the pre-conflict wire state is left intact
// for inspection (spec §7).
func TestDriverHaltsOnConflict(t *testing.T) {
	b := netlist.NewBuilder()
	wy, err := b.AddWire(1)
	require.NoError(t, err)
	_, off1, err := b.AddComponent(netlist.KindBuffer, 1, []netlist.InputDescriptor{{Width: 1, Offset: 0}, {Width: 1, Offset: 0}})
	require.NoError(t, err)
	_, off2, err := b.AddComponent(netlist.KindBuffer, 1, []netlist.InputDescriptor{{Width: 1, Offset: 0}, {Width: 1, Offset: 0}})
	require.NoError(t, err)
	require.NoError(t, b.SetFirstDriver(wy, off1, 1))
	require.NoError(t, b.AddDriver(wy, off2, 1))

	nl, err := b.Build()
	require.NoError(t, err)

	buf := NewBuffers(nl)
	buf.OutputStates[off1] = logic.Logic1
	buf.OutputStates[off2] = logic.Logic0

	pool := NewWorkerPool(2)
	WireKernel(pool, buf, 1)
	require.True(t, buf.Control.HasConflicts.Load())

	before := append([]logic.Atom(nil), buf.WireStateSlice(buf.Wires[wy])...)

	ComponentKernel(pool, buf)
	WireKernel(pool, buf, 2)

	after := buf.WireStateSlice(buf.Wires[wy])
	assert.Equal(t, before, after)
}

// TestEvalBufferTriStateTruthTable exercises evalBuffer directly against
// every enable/data combination spec §4.1/§4.2 specifies: enabled output
// coerces High-Z data to Undefined, disabled output is always High-Z, and
// an invalid enable forces Undefined unconditionally regardless of data.
func TestEvalBufferTriStateTruthTable(t *testing.T) {
	cases := []struct {
		name   string
		data   logic.Atom
		enable logic.Atom
		want   logic.Atom
	}{
		{"enabled passes a driven data value through", logic.Logic1, logic.Logic1, logic.Logic1},
		{"enabled coerces high-z data to undefined", logic.HighZ, logic.Logic1, logic.Undefined},
		{"disabled drives high-z regardless of data", logic.Logic1, logic.Logic0, logic.HighZ},
		{"disabled drives high-z even when data is undefined", logic.Undefined, logic.Logic0, logic.HighZ},
		{"invalid enable forces undefined regardless of data", logic.Logic1, logic.Undefined, logic.Undefined},
		{"invalid enable forces undefined even when data is high-z", logic.HighZ, logic.Undefined, logic.Undefined},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := make([]logic.Atom, 1)
			evalBuffer(out, []logic.Atom{c.data}, []logic.Atom{c.enable})
			assert.Equal(t, c.want, out[0])
		})
	}
}

// buildTriStateBus wires two tri-state BUFFERs — (data0, enable0) and
// (data1, enable1) — onto a shared wire wy, reproducing spec §8 scenario
// 3 (tri-state bus) with the BUFFER's enable fed by a real second input
// descriptor and driven through a full Driver.Step, not seeded directly.
func buildTriStateBus(t *testing.T) (nl *netlist.Netlist, wd0, we0, wd1, we1, wy netlist.WireIndex) {
	t.Helper()
	b := netlist.NewBuilder()
	var err error
	wd0, err = b.AddWire(1)
	require.NoError(t, err)
	we0, err = b.AddWire(1)
	require.NoError(t, err)
	wd1, err = b.AddWire(1)
	require.NoError(t, err)
	we1, err = b.AddWire(1)
	require.NoError(t, err)
	wy, err = b.AddWire(1)
	require.NoError(t, err)

	_, off0, err := b.AddComponent(netlist.KindBuffer, 1, []netlist.InputDescriptor{
		{Width: 1, Offset: b.WireStateOffset(wd0)},
		{Width: 1, Offset: b.WireStateOffset(we0)},
	})
	require.NoError(t, err)
	_, off1, err := b.AddComponent(netlist.KindBuffer, 1, []netlist.InputDescriptor{
		{Width: 1, Offset: b.WireStateOffset(wd1)},
		{Width: 1, Offset: b.WireStateOffset(we1)},
	})
	require.NoError(t, err)

	require.NoError(t, b.SetFirstDriver(wy, off0, 1))
	require.NoError(t, b.AddDriver(wy, off1, 1))

	nl, err = b.Build()
	require.NoError(t, err)
	return nl, wd0, we0, wd1, we1, wy
}

// TestDriverTriStateBusNoConflictThenConflict is spec §8 scenario 3
// verbatim: one buffer enabled driving Logic1 resolves cleanly, then
// enabling the second buffer (driving Logic0) onto the same wire reports
// a conflict naming that wire.
func TestDriverTriStateBusNoConflictThenConflict(t *testing.T) {
	nl, wd0, we0, wd1, we1, wy := buildTriStateBus(t)
	d := New(nl, Config{MaxIterations: 16})

	d.SetDrive(we0, []logic.Atom{logic.Logic1})
	d.SetDrive(we1, []logic.Atom{logic.Logic0})
	d.SetDrive(wd0, []logic.Atom{logic.Logic1})
	d.SetDrive(wd1, []logic.Atom{logic.Logic0})

	result, err := d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Converged, result.Outcome)
	assert.Equal(t, []logic.Atom{logic.Logic1}, d.ReadWire(wy))

	d.SetDrive(we1, []logic.Atom{logic.Logic1})
	result, err = d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Conflict, result.Outcome)
	require.NotEmpty(t, result.Conflicts)
	assert.Equal(t, wy, result.Conflicts[0].Wire)
}

// buildNotChain wires n NOT gates in series: wires[0] is the primary input,
// wires[i+1] = NOT(wires[i]) for i in [0,n), reproducing spec §8's
// convergence-depth scenario.
func buildNotChain(t *testing.T, n int) (*netlist.Netlist, []netlist.WireIndex) {
	t.Helper()
	b := netlist.NewBuilder()
	wires := make([]netlist.WireIndex, n+1)
	for i := range wires {
		w, err := b.AddWire(1)
		require.NoError(t, err)
		wires[i] = w
	}
	for i := 0; i < n; i++ {
		_, outOffset, err := b.AddComponent(netlist.KindNot, 1, []netlist.InputDescriptor{
			{Width: 1, Offset: b.WireStateOffset(wires[i])},
		})
		require.NoError(t, err)
		require.NoError(t, b.SetFirstDriver(wires[i+1], outOffset, 1))
	}
	nl, err := b.Build()
	require.NoError(t, err)
	return nl, wires
}

// TestDriverConvergesNotChainWithinSpecBound is spec §8's literal
// "convergence depth" scenario: a chain of 8 NOT gates converges within
// Converged(9). A second Step against the already-settled netlist must
// report Converged(0) with no state changes (the idempotence property),
// since its opening wire pass and first component pass find nothing changed.
func TestDriverConvergesNotChainWithinSpecBound(t *testing.T) {
	nl, wires := buildNotChain(t, 8)
	d := New(nl, Config{MaxIterations: 100})
	d.SetDrive(wires[0], []logic.Atom{logic.Logic0})

	result, err := d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Converged, result.Outcome)
	assert.LessOrEqual(t, result.Iterations, 9)
	assert.Equal(t, []logic.Atom{logic.Logic0}, d.ReadWire(wires[8]))

	result, err = d.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Converged, result.Outcome)
	assert.Equal(t, 0, result.Iterations)
}

func TestWorkerPoolDispatchCoversAllItems(t *testing.T) {
	pool := NewWorkerPool(4)
	n := 257 // spans multiple workgroups of WorkgroupSize
	seen := make([]bool, n)
	pool.Dispatch(n, func(i int) {
		seen[i] = true
	})
	for i, ok := range seen {
		if !ok {
			t.Errorf("item %d never dispatched", i)
		}
	}
}
