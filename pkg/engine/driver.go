package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fourstate/lsim/pkg/logic"
	"github.com/fourstate/lsim/pkg/netlist"
)

// Config controls how a Driver runs its fixed-point loop.
type Config struct {
	// Workers sizes the WorkerPool; <= 0 uses runtime.NumCPU().
	Workers int
	// MaxIterations bounds the number of component/wire passes a single
	// Step will run before giving up with MaxIterationsReached. Zero
	// means no bound.
	MaxIterations int
	// Verbose gates per-iteration progress lines, printed the way a
	// long-running search loop reports progress.
	Verbose bool
	// Logger, if non-nil, additionally receives a structured debug event
	// per component pass and per wire pass. Most callers leave this nil
	// and rely on Verbose.
	Logger *zerolog.Logger
}

// Outcome classifies how a Step call ended.
type Outcome int

const (
	// Converged means a full component+wire pass produced no change.
	Converged Outcome = iota
	// MaxIterationsReached means Config.MaxIterations passes ran without
	// converging.
	MaxIterationsReached
	// Conflict means at least one wire had two sources contributing a
	// non-High-Z value to the same bit during the run. Step stops at the
	// pass where the conflict is first observed, and StepResult.Conflicts
	// names the wires.
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case MaxIterationsReached:
		return "max_iterations_reached"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// StepResult reports how Driver.Step ended.
type StepResult struct {
	Outcome    Outcome
	Iterations int
	Conflicts  []ConflictRecord
}

// Driver owns a netlist's Buffers and drives the two-phase fixed-point
// loop over them: a component-kernel pass, then a wire-kernel pass,
// repeated until neither changes anything.
type Driver struct {
	Netlist    *netlist.Netlist
	Buffers    *Buffers
	dispatcher Dispatcher
	cfg        Config

	iteration uint32
}

// New builds a Driver over a freshly allocated Buffers for nl, dispatching
// every kernel pass through a local CPUDispatcher.
func New(nl *netlist.Netlist, cfg Config) *Driver {
	return NewWithDispatcher(nl, cfg, NewCPUDispatcher(cfg.Workers))
}

// NewWithDispatcher builds a Driver that dispatches kernel passes through
// dispatcher instead of a local CPUDispatcher — e.g. pkg/accel's
// SubprocessDispatcher.
func NewWithDispatcher(nl *netlist.Netlist, cfg Config, dispatcher Dispatcher) *Driver {
	return NewFromBuffers(nl, NewBuffers(nl), cfg, dispatcher)
}

// NewFromBuffers builds a Driver over buffers the caller already has —
// e.g. one reconstituted from a previously saved simulation session —
// rather than a freshly allocated zero state.
func NewFromBuffers(nl *netlist.Netlist, buffers *Buffers, cfg Config, dispatcher Dispatcher) *Driver {
	return &Driver{
		Netlist:    nl,
		Buffers:    buffers,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// SetDrive overwrites wire w's external drive atoms ahead of the next
// Step, the host-side equivalent of toggling an input switch. Atoms
// beyond the wire's width are ignored; atoms not provided default to
// High-Z.
func (d *Driver) SetDrive(w netlist.WireIndex, atoms []logic.Atom) {
	wire := d.Buffers.Wires[w]
	dst := d.Buffers.WireDriveSlice(wire)
	for i := range dst {
		if i < len(atoms) {
			dst[i] = atoms[i]
		} else {
			dst[i] = logic.HighZ
		}
	}
}

// Step runs component/wire passes until convergence, a conflict is
// recorded, or ctx is cancelled/MaxIterations is hit, whichever comes
// first. Before the first round, one wire pass resolves every wire from
// its current drive and driver outputs, so a drive changed by SetDrive
// since the last Step reaches the components' inputs; that pass is not
// counted in Iterations. Each round then follows spec §4.5's six steps: a component
// pass, a reset clearing only wires_changed, an early Converged exit if
// components_changed came back zero (no wire pass that round and no
// increment of the reported iteration count — this is what makes a step
// against an already-settled netlist report Converged(0)), then a wire
// pass, a reset clearing only components_changed, and finally the
// has_conflicts/wires_changed checks. Iterations counts only rounds that
// actually ran a wire pass, not the final round that merely confirms
// nothing changed.
func (d *Driver) Step(ctx context.Context) (StepResult, error) {
	startConflicts := len(d.Buffers.Conflicts)
	iterations := 0

	if err := d.dispatcher.DispatchWires(d.Buffers, d.iteration); err != nil {
		return StepResult{Outcome: MaxIterationsReached, Iterations: iterations,
			Conflicts: d.Buffers.Conflicts[startConflicts:]}, err
	}

	for {
		select {
		case <-ctx.Done():
			return StepResult{Outcome: MaxIterationsReached, Iterations: iterations,
				Conflicts: d.Buffers.Conflicts[startConflicts:]}, ctx.Err()
		default:
		}

		if err := d.dispatcher.DispatchComponents(d.Buffers); err != nil {
			return StepResult{Outcome: MaxIterationsReached, Iterations: iterations,
				Conflicts: d.Buffers.Conflicts[startConflicts:]}, err
		}
		if err := d.dispatcher.DispatchReset(d.Buffers, ResetClearWiresChanged); err != nil {
			return StepResult{Outcome: MaxIterationsReached, Iterations: iterations,
				Conflicts: d.Buffers.Conflicts[startConflicts:]}, err
		}

		componentsChanged := d.Buffers.Control.ComponentsChanged.Load()

		if d.cfg.Verbose {
			fmt.Printf("  round %d: components_changed=%v\n", iterations+1, componentsChanged)
		}
		if d.cfg.Logger != nil {
			d.cfg.Logger.Debug().
				Int("iteration", iterations).
				Bool("components_changed", componentsChanged).
				Msg("component pass")
		}

		if !componentsChanged {
			return d.result(Converged, iterations, startConflicts), nil
		}
		iterations++

		d.iteration++
		if err := d.dispatcher.DispatchWires(d.Buffers, d.iteration); err != nil {
			return StepResult{Outcome: MaxIterationsReached, Iterations: iterations,
				Conflicts: d.Buffers.Conflicts[startConflicts:]}, err
		}
		if err := d.dispatcher.DispatchReset(d.Buffers, ResetClearComponentsChanged); err != nil {
			return StepResult{Outcome: MaxIterationsReached, Iterations: iterations,
				Conflicts: d.Buffers.Conflicts[startConflicts:]}, err
		}

		hasConflicts := d.Buffers.Control.HasConflicts.Load()
		wiresChanged := d.Buffers.Control.WiresChanged.Load()

		if d.cfg.Verbose {
			fmt.Printf("  iteration %d: wires_changed=%v conflicts=%d\n",
				iterations, wiresChanged, d.Buffers.Control.ConflictListLen.Load())
		}
		if d.cfg.Logger != nil {
			d.cfg.Logger.Debug().
				Int("iteration", iterations).
				Bool("wires_changed", wiresChanged).
				Uint32("conflicts", d.Buffers.Control.ConflictListLen.Load()).
				Msg("wire pass")
		}

		if hasConflicts {
			return d.result(Conflict, iterations, startConflicts), nil
		}
		if !wiresChanged {
			return d.result(Converged, iterations, startConflicts), nil
		}
		if d.cfg.MaxIterations > 0 && iterations >= d.cfg.MaxIterations {
			return d.result(MaxIterationsReached, iterations, startConflicts), nil
		}
	}
}

// Reset zeroes wire states, output states, and the control word,
// preserving wire drives (spec §6's reset() simulator-handle operation).
func (d *Driver) Reset() {
	d.Buffers.Reset()
	d.iteration = 0
}

// ReadWire returns a copy of wire w's current state atoms.
func (d *Driver) ReadWire(w netlist.WireIndex) []logic.Atom {
	wire := d.Buffers.Wires[w]
	src := d.Buffers.WireStateSlice(wire)
	out := make([]logic.Atom, len(src))
	copy(out, src)
	return out
}

// ReadOutput returns a copy of the given output descriptor's current
// state atoms, e.g. for inspecting a component's primary output.
func (d *Driver) ReadOutput(idx uint32) []logic.Atom {
	desc := d.Buffers.Outputs[idx]
	src := d.Buffers.OutputSlice(desc)
	out := make([]logic.Atom, len(src))
	copy(out, src)
	return out
}

func (d *Driver) result(outcome Outcome, iterations, startConflicts int) StepResult {
	newConflicts := d.Buffers.Conflicts[startConflicts:]
	if len(newConflicts) > 0 {
		outcome = Conflict
	}
	conflicts := make([]ConflictRecord, len(newConflicts))
	copy(conflicts, newConflicts)
	return StepResult{Outcome: outcome, Iterations: iterations, Conflicts: conflicts}
}
