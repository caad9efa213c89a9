package main

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/fourstate/lsim/pkg/engine"
	"github.com/fourstate/lsim/pkg/logic"
	"github.com/fourstate/lsim/pkg/netlist"
	"github.com/fourstate/lsim/pkg/report"
)

// session is the on-disk state a sequence of lsim invocations share: the
// static netlist plus the simulation's live buffers and accumulated
// reports. Each subcommand loads one, mutates it, and saves it back —
// the same load/mutate/save shape as a search checkpoint.
type session struct {
	Netlist *netlist.Netlist
	Wires   map[string]netlist.WireIndex

	WireStates   []logic.Atom
	WireDrives   []logic.Atom
	OutputStates []logic.Atom
	Iteration    uint32

	Reports []report.StepReport
}

func init() {
	gob.Register(netlist.Kind(0))
}

// saveSession writes s to path.
func saveSession(path string, s *session) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("lsim: create session file: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(s); err != nil {
		return fmt.Errorf("lsim: encode session: %w", err)
	}
	return nil
}

// loadSession reads a session back from path.
func loadSession(path string) (*session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lsim: open session file: %w", err)
	}
	defer f.Close()
	var s session
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, fmt.Errorf("lsim: decode session: %w", err)
	}
	return &s, nil
}

// newSession seeds a session's live buffers from a freshly built netlist.
func newSession(nl *netlist.Netlist, wires map[string]netlist.WireIndex) *session {
	buf := engine.NewBuffers(nl)
	return &session{
		Netlist:      nl,
		Wires:        wires,
		WireStates:   buf.WireStates,
		WireDrives:   buf.WireDrives,
		OutputStates: buf.OutputStates,
	}
}

// toBuffers reconstitutes an engine.Buffers from the session's saved live
// state, so a Driver can resume exactly where the last invocation left
// off.
func (s *session) toBuffers() *engine.Buffers {
	b := &engine.Buffers{
		WireStates:   s.WireStates,
		WireDrives:   s.WireDrives,
		WireDrivers:  s.Netlist.Drivers,
		Wires:        s.Netlist.Wires,
		OutputStates: s.OutputStates,
		Outputs:      s.Netlist.Outputs,
		Inputs:       s.Netlist.Inputs,
		Components:   s.Netlist.Components,
	}
	b.Conflicts = make([]engine.ConflictRecord, 0, engine.MaxConflicts)
	return b
}

// resetLiveState delegates to engine.Buffers.Reset: wire states, output
// states, and the control word are zeroed; s.WireDrives, set by any
// prior set-drive calls, is left untouched (spec §6 reset()).
func (s *session) resetLiveState() {
	buf := s.toBuffers()
	buf.Reset()
	s.WireStates = buf.WireStates
	s.OutputStates = buf.OutputStates
	s.Iteration = 0
}

// resolveWire looks up a wire by its netlist-source name, failing with an
// error that names the unknown wire if it isn't found.
func (s *session) resolveWire(name string) (netlist.WireIndex, error) {
	idx, ok := s.Wires[name]
	if !ok {
		return 0, fmt.Errorf("lsim: unknown wire %q", name)
	}
	return idx, nil
}
