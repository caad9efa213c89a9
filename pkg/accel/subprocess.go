package accel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/fourstate/lsim/pkg/engine"
	"github.com/fourstate/lsim/pkg/logic"
)

// SubprocessBinaryPath is the path to the external kernel-dispatch
// binary. Override this before calling NewSubprocessDispatcher if it
// lives elsewhere.
var SubprocessBinaryPath = "accel/lsim-kernel"

// SubprocessDispatcher runs kernel passes in a long-lived child process
// over a packed binary protocol: the parent uploads the netlist's static
// component topology once at startup, then on every dispatch call sends
// the current atom buffers and reads back the updated ones plus the
// conflict count. This is the out-of-process stand-in for a real
// accelerator backend (GPU, FPGA, remote device) — the pipe protocol,
// not the compute behind it, is what this package is grounded on.
type SubprocessDispatcher struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stdout       *bufio.Reader
	stdoutCloser io.Closer
	mu           sync.Mutex
}

// opcode tags each request sent down the pipe.
type opcode uint32

const (
	opComponents opcode = iota
	opWires
	opReset
)

// NewSubprocessDispatcher starts the child process and uploads b's
// static component topology.
func NewSubprocessDispatcher(b *engine.Buffers) (*SubprocessDispatcher, error) {
	cmd := exec.Command(SubprocessBinaryPath, "--dispatch-server")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("accel: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("accel: stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr // inherit

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("accel: start %s: %w", SubprocessBinaryPath, err)
	}

	sp := &SubprocessDispatcher{
		cmd:          cmd,
		stdin:        stdin,
		stdout:       bufio.NewReader(stdout),
		stdoutCloser: stdout,
	}

	header := [2]uint32{uint32(len(b.WireStates)), uint32(len(b.OutputStates))}
	if err := binary.Write(stdin, binary.LittleEndian, header); err != nil {
		sp.Close()
		return nil, fmt.Errorf("accel: write header: %w", err)
	}
	if err := binary.Write(stdin, binary.LittleEndian, uint32(len(b.Components))); err != nil {
		sp.Close()
		return nil, fmt.Errorf("accel: write component count: %w", err)
	}
	for _, c := range b.Components {
		packed := uint32(c.Kind) | (c.OutputCount&0xFF)<<16 | (c.InputCount&0xFF)<<24
		if err := binary.Write(stdin, binary.LittleEndian, packed); err != nil {
			sp.Close()
			return nil, fmt.Errorf("accel: write component: %w", err)
		}
	}

	return sp, nil
}

// DispatchComponents sends the current output/wire state atoms, runs one
// remote component-kernel pass, and writes the updated output atoms back
// into b.
func (sp *SubprocessDispatcher) DispatchComponents(b *engine.Buffers) error {
	req := packAtoms(b.WireStates)
	req = append(req, packAtoms(b.OutputStates)...)
	resp, err := sp.roundTrip(opComponents, req)
	if err != nil {
		return err
	}
	changed := unpackAtomsInto(b.OutputStates, resp)
	if changed {
		b.Control.ComponentsChanged.Store(true)
	}
	return nil
}

// DispatchWires sends the current wire/output/drive atoms, runs one
// remote wire-kernel pass, writes the resolved wire states back into b,
// and adds the reported conflict count to b's control word. The response
// carries a count only, so no ConflictRecord is appended to b.Conflicts.
func (sp *SubprocessDispatcher) DispatchWires(b *engine.Buffers, iteration uint32) error {
	req := []uint32{iteration}
	req = append(req, packAtoms(b.WireStates)...)
	req = append(req, packAtoms(b.WireDrives)...)
	req = append(req, packAtoms(b.OutputStates)...)
	resp, err := sp.roundTrip(opWires, req)
	if err != nil {
		return err
	}
	if len(resp) < 1 {
		return fmt.Errorf("accel: wire dispatch response too short")
	}
	conflictCount := resp[0]
	stateWords := resp[1:]
	changed := unpackAtomsInto(b.WireStates, stateWords)
	if changed {
		b.Control.WiresChanged.Store(true)
	}
	for i := uint32(0); i < conflictCount; i++ {
		b.Control.HasConflicts.Store(true)
		b.Control.ConflictListLen.Add(1)
	}
	return nil
}

// DispatchReset clears the control word's change flags named by mask and
// republishes HasConflicts, mirroring the reset kernel's push constant
// (spec §4.4/§6).
func (sp *SubprocessDispatcher) DispatchReset(b *engine.Buffers, mask uint32) error {
	_, err := sp.roundTrip(opReset, []uint32{mask})
	if err != nil {
		return err
	}
	engine.ResetKernel(b, mask)
	return nil
}

func (sp *SubprocessDispatcher) Close() error {
	sp.stdin.Close()
	sp.stdoutCloser.Close()
	return sp.cmd.Wait()
}

func (sp *SubprocessDispatcher) roundTrip(op opcode, words []uint32) ([]uint32, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := binary.Write(sp.stdin, binary.LittleEndian, uint32(op)); err != nil {
		return nil, fmt.Errorf("accel: write opcode: %w", err)
	}
	if err := binary.Write(sp.stdin, binary.LittleEndian, uint32(len(words))); err != nil {
		return nil, fmt.Errorf("accel: write payload length: %w", err)
	}
	if len(words) > 0 {
		if err := binary.Write(sp.stdin, binary.LittleEndian, words); err != nil {
			return nil, fmt.Errorf("accel: write payload: %w", err)
		}
	}

	var n uint32
	if err := binary.Read(sp.stdout, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("accel: read response length: %w", err)
	}
	resp := make([]uint32, n)
	if n > 0 {
		if err := binary.Read(sp.stdout, binary.LittleEndian, resp); err != nil {
			return nil, fmt.Errorf("accel: read response: %w", err)
		}
	}
	return resp, nil
}

// packAtoms flattens State/Valid pairs into the wire format: each atom
// becomes two consecutive words.
func packAtoms(atoms []logic.Atom) []uint32 {
	out := make([]uint32, 0, len(atoms)*2)
	for _, a := range atoms {
		out = append(out, a.State, a.Valid)
	}
	return out
}

// unpackAtomsInto overwrites dst from words (two per atom) and reports
// whether anything changed.
func unpackAtomsInto(dst []logic.Atom, words []uint32) (changed bool) {
	for i := range dst {
		if i*2+1 >= len(words) {
			break
		}
		next := logic.Atom{State: words[i*2], Valid: words[i*2+1]}
		if next != dst[i] {
			changed = true
		}
		dst[i] = next
	}
	return changed
}
