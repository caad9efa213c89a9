// Package netlistfmt parses the small line-oriented text format cmd/lsim
// reads circuit descriptions from: one wire/gate/drive statement per
// line, grounded in nothing more exotic than bufio.Scanner and
// strings.Fields, the way a simple assembly-line parser would be built.
package netlistfmt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fourstate/lsim/pkg/logic"
	"github.com/fourstate/lsim/pkg/netlist"
)

var kindNames = map[string]netlist.Kind{
	"and":    netlist.KindAnd,
	"or":     netlist.KindOr,
	"xor":    netlist.KindXor,
	"nand":   netlist.KindNand,
	"nor":    netlist.KindNor,
	"xnor":   netlist.KindXnor,
	"not":    netlist.KindNot,
	"buffer": netlist.KindBuffer,
	"add":    netlist.KindAdd,
	"sub":    netlist.KindSub,
	"neg":    netlist.KindNeg,
	"shl":    netlist.KindShl,
	"shr":    netlist.KindShr,
	"eq":     netlist.KindEq,
	"lt":     netlist.KindLt,
	"aoi":    netlist.KindHybridAOI,
}

// Document is a parsed netlist description: the built netlist plus the
// name-to-index tables cmd/lsim needs to resolve a CLI --wire flag back
// to a netlist.WireIndex.
type Document struct {
	Netlist *netlist.Netlist
	Wires   map[string]netlist.WireIndex
}

// ParseError reports the line a malformed statement was found on.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("netlistfmt: line %d: %s", e.Line, e.Msg)
}

// Parse reads a circuit description from r. Recognized statement forms:
//
//	wire <name> <width>
//	gate <kind> in=<wire>[,<wire>...] out=<wire> [enable=<wire>]
//	drive <wire> <bits>
//
// Gate output wires receive their driving component as an inline first
// driver unless they already have one, in which case it becomes an
// additional (combine-resolved) driver.
func Parse(r io.Reader) (*Document, error) {
	b := netlist.NewBuilder()
	wireIndex := make(map[string]netlist.WireIndex)
	wireWidth := make(map[string]uint32)
	type pendingDrive struct {
		wire netlist.WireIndex
		bits string
		line int
	}
	var pendingDrives []pendingDrive

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)

		switch fields[0] {
		case "wire":
			if len(fields) != 3 {
				return nil, &ParseError{line, "expected: wire <name> <width>"}
			}
			width, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				return nil, &ParseError{line, fmt.Sprintf("bad width %q: %v", fields[2], err)}
			}
			idx, err := b.AddWire(uint32(width))
			if err != nil {
				return nil, &ParseError{line, err.Error()}
			}
			wireIndex[fields[1]] = idx
			wireWidth[fields[1]] = uint32(width)

		case "gate":
			if len(fields) < 4 {
				return nil, &ParseError{line, "expected: gate <kind> in=<wires> out=<wire>"}
			}
			kind, ok := kindNames[fields[1]]
			if !ok {
				return nil, &ParseError{line, fmt.Sprintf("unknown gate kind %q", fields[1])}
			}
			var inNames []string
			var outName string
			for _, kv := range fields[2:] {
				k, v, found := strings.Cut(kv, "=")
				if !found {
					return nil, &ParseError{line, fmt.Sprintf("bad attribute %q", kv)}
				}
				switch k {
				case "in":
					inNames = strings.Split(v, ",")
				case "out":
					outName = v
				case "enable":
					inNames = append(inNames, v)
				default:
					return nil, &ParseError{line, fmt.Sprintf("unknown attribute %q", k)}
				}
			}
			if outName == "" {
				return nil, &ParseError{line, "gate statement missing out="}
			}
			outWidth, ok := wireWidth[outName]
			if !ok {
				return nil, &ParseError{line, fmt.Sprintf("undefined output wire %q", outName)}
			}
			var inputs []netlist.InputDescriptor
			for _, name := range inNames {
				idx, ok := wireIndex[name]
				if !ok {
					return nil, &ParseError{line, fmt.Sprintf("undefined input wire %q", name)}
				}
				inputs = append(inputs, netlist.InputDescriptor{
					Width:  wireWidth[name],
					Offset: b.WireStateOffset(idx),
				})
			}

			_, outOffset, err := b.AddComponent(kind, outWidth, inputs)
			if err != nil {
				return nil, &ParseError{line, err.Error()}
			}
			outIdx := wireIndex[outName]
			if b.HasFirstDriver(outIdx) {
				if err := b.AddDriver(outIdx, outOffset, outWidth); err != nil {
					return nil, &ParseError{line, err.Error()}
				}
			} else if err := b.SetFirstDriver(outIdx, outOffset, outWidth); err != nil {
				return nil, &ParseError{line, err.Error()}
			}

		case "drive":
			if len(fields) != 3 {
				return nil, &ParseError{line, "expected: drive <wire> <bits>"}
			}
			idx, ok := wireIndex[fields[1]]
			if !ok {
				return nil, &ParseError{line, fmt.Sprintf("undefined wire %q", fields[1])}
			}
			pendingDrives = append(pendingDrives, pendingDrive{wire: idx, bits: fields[2], line: line})

		default:
			return nil, &ParseError{line, fmt.Sprintf("unknown statement %q", fields[0])}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("netlistfmt: read: %w", err)
	}

	for _, pd := range pendingDrives {
		atoms, err := ParseBits(pd.bits)
		if err != nil {
			return nil, &ParseError{pd.line, err.Error()}
		}
		if err := b.SetDrive(pd.wire, atoms); err != nil {
			return nil, &ParseError{pd.line, err.Error()}
		}
	}

	nl, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &Document{Netlist: nl, Wires: wireIndex}, nil
}

// ParseBits turns a bit string like "101XZ" (MSB first, up to 32 bits,
// X=Undefined, Z=High-Z) into a single-atom slice.
func ParseBits(s string) ([]logic.Atom, error) {
	if len(s) == 0 || len(s) > 32 {
		return nil, fmt.Errorf("bit string %q must be 1-32 characters", s)
	}
	var state, valid uint32
	n := len(s)
	for i, ch := range s {
		bit := uint(n - 1 - i)
		switch ch {
		case '1':
			state |= 1 << bit
			valid |= 1 << bit
		case '0':
			valid |= 1 << bit
		case 'X', 'x':
			state |= 1 << bit
		case 'Z', 'z':
		default:
			return nil, fmt.Errorf("bit string %q: invalid character %q", s, ch)
		}
	}
	return []logic.Atom{{State: state, Valid: valid}}, nil
}
