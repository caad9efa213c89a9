// Command lsim builds a combinational netlist from a text description,
// drives it to a fixed point, and lets a caller inspect and override wire
// state between runs — a small CLI front end for pkg/engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fourstate/lsim/internal/netlistfmt"
	"github.com/fourstate/lsim/pkg/engine"
	"github.com/fourstate/lsim/pkg/logic"
	"github.com/fourstate/lsim/pkg/netlist"
	"github.com/fourstate/lsim/pkg/report"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lsim",
		Short: "Four-valued combinational logic simulator",
	}
	root.AddCommand(createCmd(), setDriveCmd(), stepCmd(), readWireCmd(), readOutputCmd(), resetCmd())
	return root
}

func createCmd() *cobra.Command {
	var sessionPath string
	cmd := &cobra.Command{
		Use:   "create <netlist-file>",
		Short: "Build a session from a netlist description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			doc, err := netlistfmt.Parse(f)
			if err != nil {
				return fmt.Errorf("lsim: parse %s: %w", args[0], err)
			}
			if reserved := netlist.ReservedKindsUsed(doc.Netlist); len(reserved) > 0 {
				names := make([]string, len(reserved))
				for i, k := range reserved {
					names[i] = k.String()
				}
				fmt.Fprintf(os.Stderr, "warning: netlist uses reserved (no-change) kinds: %s\n", strings.Join(names, ", "))
			}

			s := newSession(doc.Netlist, doc.Wires)
			if err := saveSession(sessionPath, s); err != nil {
				return err
			}
			fmt.Printf("created session %s (%d wires, %d components)\n",
				sessionPath, len(doc.Netlist.Wires), len(doc.Netlist.Components))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "lsim.session", "Session file to write")
	return cmd
}

func setDriveCmd() *cobra.Command {
	var sessionPath, wireName, bits string
	cmd := &cobra.Command{
		Use:   "set-drive",
		Short: "Override a wire's external drive value",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(sessionPath)
			if err != nil {
				return err
			}
			idx, err := s.resolveWire(wireName)
			if err != nil {
				return err
			}
			atoms, err := netlistfmt.ParseBits(bits)
			if err != nil {
				return err
			}

			buf := s.toBuffers()
			d := engine.NewFromBuffers(s.Netlist, buf, engine.Config{}, engine.NewCPUDispatcher(0))
			d.SetDrive(idx, atoms)

			s.WireDrives = buf.WireDrives
			return saveSession(sessionPath, s)
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "lsim.session", "Session file")
	cmd.Flags().StringVar(&wireName, "wire", "", "Wire name")
	cmd.Flags().StringVar(&bits, "value", "", "Bit string, MSB first (0/1/X/Z)")
	cmd.MarkFlagRequired("wire")
	cmd.MarkFlagRequired("value")
	return cmd
}

func stepCmd() *cobra.Command {
	var sessionPath string
	var maxIterations int
	var verbose bool
	var reportPath string
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Run the fixed-point loop until convergence, a conflict, or the iteration cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(sessionPath)
			if err != nil {
				return err
			}

			buf := s.toBuffers()
			d := engine.NewFromBuffers(s.Netlist, buf, engine.Config{
				MaxIterations: maxIterations,
				Verbose:       verbose,
			}, engine.NewCPUDispatcher(0))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			notifyInterrupt(cancel)

			start := time.Now()
			result, err := d.Step(ctx)
			elapsed := time.Since(start)
			if err != nil && err != context.Canceled {
				return err
			}

			fmt.Printf("outcome=%s iterations=%d conflicts=%d duration=%s\n",
				result.Outcome, result.Iterations, len(result.Conflicts), elapsed)

			s.WireStates = buf.WireStates
			s.OutputStates = buf.OutputStates
			s.Reports = append(s.Reports, report.FromStepResult(result, elapsed))
			if err := saveSession(sessionPath, s); err != nil {
				return err
			}
			if reportPath != "" {
				t := report.NewTable()
				for _, r := range s.Reports {
					t.Add(r)
				}
				return t.Save(reportPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "lsim.session", "Session file")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 1000, "Iteration cap (0 = unbounded)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print per-iteration progress")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write accumulated step reports as JSON to this path")
	return cmd
}

func readWireCmd() *cobra.Command {
	var sessionPath, wireName string
	cmd := &cobra.Command{
		Use:   "read-wire",
		Short: "Print a wire's current resolved state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(sessionPath)
			if err != nil {
				return err
			}
			idx, err := s.resolveWire(wireName)
			if err != nil {
				return err
			}
			buf := s.toBuffers()
			wire := buf.Wires[idx]
			atoms := buf.WireStateSlice(wire)
			fmt.Println(formatAtoms(atoms, wire.Width))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "lsim.session", "Session file")
	cmd.Flags().StringVar(&wireName, "wire", "", "Wire name")
	cmd.MarkFlagRequired("wire")
	return cmd
}

func readOutputCmd() *cobra.Command {
	var sessionPath string
	var componentIdx int
	var slot uint32
	cmd := &cobra.Command{
		Use:   "read-output",
		Short: "Print one of a component's output slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(sessionPath)
			if err != nil {
				return err
			}
			if componentIdx < 0 || componentIdx >= len(s.Netlist.Components) {
				return fmt.Errorf("lsim: component index %d out of range", componentIdx)
			}
			c := s.Netlist.Components[componentIdx]
			if slot >= c.OutputCount {
				return fmt.Errorf("lsim: component %d has %d output slot(s), slot %d out of range", componentIdx, c.OutputCount, slot)
			}
			desc := s.Netlist.Outputs[c.OutputOffsetOrFirstOutput+slot]
			buf := s.toBuffers()
			atoms := buf.OutputSlice(desc)
			fmt.Println(formatAtoms(atoms, desc.Width))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "lsim.session", "Session file")
	cmd.Flags().IntVar(&componentIdx, "component", -1, "Component index")
	cmd.Flags().Uint32Var(&slot, "slot", 0, "Output slot index (every component kind this engine evaluates has exactly one, slot 0)")
	cmd.MarkFlagRequired("component")
	return cmd
}

func resetCmd() *cobra.Command {
	var sessionPath string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset a session's live state to High-Z, keeping the netlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(sessionPath)
			if err != nil {
				return err
			}
			s.resetLiveState()
			return saveSession(sessionPath, s)
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "lsim.session", "Session file")
	return cmd
}

// notifyInterrupt cancels ctx on SIGINT, so a long `step` run on a
// non-converging netlist can be stopped cleanly instead of killed.
func notifyInterrupt(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()
}

func formatAtoms(atoms []logic.Atom, width uint32) string {
	var sb strings.Builder
	for i := int(width) - 1; i >= 0; i-- {
		bit := logic.BitAt(atoms[i/32], uint(i%32))
		switch {
		case bit.Valid && bit.State:
			sb.WriteByte('1')
		case bit.Valid && !bit.State:
			sb.WriteByte('0')
		case !bit.Valid && bit.State:
			sb.WriteByte('X')
		default:
			sb.WriteByte('Z')
		}
	}
	return sb.String()
}
