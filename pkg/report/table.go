// Package report accumulates and persists the outcome of simulation
// steps, the way a long-running search accumulates the rules it finds.
package report

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fourstate/lsim/pkg/engine"
	"github.com/fourstate/lsim/pkg/netlist"
)

// StepReport is one Driver.Step outcome, with how long the step took.
type StepReport struct {
	Outcome    string                   `json:"outcome"`
	Iterations int                      `json:"iterations"`
	Conflicts  []ConflictEntry          `json:"conflicts,omitempty"`
	Duration   time.Duration            `json:"duration_ns"`
}

// ConflictEntry is the JSON-friendly form of an engine.ConflictRecord.
type ConflictEntry struct {
	Wire      netlist.WireIndex `json:"wire"`
	Iteration uint32            `json:"iteration"`
}

// FromStepResult converts an engine.StepResult into a StepReport, tagging
// it with how long the step took.
func FromStepResult(result engine.StepResult, duration time.Duration) StepReport {
	sr := StepReport{
		Outcome:    result.Outcome.String(),
		Iterations: result.Iterations,
		Duration:   duration,
	}
	for _, c := range result.Conflicts {
		sr.Conflicts = append(sr.Conflicts, ConflictEntry{Wire: c.Wire, Iteration: c.Iteration})
	}
	return sr
}

// Table stores every StepReport recorded during a session. It is safe
// for concurrent use across multiple Driver.Step calls.
type Table struct {
	mu      sync.Mutex
	reports []StepReport
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{}
}

// Add appends a report.
func (t *Table) Add(r StepReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reports = append(t.reports, r)
}

// Reports returns a copy of every report recorded so far, in the order
// they were added.
func (t *Table) Reports() []StepReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StepReport, len(t.reports))
	copy(out, t.reports)
	return out
}

// ConflictingWires returns the distinct set of wires that have ever been
// reported in conflict, sorted by index.
func (t *Table) ConflictingWires() []netlist.WireIndex {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[netlist.WireIndex]struct{})
	for _, r := range t.reports {
		for _, c := range r.Conflicts {
			seen[c.Wire] = struct{}{}
		}
	}
	wires := make([]netlist.WireIndex, 0, len(seen))
	for w := range seen {
		wires = append(wires, w)
	}
	sort.Slice(wires, func(i, j int) bool { return wires[i] < wires[j] })
	return wires
}

// Len returns the number of reports recorded.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reports)
}

// Save writes every recorded report to path as JSON.
func (t *Table) Save(path string) error {
	reports := t.Reports()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

// Load returns a new Table holding the reports read back from path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var reports []StepReport
	if err := json.NewDecoder(f).Decode(&reports); err != nil {
		return nil, err
	}
	return &Table{reports: reports}, nil
}
