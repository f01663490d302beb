// Package series defines the in-memory data model for meter reading tables:
// the shared time grid, per-cell observed/missing state, entities (meters),
// and the imputed output form.
//
// Each entity carries one cumulative reading per grid step. A cell is a
// tagged variant: either an observed non-negative reading or explicitly
// missing. No sentinel values (NaN, negative numbers) are used to encode
// missingness.
package series

import (
	"fmt"
	"math"
)

// Caliber classifies a meter by its nominal pipe diameter.
type Caliber string

const (
	CaliberDN15 Caliber = "DN15"
	CaliberDN20 Caliber = "DN20"
	CaliberDN25 Caliber = "DN25"
	CaliberDN32 Caliber = "DN32"
	CaliberDN40 Caliber = "DN40"

	// CaliberUnknown is assigned when the source carries no recognizable
	// classification. It never affects imputation, only report breakdowns.
	CaliberUnknown Caliber = "unknown"
)

// ParseCaliber maps a raw classification string to a known Caliber.
// Unrecognized values map to CaliberUnknown rather than failing the row;
// the classification attribute is informational only.
func ParseCaliber(s string) Caliber {
	switch Caliber(s) {
	case CaliberDN15, CaliberDN20, CaliberDN25, CaliberDN32, CaliberDN40:
		return Caliber(s)
	default:
		return CaliberUnknown
	}
}

// Grid is the fixed ordered set of time-step columns shared by every entity
// in a dataset. Column labels come from the external source (e.g. the CSV
// header) and are carried through to the sink unchanged.
type Grid struct {
	Columns []string
}

// NewGrid builds a grid from ordered column labels.
func NewGrid(columns []string) Grid {
	return Grid{Columns: columns}
}

// Len returns the number of time steps in the grid.
func (g Grid) Len() int {
	return len(g.Columns)
}

// Cell is one position in an entity's sequence: either an observed reading
// or missing. The zero value is a missing cell.
type Cell struct {
	Value    float64
	Observed bool
}

// ObservedCell returns a cell holding an observed reading.
func ObservedCell(v float64) Cell {
	return Cell{Value: v, Observed: true}
}

// MissingCell returns an explicitly missing cell.
func MissingCell() Cell {
	return Cell{}
}

// Entity is one physical meter: an opaque identifier, a caliber, and one
// cell per grid step.
type Entity struct {
	ID      string
	Caliber Caliber
	Cells   []Cell
}

// ObservedCount returns the number of observed cells in the sequence.
func (e *Entity) ObservedCount() int {
	n := 0
	for _, c := range e.Cells {
		if c.Observed {
			n++
		}
	}
	return n
}

// Validate checks the entity against the grid it claims to belong to.
// A length mismatch or a non-finite or negative observed value makes the
// entity malformed.
func (e *Entity) Validate(grid Grid) error {
	if e.ID == "" {
		return fmt.Errorf("entity has empty id")
	}
	if len(e.Cells) != grid.Len() {
		return fmt.Errorf("entity %s: sequence length %d does not match grid length %d", e.ID, len(e.Cells), grid.Len())
	}
	for i, c := range e.Cells {
		if !c.Observed {
			continue
		}
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return fmt.Errorf("entity %s: non-finite reading at step %d", e.ID, i)
		}
		if c.Value < 0 {
			return fmt.Errorf("entity %s: negative reading %g at step %d", e.ID, c.Value, i)
		}
	}
	return nil
}

// ImputedSeries is the output form of an entity after gap filling and
// monotonicity enforcement: every position holds a concrete value, and a
// parallel flag records which positions were synthesized. The flag array is
// preserved for downstream auditing regardless of later corrections.
type ImputedSeries struct {
	ID      string
	Caliber Caliber
	Values  []float64
	Imputed []bool
}
