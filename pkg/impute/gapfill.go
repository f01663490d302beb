// Package impute contains the per-entity transformations of the imputation
// pipeline: gap filling by temporal interpolation and monotonicity
// enforcement for cumulative counters.
//
// Both transformations are pure functions of a single entity's own sequence.
// They hold no state and never look at other entities, which keeps them
// trivially parallelizable and rules out cross-meter contamination.
package impute

import (
	"errors"
	"fmt"

	"github.com/ecoanalytics/aquafill/pkg/series"
)

// ErrUnfillable is returned by Fill for an entity with no observed values at
// all. Such an entity cannot be interpolated and is excluded from
// monotonicity enforcement; callers record it in the run report rather than
// silently dropping it.
var ErrUnfillable = errors.New("entity has no observed values")

// Fill estimates every missing position of an entity's sequence.
//
// Algorithm:
//  1. Interior gaps (an observed value exists both before and after) are
//     filled by linear interpolation between the nearest observed neighbors,
//     proportional to position distance. Gap length does not change the
//     formula.
//  2. A gap touching the start of the sequence is filled by propagating the
//     first observed value backward; a gap touching the end by propagating
//     the last observed value forward.
//  3. Observed positions are copied through untouched, and the parallel
//     imputed-flag array records exactly which positions were synthesized.
//
// The returned series holds a finite value at every position. An entity with
// zero observed cells returns ErrUnfillable and a nil series.
func Fill(e *series.Entity) (*series.ImputedSeries, error) {
	n := len(e.Cells)
	if e.ObservedCount() == 0 {
		return nil, fmt.Errorf("entity %s: %w", e.ID, ErrUnfillable)
	}

	out := &series.ImputedSeries{
		ID:      e.ID,
		Caliber: e.Caliber,
		Values:  make([]float64, n),
		Imputed: make([]bool, n),
	}

	// prev[i] is the index of the nearest observed cell at or before i,
	// -1 when none exists.
	prev := make([]int, n)
	last := -1
	for i, c := range e.Cells {
		if c.Observed {
			last = i
			out.Values[i] = c.Value
		}
		prev[i] = last
	}

	// next observed index at or after i, scanned right to left.
	next := make([]int, n)
	first := -1
	for i := n - 1; i >= 0; i-- {
		if e.Cells[i].Observed {
			first = i
		}
		next[i] = first
	}

	for i, c := range e.Cells {
		if c.Observed {
			continue
		}
		out.Imputed[i] = true

		p, q := prev[i], next[i]
		switch {
		case p >= 0 && q >= 0:
			vp := e.Cells[p].Value
			vq := e.Cells[q].Value
			out.Values[i] = vp + (vq-vp)*float64(i-p)/float64(q-p)
		case q >= 0:
			// Leading gap: backward fill from first observed value.
			out.Values[i] = e.Cells[q].Value
		default:
			// Trailing gap: forward fill from last observed value.
			out.Values[i] = e.Cells[p].Value
		}
	}

	return out, nil
}
