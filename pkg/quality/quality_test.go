package quality

import (
	"math"
	"testing"

	"github.com/ecoanalytics/aquafill/pkg/series"
)

func TestRunningStats(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		wantMean   float64
		wantStdDev float64
	}{
		{"empty", nil, 0, 0},
		{"single", []float64{5}, 5, 0},
		{"constant", []float64{3, 3, 3, 3}, 3, 0},
		{"simple", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 5, 2.13808993529939},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s RunningStats
			for _, v := range tt.values {
				s.Add(v)
			}
			if got := s.Mean(); math.Abs(got-tt.wantMean) > 1e-9 {
				t.Errorf("Mean() = %v, want %v", got, tt.wantMean)
			}
			if got := s.StdDev(); math.Abs(got-tt.wantStdDev) > 1e-9 {
				t.Errorf("StdDev() = %v, want %v", got, tt.wantStdDev)
			}
		})
	}
}

func TestRunningStats_MergeMatchesSinglePass(t *testing.T) {
	values := []float64{1.5, 2.25, 8, 13.75, 0.5, 9, 4.125}

	var whole RunningStats
	for _, v := range values {
		whole.Add(v)
	}

	var a, b RunningStats
	for _, v := range values[:3] {
		a.Add(v)
	}
	for _, v := range values[3:] {
		b.Add(v)
	}
	a.Merge(b)

	if math.Abs(a.Mean()-whole.Mean()) > 1e-9 {
		t.Errorf("merged Mean() = %v, want %v", a.Mean(), whole.Mean())
	}
	if math.Abs(a.StdDev()-whole.StdDev()) > 1e-9 {
		t.Errorf("merged StdDev() = %v, want %v", a.StdDev(), whole.StdDev())
	}
}

func cellsFrom(pattern string) []series.Cell {
	// 'o' observed (value = position), '.' missing.
	cells := make([]series.Cell, len(pattern))
	for i, r := range pattern {
		if r == 'o' {
			cells[i] = series.ObservedCell(float64(i))
		} else {
			cells[i] = series.MissingCell()
		}
	}
	return cells
}

func TestScanCells(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    GapSummary
	}{
		{"fully observed", "oooo", GapSummary{Observed: 4}},
		{"fully missing", "....", GapSummary{Missing: 4, Gaps: 1, MaxGap: 4}},
		{"interior gap", "o..o", GapSummary{Observed: 2, Missing: 2, Gaps: 1, MaxGap: 2}},
		{"leading and trailing gaps", ".o.o.", GapSummary{Observed: 2, Missing: 3, Gaps: 3, MaxGap: 1}},
		{"two gaps different sizes", "o...o.o", GapSummary{Observed: 3, Missing: 4, Gaps: 2, MaxGap: 3}},
		{"empty", "", GapSummary{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScanCells(cellsFrom(tt.pattern)); got != tt.want {
				t.Errorf("ScanCells(%q) = %+v, want %+v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestMetrics_ObserveInputBuckets(t *testing.T) {
	var m Metrics
	m.ObserveInput(&series.Entity{ID: "a", Cells: cellsFrom("oooo")})
	m.ObserveInput(&series.Entity{ID: "b", Cells: cellsFrom("o..o")})
	m.ObserveInput(&series.Entity{ID: "c", Cells: cellsFrom("....")})

	if m.FullyObserved != 1 || m.PartiallyGappy != 1 || m.FullyMissing != 1 {
		t.Errorf("buckets = %d/%d/%d, want 1/1/1", m.FullyObserved, m.PartiallyGappy, m.FullyMissing)
	}
	if m.Observed != 6 || m.Missing != 6 {
		t.Errorf("Observed/Missing = %d/%d, want 6/6", m.Observed, m.Missing)
	}
	if m.Gaps != 2 || m.MaxGap != 4 {
		t.Errorf("Gaps/MaxGap = %d/%d, want 2/4", m.Gaps, m.MaxGap)
	}
}

func TestMetrics_ObserveOutputMonotonicAndCaliber(t *testing.T) {
	var m Metrics
	m.ObserveOutput(&series.ImputedSeries{
		ID: "a", Caliber: series.CaliberDN15,
		Values:  []float64{1, 2, 3},
		Imputed: []bool{false, true, false},
	}, 1, 0, 0)
	m.ObserveOutput(&series.ImputedSeries{
		ID: "b", Caliber: series.CaliberDN15,
		Values:  []float64{3, 2, 4},
		Imputed: []bool{false, false, false},
	}, 0, 0, 0)

	if m.Entities != 2 || m.Monotonic != 1 {
		t.Errorf("Entities/Monotonic = %d/%d, want 2/1", m.Entities, m.Monotonic)
	}
	cc := m.PerCaliber[series.CaliberDN15]
	if cc == nil || cc.Entities != 2 || cc.Monotonic != 1 {
		t.Errorf("PerCaliber[DN15] = %+v, want Entities=2 Monotonic=1", cc)
	}
}

func TestReporter_FinalizeDerivedFigures(t *testing.T) {
	var chunk1, chunk2 Metrics
	chunk1.Entities = 8
	chunk1.Monotonic = 8
	chunk1.Missing = 10
	chunk1.Filled = 10
	chunk1.Observed = 90
	chunk2.Entities = 2
	chunk2.Monotonic = 1
	chunk2.Missing = 10
	chunk2.Filled = 5
	chunk2.Unfillable = 1
	chunk2.UnfillableMissing = 5

	for _, v := range []float64{10, 20, 30} {
		chunk1.ObservedStats.Add(v)
	}
	for _, v := range []float64{10, 20, 30, 40} {
		chunk1.ImputedStats.Add(v)
	}

	r := NewReporter()
	r.Record(&chunk1)
	r.Record(&chunk2)
	rep := r.Finalize("run-1", true, true)

	if rep.Chunks != 2 {
		t.Errorf("Chunks = %d, want 2", rep.Chunks)
	}
	// The unfillable entity's 5 missing cells were never fill candidates,
	// so the rate is Filled over the 15 fillable gaps, not over all 20.
	if got, want := rep.FillSuccessRate, 1.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("FillSuccessRate = %v, want %v", got, want)
	}
	if rep.Totals.UnfillableMissing != 5 {
		t.Errorf("Totals.UnfillableMissing = %d, want 5", rep.Totals.UnfillableMissing)
	}
	if got, want := rep.MonotonicFraction, 9.0/10.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("MonotonicFraction = %v, want %v", got, want)
	}
	if got, want := rep.MeanDrift, 25.0-20.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("MeanDrift = %v, want %v", got, want)
	}
	if !rep.MonotonicityEnforced {
		t.Error("MonotonicityEnforced lost")
	}
	if rep.Totals.Unfillable != 1 {
		t.Errorf("Totals.Unfillable = %d, want 1", rep.Totals.Unfillable)
	}
}

func TestReporter_EmptyRun(t *testing.T) {
	rep := NewReporter().Finalize("run-0", true, true)
	if rep.FillSuccessRate != 0 || rep.MonotonicFraction != 0 {
		t.Errorf("empty run rates = %v/%v, want 0/0", rep.FillSuccessRate, rep.MonotonicFraction)
	}
}
