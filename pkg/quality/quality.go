// Package quality accumulates imputation quality metrics and folds them into
// a run-level report.
//
// Each pipeline worker produces a chunk-local Metrics value; a single-writer
// Reporter merges those into the final Report. No metric state is shared
// between concurrent workers, so no locking is needed anywhere in this
// package.
package quality

import (
	"math"
	"time"

	"github.com/ecoanalytics/aquafill/pkg/series"
)

// RunningStats accumulates count, sum and sum of squares so that mean and
// standard deviation can be computed incrementally and merged across chunks.
type RunningStats struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	SumSq float64 `json:"sum_sq"`
}

// Add records one value.
func (s *RunningStats) Add(v float64) {
	s.Count++
	s.Sum += v
	s.SumSq += v * v
}

// Merge folds another accumulator into this one.
func (s *RunningStats) Merge(o RunningStats) {
	s.Count += o.Count
	s.Sum += o.Sum
	s.SumSq += o.SumSq
}

// Mean returns the mean of all recorded values, 0 when empty.
func (s *RunningStats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// StdDev returns the sample standard deviation, 0 with fewer than two values.
func (s *RunningStats) StdDev() float64 {
	if s.Count < 2 {
		return 0
	}
	mean := s.Mean()
	variance := (s.SumSq - s.Sum*mean) / float64(s.Count-1)
	if variance < 0 {
		// Numerical noise for near-constant series.
		return 0
	}
	return math.Sqrt(variance)
}

// GapSummary describes the shape of the missing runs in one sequence.
type GapSummary struct {
	Observed int
	Missing  int
	Gaps     int
	MaxGap   int
}

// ScanCells walks one entity's sequence and summarizes its gaps: observed and
// missing counts, number of maximal missing runs, and the longest run.
func ScanCells(cells []series.Cell) GapSummary {
	var g GapSummary
	run := 0
	for _, c := range cells {
		if c.Observed {
			g.Observed++
			if run > 0 {
				g.Gaps++
				if run > g.MaxGap {
					g.MaxGap = run
				}
				run = 0
			}
			continue
		}
		g.Missing++
		run++
	}
	if run > 0 {
		g.Gaps++
		if run > g.MaxGap {
			g.MaxGap = run
		}
	}
	return g
}

// CaliberCount breaks entity outcomes down by meter caliber.
type CaliberCount struct {
	Entities  int64 `json:"entities"`
	Monotonic int64 `json:"monotonic"`
}

// Metrics is the per-chunk aggregate. The zero value is ready to use.
type Metrics struct {
	Entities   int64 `json:"entities"`
	Monotonic  int64 `json:"monotonic"`
	Unfillable int64 `json:"unfillable"`
	Malformed  int64 `json:"malformed"`

	Observed int64 `json:"observed"`
	Missing  int64 `json:"missing"`
	Filled   int64 `json:"filled"`

	// UnfillableMissing is the share of Missing belonging to entities with
	// no observed values at all. Those cells are never candidates for
	// filling, so the fill success rate leaves them out of its denominator.
	UnfillableMissing int64 `json:"unfillable_missing"`

	Clamped         int64 `json:"clamped"`
	ObservedClamped int64 `json:"observed_clamped"`

	Gaps           int64 `json:"gaps"`
	MaxGap         int   `json:"max_gap"`
	FullyObserved  int64 `json:"fully_observed"`
	PartiallyGappy int64 `json:"partially_gappy"`
	FullyMissing   int64 `json:"fully_missing"`

	ObservedStats RunningStats `json:"observed_stats"`
	ImputedStats  RunningStats `json:"imputed_stats"`

	PerCaliber map[series.Caliber]*CaliberCount `json:"per_caliber,omitempty"`
}

// ObserveInput records the raw shape of one entity before imputation.
func (m *Metrics) ObserveInput(e *series.Entity) GapSummary {
	g := ScanCells(e.Cells)
	m.Observed += int64(g.Observed)
	m.Missing += int64(g.Missing)
	m.Gaps += int64(g.Gaps)
	if g.MaxGap > m.MaxGap {
		m.MaxGap = g.MaxGap
	}
	switch {
	case g.Missing == 0:
		m.FullyObserved++
	case g.Observed == 0:
		m.FullyMissing++
	default:
		m.PartiallyGappy++
	}
	for _, c := range e.Cells {
		if c.Observed {
			m.ObservedStats.Add(c.Value)
		}
	}
	return g
}

// ObserveOutput records one successfully imputed entity.
func (m *Metrics) ObserveOutput(s *series.ImputedSeries, filled, clamped, observedClamped int) {
	m.Entities++
	m.Filled += int64(filled)
	m.Clamped += int64(clamped)
	m.ObservedClamped += int64(observedClamped)
	for _, v := range s.Values {
		m.ImputedStats.Add(v)
	}

	cc := m.caliber(s.Caliber)
	cc.Entities++
	monotonic := true
	for i := 1; i < len(s.Values); i++ {
		if s.Values[i] < s.Values[i-1] {
			monotonic = false
			break
		}
	}
	if monotonic {
		m.Monotonic++
		cc.Monotonic++
	}
}

func (m *Metrics) caliber(c series.Caliber) *CaliberCount {
	if m.PerCaliber == nil {
		m.PerCaliber = make(map[series.Caliber]*CaliberCount)
	}
	cc, ok := m.PerCaliber[c]
	if !ok {
		cc = &CaliberCount{}
		m.PerCaliber[c] = cc
	}
	return cc
}

// Merge folds another chunk's metrics into this one. Only the single-writer
// reducer calls Merge; chunk workers never share a Metrics value.
func (m *Metrics) Merge(o *Metrics) {
	m.Entities += o.Entities
	m.Monotonic += o.Monotonic
	m.Unfillable += o.Unfillable
	m.Malformed += o.Malformed
	m.Observed += o.Observed
	m.Missing += o.Missing
	m.Filled += o.Filled
	m.UnfillableMissing += o.UnfillableMissing
	m.Clamped += o.Clamped
	m.ObservedClamped += o.ObservedClamped
	m.Gaps += o.Gaps
	if o.MaxGap > m.MaxGap {
		m.MaxGap = o.MaxGap
	}
	m.FullyObserved += o.FullyObserved
	m.PartiallyGappy += o.PartiallyGappy
	m.FullyMissing += o.FullyMissing
	m.ObservedStats.Merge(o.ObservedStats)
	m.ImputedStats.Merge(o.ImputedStats)
	for c, cc := range o.PerCaliber {
		dst := m.caliber(c)
		dst.Entities += cc.Entities
		dst.Monotonic += cc.Monotonic
	}
}

// Report is the final run-level summary. Thresholds for acceptable drift are
// a policy decision left to the consumer; the report only states the numbers.
type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`

	// MonotonicityEnforced is false only for diagnostic runs and must be
	// checked before trusting the monotonic fraction.
	MonotonicityEnforced bool `json:"monotonicity_enforced"`
	ClampObserved        bool `json:"clamp_observed"`

	Chunks int `json:"chunks"`

	Totals Metrics `json:"totals"`

	FillSuccessRate   float64 `json:"fill_success_rate"`
	MonotonicFraction float64 `json:"monotonic_fraction"`
	MeanGapLength     float64 `json:"mean_gap_length"`

	ObservedMean   float64 `json:"observed_mean"`
	ObservedStdDev float64 `json:"observed_std_dev"`
	ImputedMean    float64 `json:"imputed_mean"`
	ImputedStdDev  float64 `json:"imputed_std_dev"`
	MeanDrift      float64 `json:"mean_drift"`
	StdDevDrift    float64 `json:"std_dev_drift"`
}

// Reporter folds chunk metrics into a run report. It is not safe for
// concurrent use: the pipeline calls Record from its single reducer.
type Reporter struct {
	totals Metrics
	chunks int
}

// NewReporter returns an empty reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

// Record merges one chunk's metrics.
func (r *Reporter) Record(m *Metrics) {
	r.totals.Merge(m)
	r.chunks++
}

// Totals exposes the metrics accumulated so far, for progress snapshots.
func (r *Reporter) Totals() Metrics {
	return r.totals
}

// Finalize computes the derived figures and returns the report.
func (r *Reporter) Finalize(runID string, enforced, clampObserved bool) *Report {
	rep := &Report{
		RunID:                runID,
		GeneratedAt:          time.Now().UTC(),
		MonotonicityEnforced: enforced,
		ClampObserved:        clampObserved,
		Chunks:               r.chunks,
		Totals:               r.totals,
		ObservedMean:         r.totals.ObservedStats.Mean(),
		ObservedStdDev:       r.totals.ObservedStats.StdDev(),
		ImputedMean:          r.totals.ImputedStats.Mean(),
		ImputedStdDev:        r.totals.ImputedStats.StdDev(),
	}
	if fillable := r.totals.Missing - r.totals.UnfillableMissing; fillable > 0 {
		rep.FillSuccessRate = float64(r.totals.Filled) / float64(fillable)
	}
	if r.totals.Entities > 0 {
		rep.MonotonicFraction = float64(r.totals.Monotonic) / float64(r.totals.Entities)
	}
	if r.totals.Gaps > 0 {
		rep.MeanGapLength = float64(r.totals.Missing) / float64(r.totals.Gaps)
	}
	rep.MeanDrift = rep.ImputedMean - rep.ObservedMean
	rep.StdDevDrift = rep.ImputedStdDev - rep.ObservedStdDev
	return rep
}
