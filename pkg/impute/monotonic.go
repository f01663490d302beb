package impute

import "github.com/ecoanalytics/aquafill/pkg/series"

// ClampPolicy controls whether monotonicity enforcement may override values
// that were observed by the meter, as opposed to synthesized by Fill.
type ClampPolicy int

const (
	// ClampAll raises any value below the running maximum, observed or
	// imputed. This matches the physical model strictly: a cumulative
	// counter cannot decrease, so a lower observed reading is treated as a
	// sensor glitch.
	ClampAll ClampPolicy = iota

	// PreserveObserved never alters an observed value. When an observed
	// reading falls below the running maximum the maximum is reset to that
	// reading instead, treating real sensor data as authoritative over
	// earlier imputed values. The output may then be non-monotonic across
	// the observed dip; the dip is reported, not hidden.
	PreserveObserved
)

// EnforceResult summarizes what Enforce changed.
type EnforceResult struct {
	// Clamped is the number of positions raised to the running maximum.
	Clamped int
	// ObservedClamped counts how many of those positions held observed
	// values. Always zero under PreserveObserved.
	ObservedClamped int
}

// Enforce makes a filled sequence non-decreasing in place.
//
// A single left-to-right pass maintains the running maximum and raises any
// value below it to that maximum (clamp-up). There is no global optimization
// and no smoothing: clamping is the minimal correction that restores the
// cumulative-counter invariant without disturbing the rest of the sequence.
//
// If the first value is the minimum no correction occurs; an all-equal
// sequence passes through unchanged.
func Enforce(s *series.ImputedSeries, policy ClampPolicy) EnforceResult {
	var res EnforceResult
	if len(s.Values) == 0 {
		return res
	}

	max := s.Values[0]
	for i := 1; i < len(s.Values); i++ {
		v := s.Values[i]
		if v >= max {
			max = v
			continue
		}
		if policy == PreserveObserved && !s.Imputed[i] {
			max = v
			continue
		}
		s.Values[i] = max
		res.Clamped++
		if !s.Imputed[i] {
			res.ObservedClamped++
		}
	}
	return res
}

// IsMonotonic reports whether the sequence is non-decreasing.
func IsMonotonic(values []float64) bool {
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			return false
		}
	}
	return true
}
