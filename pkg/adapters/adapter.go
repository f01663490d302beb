// Package adapters connects the imputation pipeline to external data
// collaborators: sources that stream the raw reading table in bounded
// chunks and sinks that persist the imputed table.
//
// Sources implement pipeline.Source; the factory selects one by name from a
// generic string-keyed configuration so new backends can be added without
// touching the pipeline.
package adapters

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ecoanalytics/aquafill/pkg/series"
)

// missing markers accepted on input. An empty cell is the canonical form;
// the rest appear in exports from various upstream systems.
var missingMarkers = map[string]bool{
	"":     true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
	"null": true,
}

// parseCell converts one raw table cell to a tagged cell. An unparseable or
// negative value is a type mismatch, making the whole row malformed.
func parseCell(raw string) (series.Cell, error) {
	s := strings.TrimSpace(raw)
	if missingMarkers[strings.ToLower(s)] {
		return series.MissingCell(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return series.Cell{}, fmt.Errorf("invalid reading %q: %w", raw, err)
	}
	if v < 0 {
		return series.Cell{}, fmt.Errorf("negative reading %q", raw)
	}
	return series.ObservedCell(v), nil
}

// formatValue renders an imputed value for output. The shortest exact
// representation keeps files stable across runs.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
