package adapters

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ecoanalytics/aquafill/pkg/pipeline"
	"github.com/ecoanalytics/aquafill/pkg/series"
)

// Expected leading columns of the raw table; everything after them is one
// column per grid step.
const (
	colID      = "id"
	colCaliber = "calibre"
)

// CSVSource streams a raw reading table from a CSV file.
//
// The header defines the grid: the first two columns are the entity id and
// caliber, every following column is one time step. Cells are non-negative
// readings or a missing marker (empty, NA, NaN, null). Rows are consumed
// strictly forward, so memory stays bounded by the chunk size regardless of
// file size.
type CSVSource struct {
	file   *os.File
	reader *csv.Reader
	grid   series.Grid
	done   bool
}

// NewCSVSource opens the file and reads the header to establish the grid.
func NewCSVSource(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 3 || header[0] != colID || header[1] != colCaliber {
		f.Close()
		return nil, fmt.Errorf("unexpected header: want %q,%q,<step columns...>, got %v", colID, colCaliber, header)
	}

	cols := make([]string, len(header)-2)
	copy(cols, header[2:])

	return &CSVSource{
		file:   f,
		reader: r,
		grid:   series.NewGrid(cols),
	}, nil
}

// Grid returns the calendar grid derived from the header.
func (s *CSVSource) Grid() series.Grid {
	return s.grid
}

// Next reads up to max rows into a chunk. Rows whose sequence cannot be
// parsed are returned as malformed entries instead of aborting the read.
func (s *CSVSource) Next(ctx context.Context, max int) (pipeline.Chunk, bool, error) {
	if s.done {
		return pipeline.Chunk{}, false, nil
	}

	var chunk pipeline.Chunk
	for len(chunk.Entities)+len(chunk.Malformed) < max {
		if err := ctx.Err(); err != nil {
			return pipeline.Chunk{}, false, err
		}

		record, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return pipeline.Chunk{}, false, fmt.Errorf("read row: %w", err)
		}

		entity, perr := s.parseRow(record)
		if perr != nil {
			chunk.Malformed = append(chunk.Malformed, pipeline.EntityError{ID: record[0], Err: perr})
			continue
		}
		chunk.Entities = append(chunk.Entities, entity)
	}

	if len(chunk.Entities) == 0 && len(chunk.Malformed) == 0 {
		return pipeline.Chunk{}, false, nil
	}
	return chunk, true, nil
}

func (s *CSVSource) parseRow(record []string) (*series.Entity, error) {
	if len(record) != s.grid.Len()+2 {
		return nil, fmt.Errorf("row has %d columns, want %d", len(record), s.grid.Len()+2)
	}
	e := &series.Entity{
		ID:      record[0],
		Caliber: series.ParseCaliber(record[1]),
		Cells:   make([]series.Cell, s.grid.Len()),
	}
	for i, raw := range record[2:] {
		cell, err := parseCell(raw)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", s.grid.Columns[i], err)
		}
		e.Cells[i] = cell
	}
	return e, nil
}

// Close releases the underlying file.
func (s *CSVSource) Close() error {
	return s.file.Close()
}

// CSVSink writes the imputed table: the input shape plus one imputed_<col>
// 0/1 indicator per step column, preserved for downstream auditing.
//
// The sink is append-only and order-sensitive; the pipeline writes chunks in
// partition order. Every chunk is flushed before Write returns so an I/O
// failure surfaces on the chunk that caused it.
type CSVSink struct {
	file   *os.File
	writer *csv.Writer
	grid   series.Grid
}

// NewCSVSink creates (or truncates) the output file and writes the header
// row up front, so a run that emits no series still leaves a well-formed
// empty table behind.
func NewCSVSink(path string, grid series.Grid) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	s := &CSVSink{file: f, writer: csv.NewWriter(f), grid: grid}

	header := make([]string, 0, 2+2*grid.Len())
	header = append(header, colID, colCaliber)
	header = append(header, grid.Columns...)
	for _, c := range grid.Columns {
		header = append(header, "imputed_"+c)
	}
	if err := s.writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return s, nil
}

// Write appends one imputed chunk.
func (s *CSVSink) Write(ctx context.Context, grid series.Grid, chunk []*series.ImputedSeries) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	row := make([]string, 0, 2+2*grid.Len())
	for _, imputed := range chunk {
		row = row[:0]
		row = append(row, imputed.ID, string(imputed.Caliber))
		for _, v := range imputed.Values {
			row = append(row, formatValue(v))
		}
		for _, synth := range imputed.Imputed {
			if synth {
				row = append(row, "1")
			} else {
				row = append(row, "0")
			}
		}
		if err := s.writer.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", imputed.ID, err)
		}
	}

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush chunk: %w", err)
	}
	return nil
}

// Close flushes and closes the output file.
func (s *CSVSink) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
