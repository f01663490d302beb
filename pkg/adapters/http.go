package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ecoanalytics/aquafill/pkg/pipeline"
	"github.com/ecoanalytics/aquafill/pkg/series"
)

// HTTPSourceConfig describes how to pull the raw reading table from a JSON
// API. URL, Body and header values are Go text templates; {{.Offset}} and
// {{.Limit}} carry the pagination window, and TemplateVars adds custom
// variables (tokens, tenant ids) on top.
type HTTPSourceConfig struct {
	// URL of the endpoint, e.g. "https://api.example.com/readings?offset={{.Offset}}&limit={{.Limit}}".
	URL string

	// Method defaults to GET.
	Method string

	// Headers to set on every request. Values are templated.
	Headers map[string]string

	// Body is an optional request body template, for POST-style APIs that
	// take the pagination window as JSON.
	Body string

	// PageSize is the number of rows requested per call (defaults to 1000).
	PageSize int

	// ColumnsPath is the gjson path to the grid column labels,
	// e.g. "columns". The labels must be identical on every page.
	ColumnsPath string

	// RowsPath is the gjson path to the array of row objects, e.g. "data".
	RowsPath string

	// IDPath, CaliberPath and ReadingsPath are gjson paths relative to one
	// row object, e.g. "id", "calibre", "readings". Readings must be an
	// array aligned with the grid; null elements are missing cells.
	IDPath       string
	CaliberPath  string
	ReadingsPath string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in URL, Body and header
	// templates.
	TemplateVars map[string]string
}

func (c HTTPSourceConfig) validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.ColumnsPath == "" || c.RowsPath == "" {
		return errors.New("columnsPath and rowsPath are required")
	}
	if c.IDPath == "" || c.CaliberPath == "" || c.ReadingsPath == "" {
		return errors.New("idPath, caliberPath and readingsPath are required")
	}
	return nil
}

// HTTPSource streams the raw reading table from a paginated JSON API. It
// keeps at most one page in memory; a page shorter than the requested limit
// ends the stream.
type HTTPSource struct {
	cfg    HTTPSourceConfig
	client *http.Client
	grid   series.Grid

	offset  int
	pending pipeline.Chunk
	done    bool
}

// NewHTTPSource validates the config and fetches the first page, which
// establishes the grid. The fetched rows are buffered for the first Next.
func NewHTTPSource(ctx context.Context, cfg HTTPSourceConfig) (*HTTPSource, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}

	cli := cfg.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 30 * time.Second}
	}

	s := &HTTPSource{cfg: cfg, client: cli}
	if err := s.fetchPage(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Grid returns the calendar grid advertised by the API.
func (s *HTTPSource) Grid() series.Grid {
	return s.grid
}

// Next hands out buffered rows, fetching further pages as needed.
func (s *HTTPSource) Next(ctx context.Context, max int) (pipeline.Chunk, bool, error) {
	var chunk pipeline.Chunk
	for len(chunk.Entities)+len(chunk.Malformed) < max {
		if len(s.pending.Entities) == 0 && len(s.pending.Malformed) == 0 {
			if s.done {
				break
			}
			if err := s.fetchPage(ctx); err != nil {
				return pipeline.Chunk{}, false, err
			}
			continue
		}

		room := max - len(chunk.Entities) - len(chunk.Malformed)
		take := min(room, len(s.pending.Entities))
		chunk.Entities = append(chunk.Entities, s.pending.Entities[:take]...)
		s.pending.Entities = s.pending.Entities[take:]

		room -= take
		take = min(room, len(s.pending.Malformed))
		chunk.Malformed = append(chunk.Malformed, s.pending.Malformed[:take]...)
		s.pending.Malformed = s.pending.Malformed[take:]
	}

	if len(chunk.Entities) == 0 && len(chunk.Malformed) == 0 {
		return pipeline.Chunk{}, false, nil
	}
	return chunk, true, nil
}

// fetchPage requests one pagination window and parses it into the pending
// buffer. The first page also fixes the grid.
func (s *HTTPSource) fetchPage(ctx context.Context) error {
	data := map[string]any{
		"Offset": s.offset,
		"Limit":  s.cfg.PageSize,
	}
	for k, v := range s.cfg.TemplateVars {
		data[k] = v
	}

	url, err := renderTemplate(s.cfg.URL, data)
	if err != nil {
		return fmt.Errorf("render url template: %w", err)
	}

	method := s.cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if s.cfg.Body != "" {
		rendered, err := renderTemplate(s.cfg.Body, data)
		if err != nil {
			return fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range s.cfg.Headers {
		rendered, err := renderTemplate(value, data)
		if err != nil {
			return fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if s.grid.Len() == 0 {
		columns := gjson.GetBytes(respBody, s.cfg.ColumnsPath)
		if !columns.Exists() {
			return fmt.Errorf("columns path %q not found in response", s.cfg.ColumnsPath)
		}
		cols := make([]string, 0, len(columns.Array()))
		for _, c := range columns.Array() {
			cols = append(cols, c.String())
		}
		if len(cols) == 0 {
			return fmt.Errorf("columns path %q yields no columns", s.cfg.ColumnsPath)
		}
		s.grid = series.NewGrid(cols)
	}

	rows := gjson.GetBytes(respBody, s.cfg.RowsPath)
	if !rows.Exists() {
		return fmt.Errorf("rows path %q not found in response", s.cfg.RowsPath)
	}

	rowArray := rows.Array()
	for _, row := range rowArray {
		id := row.Get(s.cfg.IDPath).String()
		entity, perr := s.parseJSONRow(row, id)
		if perr != nil {
			s.pending.Malformed = append(s.pending.Malformed, pipeline.EntityError{ID: id, Err: perr})
			continue
		}
		s.pending.Entities = append(s.pending.Entities, entity)
	}

	s.offset += len(rowArray)
	if len(rowArray) < s.cfg.PageSize {
		s.done = true
	}
	return nil
}

func (s *HTTPSource) parseJSONRow(row gjson.Result, id string) (*series.Entity, error) {
	readings := row.Get(s.cfg.ReadingsPath).Array()
	if len(readings) != s.grid.Len() {
		return nil, fmt.Errorf("row has %d readings, want %d", len(readings), s.grid.Len())
	}

	e := &series.Entity{
		ID:      id,
		Caliber: series.ParseCaliber(row.Get(s.cfg.CaliberPath).String()),
		Cells:   make([]series.Cell, s.grid.Len()),
	}
	for i, r := range readings {
		cell, err := parseJSONCell(r)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", s.grid.Columns[i], err)
		}
		e.Cells[i] = cell
	}
	return e, nil
}

// parseJSONCell maps one JSON reading to a tagged cell. JSON null is the
// canonical missing marker; string cells go through the same parsing as CSV.
func parseJSONCell(r gjson.Result) (series.Cell, error) {
	switch r.Type {
	case gjson.Null:
		return series.MissingCell(), nil
	case gjson.Number:
		v := r.Float()
		if v < 0 {
			return series.Cell{}, fmt.Errorf("negative reading %v", v)
		}
		return series.ObservedCell(v), nil
	case gjson.String:
		return parseCell(r.Str)
	default:
		return series.Cell{}, fmt.Errorf("unexpected reading %s", r.Raw)
	}
}

// renderTemplate renders a text template with the given data. Plain strings
// pass through untouched.
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
