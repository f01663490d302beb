package adapters

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ecoanalytics/aquafill/pkg/pipeline"
)

// NewSource builds a source by name from a flat string-keyed parameter map,
// the form the config layer produces from SOURCE_* environment variables.
//
// "csv" takes:
//
//	path - input file
//
// "http" takes:
//
//	url, method, body, page_size, columns_path, rows_path, id_path,
//	caliber_path, readings_path, plus header.<Name> entries for request
//	headers and var.<Name> entries for template variables.
//
// Sources holding resources implement io.Closer; the caller should close
// them when the run ends.
func NewSource(ctx context.Context, kind string, params map[string]string) (pipeline.Source, error) {
	switch kind {
	case "csv":
		path := params["path"]
		if path == "" {
			return nil, fmt.Errorf("csv source: path is required")
		}
		return NewCSVSource(path)

	case "http":
		cfg := HTTPSourceConfig{
			URL:          params["url"],
			Method:       params["method"],
			Body:         params["body"],
			ColumnsPath:  params["columns_path"],
			RowsPath:     params["rows_path"],
			IDPath:       params["id_path"],
			CaliberPath:  params["caliber_path"],
			ReadingsPath: params["readings_path"],
		}
		if raw := params["page_size"]; raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("http source: invalid page_size %q: %w", raw, err)
			}
			cfg.PageSize = n
		}
		for key, value := range params {
			if name, ok := strings.CutPrefix(key, "header."); ok {
				if cfg.Headers == nil {
					cfg.Headers = make(map[string]string)
				}
				cfg.Headers[name] = value
			}
			if name, ok := strings.CutPrefix(key, "var."); ok {
				if cfg.TemplateVars == nil {
					cfg.TemplateVars = make(map[string]string)
				}
				cfg.TemplateVars[name] = value
			}
		}
		return NewHTTPSource(ctx, cfg)

	default:
		return nil, fmt.Errorf("unknown source type %q (want csv or http)", kind)
	}
}
