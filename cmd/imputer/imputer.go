// Package main implements the imputation run driver.
//
// This file contains the Imputer type which wraps the pipeline orchestrator
// with the operational concerns of a run: publishing progress snapshots to
// the store after every chunk, updating Prometheus metrics, and writing the
// final quality report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ecoanalytics/aquafill/cmd/imputer/config"
	"github.com/ecoanalytics/aquafill/cmd/imputer/metrics"
	"github.com/ecoanalytics/aquafill/pkg/impute"
	"github.com/ecoanalytics/aquafill/pkg/pipeline"
	"github.com/ecoanalytics/aquafill/pkg/quality"
	"github.com/ecoanalytics/aquafill/pkg/storage"
)

// Imputer drives one imputation run end to end.
type Imputer struct {
	cfg     *config.Config
	source  pipeline.Source
	sink    pipeline.Sink
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	startedAt time.Time
	chunks    int
	loaded    int
	emitted   int
}

// NewImputer creates a run driver.
func NewImputer(
	cfg *config.Config,
	source pipeline.Source,
	sink pipeline.Sink,
	store storage.Store,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Imputer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Imputer{
		cfg:     cfg,
		source:  source,
		sink:    sink,
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// Run executes the imputation pipeline, publishing progress along the way.
// The returned report is nil when the run fails.
func (im *Imputer) Run(ctx context.Context) (*quality.Report, error) {
	im.startedAt = time.Now().UTC()
	im.publish(ctx, storage.PhaseRunning, nil, "")

	opts := pipeline.DefaultOptions()
	opts.RunID = im.cfg.RunID
	opts.BatchSize = im.cfg.BatchSize
	if im.cfg.Workers > 0 {
		opts.Workers = im.cfg.Workers
	}
	opts.EnforceMonotonicity = im.cfg.EnforceMonotonicity
	opts.ClampPolicy = clampPolicy(im.cfg.ClampObserved)
	opts.OnChunk = im.onChunk

	orchestrator := pipeline.New(im.source, im.sink, opts, im.logger)

	report, err := orchestrator.Run(ctx)
	if err != nil {
		if im.metrics != nil {
			im.metrics.RecordError("pipeline", failureReason(err))
		}
		im.publish(context.WithoutCancel(ctx), storage.PhaseFailed, nil, err.Error())
		return nil, err
	}

	im.publish(ctx, storage.PhaseCompleted, report, "")

	if im.cfg.ReportPath != "" {
		if err := writeReport(im.cfg.ReportPath, report); err != nil {
			if im.metrics != nil {
				im.metrics.RecordError("report", "write_failed")
			}
			return nil, err
		}
		im.logger.Info("report written", "path", im.cfg.ReportPath)
	}

	return report, nil
}

// onChunk runs on the orchestration goroutine after each emitted chunk.
// Loaded counts every row the source produced: parsed entities plus the
// rows the source itself rejected. Entities failing validation are already
// inside p.Entities, so p.Metrics.Malformed must not be added here.
func (im *Imputer) onChunk(p pipeline.Progress) {
	im.chunks++
	im.loaded += p.Entities + p.Malformed
	im.emitted += p.Emitted

	if im.metrics != nil {
		im.metrics.RecordChunk(
			p.Duration.Seconds(),
			im.chunks,
			int64(p.Entities+p.Malformed),
			int64(p.Emitted),
			p.Metrics.Filled,
			p.Metrics.Clamped,
			p.Metrics.Unfillable,
			p.Metrics.Malformed,
		)
	}

	im.publish(context.Background(), storage.PhaseRunning, nil, "")
}

// publish stores a progress snapshot. Failures are logged, never fatal: the
// run matters more than its visibility.
func (im *Imputer) publish(ctx context.Context, phase string, report *quality.Report, errMsg string) {
	snapshot := storage.Snapshot{
		RunID:          im.cfg.RunID,
		StartedAt:      im.startedAt,
		UpdatedAt:      time.Now().UTC(),
		Phase:          phase,
		BatchSize:      im.cfg.BatchSize,
		ChunksDone:     im.chunks,
		EntitiesLoaded: im.loaded,
		SeriesEmitted:  im.emitted,
		Error:          errMsg,
		Report:         report,
	}

	if err := im.store.Put(ctx, snapshot); err != nil {
		im.logger.Warn("failed to publish progress snapshot", "run_id", im.cfg.RunID, "error", err)
		if im.metrics != nil {
			im.metrics.RecordError("store", "put_failed")
		}
	}
}

func clampPolicy(clampObserved bool) impute.ClampPolicy {
	if clampObserved {
		return impute.ClampAll
	}
	return impute.PreserveObserved
}

// failureReason maps a pipeline error to a metrics label.
func failureReason(err error) string {
	var src *pipeline.SourceReadError
	var sink *pipeline.SinkWriteError
	switch {
	case errors.As(err, &src):
		return "source_read"
	case errors.As(err, &sink):
		return "sink_write"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

func writeReport(path string, report *quality.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
