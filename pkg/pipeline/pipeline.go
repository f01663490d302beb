// Package pipeline drives the imputation run: it pulls fixed-size chunks of
// entities from a source, runs gap filling and monotonicity enforcement over
// each chunk on a worker pool, and streams the imputed chunks to a sink.
//
// Chunks are processed strictly sequentially with respect to memory: one
// chunk is released before the next is loaded, so peak memory depends on the
// batch size, never on the total population. Within a chunk, entities are
// independent and are processed in parallel. Each worker accumulates its own
// quality metrics; a single-writer reduction folds them per chunk and then
// into the run report, so no metric state is ever shared between goroutines.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecoanalytics/aquafill/pkg/impute"
	"github.com/ecoanalytics/aquafill/pkg/quality"
	"github.com/ecoanalytics/aquafill/pkg/series"
)

// Source supplies the raw entity table in bounded chunks.
type Source interface {
	// Grid returns the calendar grid shared by every entity.
	Grid() series.Grid

	// Next returns the next chunk of at most max entities, parsed entities
	// and per-row failures separately. ok is false once the source is
	// exhausted. A non-nil error is fatal for the run.
	Next(ctx context.Context, max int) (chunk Chunk, ok bool, err error)
}

// Sink consumes imputed chunks. Writes arrive in partition order.
type Sink interface {
	Write(ctx context.Context, grid series.Grid, chunk []*series.ImputedSeries) error
}

// Chunk is one batch pulled from a source.
type Chunk struct {
	Entities []*series.Entity

	// Malformed lists rows whose identity could be read but whose sequence
	// could not (length or type mismatch). They are recorded and skipped.
	Malformed []EntityError
}

// Progress describes one completed chunk, for status reporting.
type Progress struct {
	Chunk    int
	Entities int
	// Malformed counts source-level rejects: rows the source could not
	// parse into entities. Entities that parsed but failed validation are
	// in Entities and counted under Metrics.Malformed instead.
	Malformed int
	Emitted   int
	Duration  time.Duration
	Metrics   *quality.Metrics
}

// Options configures a run.
type Options struct {
	// RunID labels the run in the final report.
	RunID string

	// BatchSize bounds how many entities are in memory at once.
	BatchSize int

	// Workers sizes the per-chunk worker pool.
	Workers int

	// EnforceMonotonicity disables clamp-up when false. Diagnostic runs
	// only; the report marks the run accordingly.
	EnforceMonotonicity bool

	// ClampPolicy decides whether observed values may be clamped.
	ClampPolicy impute.ClampPolicy

	// OnChunk, when set, is called after each chunk is emitted. It runs on
	// the orchestration goroutine.
	OnChunk func(Progress)
}

// DefaultBatchSize bounds chunk size when none is configured.
const DefaultBatchSize = 10000

// DefaultOptions returns the production defaults: 10k entities per chunk,
// one worker per core, monotonicity enforced with observed values clamped.
func DefaultOptions() Options {
	return Options{
		BatchSize:           DefaultBatchSize,
		Workers:             runtime.NumCPU(),
		EnforceMonotonicity: true,
		ClampPolicy:         impute.ClampAll,
	}
}

// Orchestrator runs the imputation pipeline over a full entity population.
type Orchestrator struct {
	source Source
	sink   Sink
	opts   Options
	logger *slog.Logger
}

// New creates an orchestrator. Zero BatchSize and Workers fall back to the
// defaults; a nil logger falls back to slog.Default().
func New(source Source, sink Sink, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{source: source, sink: sink, opts: opts, logger: logger}
}

// Run processes the whole population chunk by chunk and returns the run
// report. Per-entity failures are recorded and skipped; source and sink
// failures abort the run with a typed error carrying the chunk index.
func (o *Orchestrator) Run(ctx context.Context) (*quality.Report, error) {
	start := time.Now()
	reporter := quality.NewReporter()
	grid := o.source.Grid()

	var emitted, loaded int64
	for idx := 0; ; idx++ {
		chunk, ok, err := o.source.Next(ctx, o.opts.BatchSize)
		if err != nil {
			return nil, &SourceReadError{Chunk: idx, Err: err}
		}
		if !ok {
			break
		}

		chunkStart := time.Now()
		loaded += int64(len(chunk.Entities)) + int64(len(chunk.Malformed))

		metrics, results := o.processChunk(ctx, grid, chunk)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(results) > 0 {
			if err := o.sink.Write(ctx, grid, results); err != nil {
				return nil, &SinkWriteError{
					Chunk:   idx,
					FirstID: results[0].ID,
					LastID:  results[len(results)-1].ID,
					Err:     err,
				}
			}
		}
		emitted += int64(len(results))
		reporter.Record(metrics)

		duration := time.Since(chunkStart)
		o.logger.Info("chunk complete",
			"chunk", idx,
			"entities", len(chunk.Entities),
			"emitted", len(results),
			"unfillable", metrics.Unfillable,
			"malformed", metrics.Malformed,
			"duration_ms", duration.Milliseconds(),
		)

		if o.opts.OnChunk != nil {
			o.opts.OnChunk(Progress{
				Chunk:     idx,
				Entities:  len(chunk.Entities),
				Malformed: len(chunk.Malformed),
				Emitted:   len(results),
				Duration:  duration,
				Metrics:   metrics,
			})
		}
	}

	report := reporter.Finalize(o.opts.RunID, o.opts.EnforceMonotonicity, o.opts.ClampPolicy == impute.ClampAll)

	skipped := report.Totals.Unfillable + report.Totals.Malformed
	if emitted+skipped != loaded {
		return nil, fmt.Errorf("reconciliation mismatch: loaded %d entities, emitted %d, skipped %d", loaded, emitted, skipped)
	}

	o.logger.Info("run complete",
		"entities", loaded,
		"emitted", emitted,
		"unfillable", report.Totals.Unfillable,
		"malformed", report.Totals.Malformed,
		"fill_success_rate", report.FillSuccessRate,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report, nil
}

// processChunk fans the chunk's entities out over the worker pool. Workers
// write into disjoint result slots and accumulate disjoint metrics; the
// caller folds the shards afterwards.
func (o *Orchestrator) processChunk(ctx context.Context, grid series.Grid, chunk Chunk) (*quality.Metrics, []*series.ImputedSeries) {
	entities := chunk.Entities
	results := make([]*series.ImputedSeries, len(entities))

	workers := o.opts.Workers
	if workers > len(entities) {
		workers = len(entities)
	}
	if workers < 1 {
		workers = 1
	}

	shards := make([]*quality.Metrics, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		m := &quality.Metrics{}
		shards[w] = m
		offset := w
		g.Go(func() error {
			for i := offset; i < len(entities); i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = o.processEntity(grid, entities[i], m)
			}
			return nil
		})
	}
	// Workers only fail on context cancellation; Run surfaces ctx.Err.
	_ = g.Wait()

	total := &quality.Metrics{}
	for _, m := range shards {
		total.Merge(m)
	}
	for _, me := range chunk.Malformed {
		total.Malformed++
		o.logger.Debug("skipping malformed entity", "entity", me.ID, "error", me.Err)
	}

	compact := results[:0]
	for _, r := range results {
		if r != nil {
			compact = append(compact, r)
		}
	}
	return total, compact
}

// processEntity runs the per-entity pipeline: validate, fill, enforce.
// It returns nil for entities that are recorded and skipped.
func (o *Orchestrator) processEntity(grid series.Grid, e *series.Entity, m *quality.Metrics) *series.ImputedSeries {
	if err := e.Validate(grid); err != nil {
		m.Malformed++
		o.logger.Debug("skipping malformed entity", "entity", e.ID, "error", err)
		return nil
	}

	g := m.ObserveInput(e)

	out, err := impute.Fill(e)
	if err != nil {
		if errors.Is(err, impute.ErrUnfillable) {
			m.Unfillable++
			m.UnfillableMissing += int64(g.Missing)
			o.logger.Debug("skipping unfillable entity", "entity", e.ID)
			return nil
		}
		m.Malformed++
		o.logger.Debug("skipping entity", "entity", e.ID, "error", err)
		return nil
	}

	var res impute.EnforceResult
	if o.opts.EnforceMonotonicity {
		res = impute.Enforce(out, o.opts.ClampPolicy)
	}
	m.ObserveOutput(out, g.Missing, res.Clamped, res.ObservedClamped)
	return out
}
