package storage

import (
	"context"
	"time"

	"github.com/ecoanalytics/aquafill/pkg/quality"
)

// Run phases recorded in a snapshot.
const (
	PhaseRunning   = "running"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// Snapshot is the externally visible state of one imputation run. The
// orchestration layer publishes a snapshot after every chunk, so operators
// can watch long runs through the status endpoint or a shared Redis.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Phase     string    `json:"phase"`

	BatchSize      int `json:"batch_size"`
	ChunksDone     int `json:"chunks_done"`
	EntitiesLoaded int `json:"entities_loaded"`
	SeriesEmitted  int `json:"series_emitted"`

	// Error is set when Phase is "failed".
	Error string `json:"error,omitempty"`

	// Report is set once the run completes.
	Report *quality.Report `json:"report,omitempty"`
}

type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, runID string) (Snapshot, bool, error)
}
