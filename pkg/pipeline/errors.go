package pipeline

import "fmt"

// EntityError records a per-entity failure (malformed row or unfillable
// sequence). Entity failures never abort a batch; they are counted in the
// run report so operators can tell a few bad meters from a systemic format
// problem.
type EntityError struct {
	ID  string
	Err error
}

func (e EntityError) Error() string {
	return fmt.Sprintf("entity %s: %v", e.ID, e.Err)
}

func (e EntityError) Unwrap() error {
	return e.Err
}

// SourceReadError is fatal: no partial chunk is processed from incomplete
// input. Chunk is the index of the chunk being loaded when the read failed.
type SourceReadError struct {
	Chunk int
	Err   error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read chunk %d from source: %v", e.Chunk, e.Err)
}

func (e *SourceReadError) Unwrap() error {
	return e.Err
}

// SinkWriteError is fatal: partially persisted output is never silently
// accepted. It carries the chunk index and the entity-id range of the failed
// chunk so a rerun can resume from that chunk.
type SinkWriteError struct {
	Chunk   int
	FirstID string
	LastID  string
	Err     error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("write chunk %d (entities %s..%s) to sink: %v", e.Chunk, e.FirstID, e.LastID, e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}
