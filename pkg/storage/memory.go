package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps run snapshots in a map, one per run id. It is safe for
// concurrent use.
//
// With a TTL configured, a background goroutine removes snapshots whose
// UpdatedAt is older than the TTL, so finished runs age out of the status
// endpoint. Deployments that need snapshots to survive a restart, or that
// run several imputer instances, should use RedisStore instead.
type MemoryStore struct {
	mu            sync.RWMutex
	snapshots     map[string]Snapshot
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopped       bool
	stopMu        sync.Mutex
}

// NewMemoryStore creates a store with no TTL; snapshots stay until replaced
// or deleted.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
	}
}

// NewMemoryStoreWithTTL creates a store whose snapshots expire ttl after
// their last update. The cleanup goroutine wakes every cleanupInterval
// (defaulting to one minute) and must be shut down with Stop.
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := &MemoryStore{
		snapshots:     make(map[string]Snapshot),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	go store.runCleanup()

	return store
}

// Stop shuts down the cleanup goroutine and blocks until it exits. Safe to
// call multiple times, and a no-op on stores without TTL.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes snapshots not updated within the TTL.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return
	}

	now := time.Now()
	for runID, snapshot := range s.snapshots {
		if now.Sub(snapshot.UpdatedAt) > s.ttl {
			delete(s.snapshots, runID)
		}
	}
}

// Put stores a snapshot under its run id, replacing any previous state for
// that run.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if snapshot.RunID == "" {
		return fmt.Errorf("snapshot run id cannot be empty")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapshot.RunID] = snapshot
	return nil
}

// GetLatest retrieves the current snapshot for a run. found is false when
// the run is unknown or already expired.
func (s *MemoryStore) GetLatest(ctx context.Context, runID string) (Snapshot, bool, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, found := s.snapshots[runID]
	return snapshot, found, nil
}

// Len returns the number of snapshots currently stored. Mostly useful in
// tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Delete removes a run's snapshot, reporting whether one existed.
func (s *MemoryStore) Delete(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.snapshots[runID]
	delete(s.snapshots, runID)
	return existed
}
