package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ecoanalytics/aquafill/pkg/quality"
)

func runningSnapshot(runID string, chunks int) Snapshot {
	now := time.Now()
	return Snapshot{
		RunID:          runID,
		StartedAt:      now.Add(-time.Minute),
		UpdatedAt:      now,
		Phase:          PhaseRunning,
		BatchSize:      10000,
		ChunksDone:     chunks,
		EntitiesLoaded: chunks * 10000,
		SeriesEmitted:  chunks * 9990,
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, runningSnapshot("run-1", 3)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := store.GetLatest(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if !found {
		t.Fatal("snapshot not found")
	}
	if got.ChunksDone != 3 || got.Phase != PhaseRunning {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestMemoryStorePutReplaces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, runningSnapshot("run-1", 1)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	final := runningSnapshot("run-1", 5)
	final.Phase = PhaseCompleted
	final.Report = &quality.Report{RunID: "run-1", Chunks: 5}
	if err := store.Put(ctx, final); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, _ := store.GetLatest(ctx, "run-1")
	if !found || got.Phase != PhaseCompleted || got.Report == nil {
		t.Errorf("snapshot = %+v", got)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestMemoryStoreEmptyRunID(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(context.Background(), Snapshot{}); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, found, err := store.GetLatest(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, runningSnapshot("run-1", 1)); err == nil {
		t.Error("Put with canceled context should fail")
	}
	if _, _, err := store.GetLatest(ctx, "run-1"); err == nil {
		t.Error("GetLatest with canceled context should fail")
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, runningSnapshot("run-1", 1))
	if !store.Delete("run-1") {
		t.Error("Delete should report an existing snapshot")
	}
	if store.Delete("run-1") {
		t.Error("second Delete should report nothing to remove")
	}
}

func TestMemoryStoreTTLCleanup(t *testing.T) {
	store := NewMemoryStoreWithTTL(50*time.Millisecond, 10*time.Millisecond)
	defer store.Stop()

	ctx := context.Background()
	stale := runningSnapshot("stale", 1)
	stale.UpdatedAt = time.Now().Add(-time.Minute)
	store.Put(ctx, stale)
	store.Put(ctx, runningSnapshot("fresh", 1))

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("stale snapshot not cleaned up, Len = %d", store.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, found, _ := store.GetLatest(ctx, "fresh"); !found {
		t.Error("fresh snapshot should survive cleanup")
	}
}

func TestMemoryStoreStopIdempotent(t *testing.T) {
	store := NewMemoryStoreWithTTL(time.Minute, time.Minute)
	store.Stop()
	store.Stop()

	NewMemoryStore().Stop()
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runID := fmt.Sprintf("run-%d", i)
			for j := 0; j < 100; j++ {
				store.Put(ctx, runningSnapshot(runID, j))
				store.GetLatest(ctx, runID)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 10 {
		t.Errorf("Len = %d, want 10", store.Len())
	}
}
