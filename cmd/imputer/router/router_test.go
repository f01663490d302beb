package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ecoanalytics/aquafill/pkg/storage"
)

// failingStore returns an error on every call.
type failingStore struct{}

func (failingStore) Put(ctx context.Context, s storage.Snapshot) error { return errors.New("down") }
func (failingStore) GetLatest(ctx context.Context, runID string) (storage.Snapshot, bool, error) {
	return storage.Snapshot{}, false, errors.New("down")
}

func newTestMux(t *testing.T, store storage.Store) *http.ServeMux {
	t.Helper()
	return SetupRoutes(store, slog.Default())
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t, storage.NewMemoryStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGetRunCurrent(t *testing.T) {
	store := storage.NewMemoryStore()
	snapshot := storage.Snapshot{
		RunID:          "run-1",
		StartedAt:      time.Now().Add(-time.Minute),
		UpdatedAt:      time.Now(),
		Phase:          storage.PhaseRunning,
		BatchSize:      10000,
		ChunksDone:     2,
		EntitiesLoaded: 20000,
		SeriesEmitted:  19950,
	}
	if err := store.Put(context.Background(), snapshot); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mux := newTestMux(t, store)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/run/current?id=run-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got storage.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.RunID != "run-1" || got.ChunksDone != 2 || got.Phase != storage.PhaseRunning {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestGetRunCurrentErrors(t *testing.T) {
	tests := []struct {
		name   string
		store  storage.Store
		target string
		want   int
	}{
		{name: "missing id", store: storage.NewMemoryStore(), target: "/run/current", want: http.StatusBadRequest},
		{name: "invalid id", store: storage.NewMemoryStore(), target: "/run/current?id=run%20one", want: http.StatusBadRequest},
		{name: "unknown run", store: storage.NewMemoryStore(), target: "/run/current?id=nope", want: http.StatusNotFound},
		{name: "store failure", store: failingStore{}, target: "/run/current?id=run-1", want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(t, tt.store)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}

			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if body["error"] == "" {
				t.Error("error body missing error field")
			}
		})
	}
}
