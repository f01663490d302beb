// Package router configures the imputer's HTTP API.
//
// The imputer exposes an HTTP server on port 8085 (configurable) that
// provides run progress retrieval, health checks, and Prometheus metrics.
//
// Routes configured:
//   - GET /run/current?id=<run-id> - Retrieve the latest progress snapshot
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Prometheus metrics endpoint
//
// The /run/current endpoint returns progress snapshots in JSON, including
// the run phase, chunk and entity counts, and the final quality report once
// the run completes.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecoanalytics/aquafill/pkg/httpx"
	"github.com/ecoanalytics/aquafill/pkg/storage"
)

var runIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

// SetupRoutes configures HTTP endpoints for the imputer.
func SetupRoutes(store storage.Store, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.HandleFunc("/run/current", handleGetRun(store, logger))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// handleGetRun returns a handler for GET /run/current?id=<run-id>.
func handleGetRun(store storage.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := r.URL.Query().Get("id")
		if runID == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "id parameter required")
			return
		}

		if !runIDRegex.MatchString(runID) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid run id format")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := store.GetLatest(ctx, runID)
		if err != nil {
			logger.Error("failed to get run snapshot", "run_id", runID, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("no snapshot for run %q", runID))
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
