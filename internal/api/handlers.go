package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bmtc-platforms/enricher/internal/dataset"
	"github.com/bmtc-platforms/enricher/internal/db"
)

// Repository defines the read operations the API serves
type Repository interface {
	ListDatasets(ctx context.Context) ([]string, error)
	ListRecords(ctx context.Context, name string, filter db.RecordFilter) ([]dataset.RouteRecord, error)
	GetRecord(ctx context.Context, name, routeID string) (*dataset.RouteRecord, error)
	ListRuns(ctx context.Context, limit int) ([]dataset.Run, error)
	ListFailedQueries(ctx context.Context, runID string) ([]dataset.FailedQuery, error)
	Ping(ctx context.Context) error
}

// Handler handles HTTP requests for the platform dataset
type Handler struct {
	repo Repository
}

// NewHandler creates a new handler with the given repository
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// DatasetsResponse is the JSON response for GET /api/datasets
type DatasetsResponse struct {
	Datasets []string `json:"datasets"`
	Count    int      `json:"count"`
}

// RoutesResponse is the JSON response for GET /api/datasets/{name}/routes
type RoutesResponse struct {
	Dataset string                `json:"dataset"`
	Routes  []dataset.RouteRecord `json:"routes"`
	Count   int                   `json:"count"`
}

// RunsResponse is the JSON response for GET /api/runs
type RunsResponse struct {
	Runs  []dataset.Run `json:"runs"`
	Count int           `json:"count"`
}

// FailedQueriesResponse is the JSON response for GET /api/runs/{runId}/failed
type FailedQueriesResponse struct {
	RunID  string                `json:"runId"`
	Failed []dataset.FailedQuery `json:"failed"`
	Count  int                   `json:"count"`
}

// Health handles GET /health with a database connectivity check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "error",
			"database":  "disconnected",
			"timestamp": time.Now().UTC(),
			"error":     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"database":  "connected",
		"timestamp": time.Now().UTC(),
	})
}

// ListDatasets handles GET /api/datasets
func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	names, err := h.repo.ListDatasets(r.Context())
	if err != nil {
		writeError(w, "Failed to retrieve datasets", err)
		return
	}

	writeJSON(w, http.StatusOK, DatasetsResponse{Datasets: names, Count: len(names)})
}

// ListRoutes handles GET /api/datasets/{name}/routes
// Optional query parameter resolved=true|false filters on platform data
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var filter db.RecordFilter
	if v := r.URL.Query().Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "resolved must be true or false",
			})
			return
		}
		filter.Resolved = &resolved
	}

	routes, err := h.repo.ListRecords(r.Context(), name, filter)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "Dataset not found",
			Details: map[string]interface{}{"dataset": name},
		})
		return
	}
	if err != nil {
		writeError(w, "Failed to retrieve routes", err)
		return
	}

	writeJSON(w, http.StatusOK, RoutesResponse{Dataset: name, Routes: routes, Count: len(routes)})
}

// GetRoute handles GET /api/datasets/{name}/routes/{routeId}
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	routeID := chi.URLParam(r, "routeId")

	route, err := h.repo.GetRecord(r.Context(), name, routeID)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "Route not found",
			Details: map[string]interface{}{"dataset": name, "routeId": routeID},
		})
		return
	}
	if err != nil {
		writeError(w, "Failed to retrieve route", err)
		return
	}

	writeJSON(w, http.StatusOK, route)
}

// ListRuns handles GET /api/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, "Failed to retrieve runs", err)
		return
	}

	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// ListFailedQueries handles GET /api/runs/{runId}/failed
func (h *Handler) ListFailedQueries(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")

	failed, err := h.repo.ListFailedQueries(r.Context(), runID)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "Run not found",
			Details: map[string]interface{}{"runId": runID},
		})
		return
	}
	if err != nil {
		writeError(w, "Failed to retrieve failed queries", err)
		return
	}

	writeJSON(w, http.StatusOK, FailedQueriesResponse{RunID: runID, Failed: failed, Count: len(failed)})
}

func writeError(w http.ResponseWriter, message string, err error) {
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: message,
		Details: map[string]interface{}{
			"internal": err.Error(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
