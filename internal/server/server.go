// Package server exposes the sync trigger surface over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cornermap/sync-service/internal/config"
	"github.com/cornermap/sync-service/internal/extract"
	"github.com/cornermap/sync-service/internal/ingestion"
	"github.com/cornermap/sync-service/internal/models"
	"github.com/cornermap/sync-service/internal/sources"
	"github.com/cornermap/sync-service/internal/storage"
)

// Syncer triggers sync runs. The ingestion service satisfies it.
type Syncer interface {
	Sync(ctx context.Context) (*models.SyncSnapshot, error)
	SyncOne(ctx context.Context, sourceID string) (*models.SyncSnapshot, error)
}

// Server handles HTTP requests
type Server struct {
	config   config.Server
	syncer   Syncer
	store    *storage.Store
	provider *sources.Provider
	server   *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Server, syncer Syncer, store *storage.Store, provider *sources.Provider) *Server {
	s := &Server{
		config:   cfg,
		syncer:   syncer,
		store:    store,
		provider: provider,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/sync", s.handleSync).Methods(http.MethodPost)
	router.HandleFunc("/api/sources", s.handleSources).Methods(http.MethodGet)
	router.HandleFunc("/api/sources/{id}/sync", s.handleSyncSource).Methods(http.MethodPost)
	router.HandleFunc("/api/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/api/routes/{key}", s.handleGetRoute).Methods(http.MethodGet)
	router.HandleFunc("/api/routes/{key}", s.handlePutRoute).Methods(http.MethodPut)
	router.HandleFunc("/api/planner/{key}", s.handleGetPlannerState).Methods(http.MethodGet)
	router.HandleFunc("/api/planner/{key}", s.handlePutPlannerState).Methods(http.MethodPut)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
		// Sync runs poll extraction jobs for up to a minute per item, so the
		// write timeout has to cover a full, slow run.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSync triggers a full sync and returns the resulting snapshot.
// Concurrent triggers join the in-flight run.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.syncer.Sync(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, extract.ErrNoAPIKey) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, fmt.Sprintf("Sync failed: %v", err), status)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleSyncSource re-syncs a single source and returns the narrower
// per-source result shape.
func (s *Server) handleSyncSource(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]

	snapshot, err := s.syncer.SyncOne(r.Context(), sourceID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ingestion.ErrUnknownSource):
			status = http.StatusNotFound
		case errors.Is(err, extract.ErrNoAPIKey):
			status = http.StatusServiceUnavailable
		}
		http.Error(w, fmt.Sprintf("Sync failed: %v", err), status)
		return
	}

	writeJSON(w, http.StatusOK, models.SourceSyncResult{
		SyncedAt: snapshot.SyncedAt,
		Count:    snapshot.EventCount + snapshot.SpotCount,
		Errors:   snapshot.IngestionErrors,
	})
}

// handleSources returns the active source snapshot.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Snapshot(r.Context()))
}

// handleSnapshot returns the persisted snapshot (remote, local, or sample).
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.store.LoadSnapshot(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load snapshot: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleGetRoute serves the keyed route cache consumed by the routing layer.
func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	payload, err := s.store.RouteCache().Get(r.Context(), key)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read route: %v", err), http.StatusInternalServerError)
		return
	}
	if payload == nil {
		http.Error(w, "Route not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

// handlePutRoute stores a route payload under its key.
func (s *Server) handlePutRoute(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	payload, err := io.ReadAll(r.Body)
	if err != nil || len(payload) == 0 || !json.Valid(payload) {
		http.Error(w, "Body must be a JSON payload", http.StatusBadRequest)
		return
	}

	if err := s.store.RouteCache().Put(r.Context(), key, payload); err != nil {
		http.Error(w, fmt.Sprintf("Failed to store route: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetPlannerState serves the planner-state payloads the day-planner
// consumer keeps in the remote store.
func (s *Server) handleGetPlannerState(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	payload, err := s.store.PlannerState(r.Context(), key)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read planner state: %v", err), http.StatusInternalServerError)
		return
	}
	if payload == nil {
		http.Error(w, "Planner state not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

// handlePutPlannerState stores a planner-state payload under its key.
// Planner state lives only remotely, so local-only deployments reject writes.
func (s *Server) handlePutPlannerState(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	payload, err := io.ReadAll(r.Body)
	if err != nil || len(payload) == 0 || !json.Valid(payload) {
		http.Error(w, "Body must be a JSON payload", http.StatusBadRequest)
		return
	}

	if err := s.store.SavePlannerState(r.Context(), key, payload); err != nil {
		if errors.Is(err, storage.ErrNoRemote) {
			http.Error(w, "No remote store configured", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to store planner state: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}
