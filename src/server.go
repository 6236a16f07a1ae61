// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"batchrunner/src/controlapi"
	"batchrunner/src/logging"
	"batchrunner/src/model"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ObserveResponse is the JSON body of GET /observe.
type ObserveResponse struct {
	TotalCores     int             `json:"TotalCores"`
	UsedCores      int             `json:"UsedCores"`
	AvailableCores int             `json:"AvailableCores"`
	Folders        json.RawMessage `json:"Folders"`
	Settings       json.RawMessage `json:"Settings"`
}

// APIServer holds dependencies for the HTTP handlers. Every handler
// does exactly one controlapi.API call and reports its outcome as
// JSON; no handler touches scheduler state directly.
type APIServer struct {
	api controlapi.API
}

// StartAPIServer starts the HTTP Control API with graceful shutdown and
// OTel instrumentation. ctx governs the server's lifetime — the caller
// (main) is responsible for cancelling it on shutdown signal.
func StartAPIServer(ctx context.Context, port string, api controlapi.API) error {
	srv := &APIServer{api: api}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /observe", srv.observeHandler)
	mux.HandleFunc("POST /folders", srv.addFolderHandler)
	mux.HandleFunc("DELETE /folders/{id}", srv.removeFolderHandler)
	mux.HandleFunc("POST /folders/reorder", srv.reorderFoldersHandler)
	mux.HandleFunc("POST /jobs", srv.addJobHandler)
	mux.HandleFunc("POST /folders/{id}/jobs/reorder", srv.reorderJobsHandler)
	mux.HandleFunc("POST /jobs/{id}/cancel", srv.cancelJobHandler)
	mux.HandleFunc("POST /jobs/{id}/restart", srv.restartJobHandler)
	mux.HandleFunc("POST /queue/start", srv.startQueueHandler)
	mux.HandleFunc("POST /queue/pause", srv.pauseQueueHandler)
	mux.HandleFunc("POST /settings", srv.updateSettingsHandler)

	// CRITICAL: We must use the returned handler from otelhttp.NewHandler
	otelHandler := otelhttp.NewHandler(mux, "batchrunner-control-api")

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: otelHandler,
	}

	serverErr := make(chan error, 1)
	go func() {
		fmt.Printf("Control API starting on :%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server startup failed: %w", err)
	case <-ctx.Done():
		fmt.Println("\nShutdown signal received, closing server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		fmt.Println("Server exited cleanly")
	}

	return nil
}

func (s *APIServer) observeHandler(w http.ResponseWriter, r *http.Request) {
	counts, snap := s.api.Observe()

	folders, err := json.Marshal(snap.Folders)
	if err != nil {
		http.Error(w, "failed to encode folders", http.StatusInternalServerError)
		return
	}
	settings, err := json.Marshal(snap.Settings)
	if err != nil {
		http.Error(w, "failed to encode settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ObserveResponse{
		TotalCores:     counts.TotalCores,
		UsedCores:      counts.UsedCores,
		AvailableCores: counts.AvailableCores,
		Folders:        folders,
		Settings:       settings,
	})
}

func (s *APIServer) addFolderHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"Path"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	folder, ok := s.api.AddFolder(req.Path)
	if !ok {
		http.Error(w, "folder could not be added: duplicate, already completed, or no known scripts found", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (s *APIServer) addJobHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"Path"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	job, ok := s.api.AddJob(req.Path)
	if !ok {
		http.Error(w, "job could not be added: script not found", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *APIServer) removeFolderHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.api.RemoveFolder(id) {
		http.Error(w, "folder not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) reorderFoldersHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From int `json:"From"`
		To   int `json:"To"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.api.ReorderFolders(req.From, req.To) {
		http.Error(w, "invalid reorder indices", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) reorderJobsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		From int `json:"From"`
		To   int `json:"To"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.api.ReorderJobs(id, req.From, req.To) {
		http.Error(w, "invalid folder id or reorder indices", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) cancelJobHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.api.CancelJob(id) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) restartJobHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.api.RestartJob(id) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) startQueueHandler(w http.ResponseWriter, r *http.Request) {
	s.api.StartQueue()
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) pauseQueueHandler(w http.ResponseWriter, r *http.Request) {
	s.api.PauseQueue()
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) updateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if !decodeJSON(w, r, &settings) {
		return
	}
	s.api.UpdateSettings(settings)
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Log("server: failed to encode response: "+err.Error(), slog.LevelError)
	}
}
