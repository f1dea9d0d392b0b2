// Package web serves the run archive over HTTP: run listings, per-run
// metadata, raw operation histories, and performance reports, all as JSON.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chaos-harness/internal/config"
	"chaos-harness/internal/logging"
	"chaos-harness/internal/store"
)

// Server exposes one archive as a read-only JSON API.
type Server struct {
	archive *store.Archive
	logger  *logging.Logger
	cfg     *config.WebConfig
	srv     *http.Server
	started time.Time
}

// NewServer creates a results server over the archive.
func NewServer(archive *store.Archive, logger *logging.Logger, cfg *config.WebConfig) *Server {
	return &Server{
		archive: archive,
		logger:  logger,
		cfg:     cfg,
		started: time.Now(),
	}
}

// RunListResponse is the /runs listing.
type RunListResponse struct {
	Runs  []store.RunMeta `json:"runs"`
	Count int             `json:"count"`
}

// HealthResponse reports server liveness.
type HealthResponse struct {
	Healthy       bool   `json:"healthy"`
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     int64  `json:"timestamp"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Routes configures the full route table.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(logging.LoggingMiddleware(s.logger))

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/runs", s.ListRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.GetRun).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/history", s.GetHistory).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/perf", s.GetReport).Methods(http.MethodGet)

	router.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	return router
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.logger.Info("Starting results server", "address", addr)
	return s.srv.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping results server")
	return s.srv.Shutdown(ctx)
}

// GET /api/v1/runs
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.archive.ListRuns()
	if err != nil {
		s.logger.WithError(err).Error("Failed to list runs")
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.RunMeta{}
	}
	s.writeJSONResponse(w, http.StatusOK, RunListResponse{Runs: runs, Count: len(runs)})
}

// GET /api/v1/runs/{id}
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.archive.GetRun(id)
	if errors.Is(err, store.ErrRunNotFound) {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to read run", "run_id", id)
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to read run")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, meta)
}

// GET /api/v1/runs/{id}/history
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ops, err := s.archive.History(id)
	if errors.Is(err, store.ErrRunNotFound) {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to read history", "run_id", id)
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, ops)
}

// GET /api/v1/runs/{id}/perf
func (s *Server) GetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := s.archive.Report(id)
	if errors.Is(err, store.ErrRunNotFound) {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("no report for run %s", id))
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to read report", "run_id", id)
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to read report")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, report)
}

// GET /health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, HealthResponse{
		Healthy:       true,
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Timestamp:     time.Now().Unix(),
	})
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    statusCode,
		Message: http.StatusText(statusCode),
	})
}
