package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventsMonitor/internal/config"
	"eventsMonitor/internal/metrics"
	"eventsMonitor/internal/supervisor"
)

// TaskManager is the supervisor surface the API drives.
type TaskManager interface {
	Create(name string, cfg config.Config) (supervisor.TaskDescriptor, error)
	Get(id uuid.UUID) (supervisor.TaskDescriptor, error)
	List() []supervisor.TaskDescriptor
	Stop(id uuid.UUID) (supervisor.TaskDescriptor, error)
	Delete(id uuid.UUID) error
	Cleanup() []supervisor.TaskDescriptor
}

// Server exposes task management over HTTP.
type Server struct {
	tasks   TaskManager
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  *chi.Mux
	server  *http.Server
}

func NewServer(addr string, tasks TaskManager, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		tasks:   tasks,
		metrics: m,
		logger:  logger.Named("api"),
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Post("/cleanup", s.handleCleanup)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/stop", s.handleStop)
		r.Delete("/{id}", s.handleDelete)
	})
}

// CreateTaskRequest is the body of POST /tasks.
type CreateTaskRequest struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type cleanupResponse struct {
	Removed []supervisor.TaskDescriptor `json:"removed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.Config) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("config is required"))
		return
	}

	cfg, err := config.Parse(req.Config, "json")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	desc, err := s.tasks.Create(req.Name, cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrConfig) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	s.logger.Info("task submitted", zap.String("task_id", desc.ID.String()), zap.String("name", desc.Name))
	writeJSON(w, http.StatusCreated, desc)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	desc, err := s.tasks.Get(id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	desc, err := s.tasks.Stop(id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := s.tasks.Delete(id); err != nil {
		writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanup(w http.ResponseWriter, _ *http.Request) {
	removed := s.tasks.Cleanup()
	if removed == nil {
		removed = []supervisor.TaskDescriptor{}
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Removed: removed})
}

func taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid task id: %w", err))
		return uuid.UUID{}, false
	}
	return id, true
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, supervisor.ErrTaskRunning):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting api server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping api server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
