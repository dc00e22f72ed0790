// Package api provides the HTTP control surface for taskpipe: starting and
// cancelling tasks, reading the current state, a websocket progress stream
// and the Prometheus endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/taskpipe/internal/api/middleware"
	"github.com/anstrom/taskpipe/internal/config"
	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/metrics"
	"github.com/anstrom/taskpipe/internal/observer"
	"github.com/anstrom/taskpipe/internal/pipeline"
	"github.com/anstrom/taskpipe/internal/progress"
	"github.com/anstrom/taskpipe/internal/tasks"
	"github.com/anstrom/taskpipe/internal/tasks/batchdownload"
	"github.com/anstrom/taskpipe/internal/tasks/nmapscan"
)

const maxRequestBytes = 1 << 20

var validate = validator.New()

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	controller *pipeline.Controller
	hub        *Hub
	metrics    *metrics.PrometheusMetrics
	logger     *logging.Logger
	startTime  time.Time

	// taskCtx bounds started tasks to the server lifetime rather than the
	// request that started them.
	taskCtx context.Context
}

// ScanRequest starts a network scan.
type ScanRequest struct {
	Target string `json:"target" validate:"required"`
}

// DownloadRequest starts a batch download.
type DownloadRequest struct {
	Entries []batchdownload.Entry `json:"entries" validate:"required,min=1,dive"`
}

// TaskResponse is returned when a task was started.
type TaskResponse struct {
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

// TaskInfo describes the running or last task.
type TaskInfo struct {
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	StartedAt time.Time `json:"started_at"`
	Alive     bool      `json:"alive"`
}

// StatusResponse is the body of GET /api/v1/tasks.
type StatusResponse struct {
	State   pipeline.State   `json:"state"`
	Current *TaskInfo        `json:"current,omitempty"`
	Result  *pipeline.Result `json:"result,omitempty"`
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// New creates a server around an existing controller and hub. pm may be nil
// when metrics are disabled.
func New(cfg *config.Config, controller *pipeline.Controller, hub *Hub,
	pm *metrics.PrometheusMetrics, logger *logging.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		config:     cfg,
		controller: controller,
		hub:        hub,
		metrics:    pm,
		logger:     logger.WithComponent("api"),
		startTime:  time.Now(),
		taskCtx:    context.Background(),
	}

	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:         cfg.GetAPIAddress(),
		Handler:      s.handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}
	return s
}

// Start serves until ctx is done, then shuts down gracefully. Tasks started
// through the API are canceled when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	s.taskCtx = ctx
	s.logger.Info("Starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	s.hub.Close()

	timeout := s.config.API.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.statusHandler).Methods(http.MethodGet)
	api.HandleFunc("/tasks/scan", s.startScanHandler).Methods(http.MethodPost)
	api.HandleFunc("/tasks/download", s.startDownloadHandler).Methods(http.MethodPost)
	api.HandleFunc("/tasks/current", s.cancelHandler).Methods(http.MethodDelete)
	api.Handle("/ws", s.hub).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	if s.metrics != nil {
		s.router.Use(middleware.Metrics(s.metrics))
	}
	s.router.Use(middleware.ContentType())
}

// handler wraps the router with CORS, which must also answer preflight
// requests that match no route.
func (s *Server) handler() http.Handler {
	if !s.config.API.EnableCORS {
		return s.router
	}
	return handlers.CORS(
		handlers.AllowedOrigins(s.config.API.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
	)(s.router)
}

// Handler returns the full HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"timestamp":         time.Now().UTC(),
		"uptime":            time.Since(s.startTime).String(),
		"state":             s.controller.State(),
		"websocket_clients": s.hub.ClientCount(),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{State: s.controller.State()}
	if task := s.controller.Current(); task != nil {
		resp.Current = &TaskInfo{
			TaskID:    task.ID,
			Kind:      task.Kind,
			StartedAt: task.StartedAt,
			Alive:     task.IsAlive(),
		}
	}
	if result, ok := s.controller.Result(); ok {
		resp.Result = &result
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) startScanHandler(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	strategy, err := nmapscan.New(req.Target, s.config.Nmap)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.startTask(w, r, strategy, nil)
}

func (s *Server) startDownloadHandler(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	strategy, err := batchdownload.New(req.Entries, s.config.Download)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.startTask(w, r, strategy, strategy.Cleanup)
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request, strategy tasks.Strategy, cleanup func() error) {
	obs := progress.Multi(s.hub, observer.NewLog(s.logger))
	task, err := s.controller.Start(s.taskCtx, strategy, obs)
	if err != nil {
		// Command may already have written files before the start failed.
		s.runCleanup(cleanup, "")
		s.writeError(w, r, err)
		return
	}
	if cleanup != nil {
		go func() {
			<-task.Done()
			s.runCleanup(cleanup, task.ID)
		}()
	}
	s.writeJSON(w, http.StatusAccepted, TaskResponse{
		TaskID:    task.ID,
		Kind:      task.Kind,
		StartedAt: task.StartedAt,
	})
}

func (s *Server) runCleanup(cleanup func() error, taskID string) {
	if cleanup == nil {
		return
	}
	if err := cleanup(); err != nil {
		s.logger.Warn("Task cleanup failed", "task_id", taskID, "error", err)
	}
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Cancel(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"state": s.controller.State()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return errors.WrapTaskError(errors.CodeValidation, "Invalid request body", err)
	}
	if err := validate.Struct(dest); err != nil {
		return errors.WrapTaskError(errors.CodeValidation, "Invalid request", err)
	}
	return nil
}

// statusFor maps error codes to HTTP status codes.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeValidation:
		return http.StatusBadRequest
	case errors.CodeTaskRunning, errors.CodeInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := s.logger.Warn
	if status >= http.StatusInternalServerError {
		log = s.logger.Error
	}
	log("API error", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)

	s.writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Code:      string(errors.GetCode(err)),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
