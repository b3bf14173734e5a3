// Package api exposes the HTTP interface for the report service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aselbek/mektep-reports/internal/config"
	"github.com/aselbek/mektep-reports/internal/metrics"
	"github.com/aselbek/mektep-reports/internal/progress"
	"github.com/aselbek/mektep-reports/internal/scrape"
	"github.com/aselbek/mektep-reports/internal/supervisor"
)

// Server wires HTTP handlers to the supervisor and stores.
type Server struct {
	router     chi.Router
	jobs       scrape.JobStore
	reports    scrape.ReportStore
	supervisor *supervisor.Supervisor
	idGen      scrape.IDGenerator
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs scrape.JobStore,
	reports scrape.ReportStore,
	sup *supervisor.Supervisor,
	idGen scrape.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		jobs:       jobs,
		reports:    reports,
		supervisor: sup,
		idGen:      idGen,
		cfg:        cfg,
		logger:     logger,
	}
	metrics.Init()
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/progress", s.getProgress)
				r.Post("/cancel", s.cancelJob)
				r.Post("/school-choice", s.selectSchool)
			})
		})
		r.Get("/reports", s.listReports)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	SchoolID    int64  `json:"school_id"`
	TeacherID   int64  `json:"teacher_id"`
	Period      string `json:"period"`
	Lang        string `json:"lang"`
	Limit       int    `json:"limit"`
	Login       string `json:"login"`
	Password    string `json:"password"`
	SchoolIndex *int   `json:"school_index"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateSubmit(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate job id")
		return
	}
	job := scrape.Job{
		ID:         jobID,
		SchoolID:   req.SchoolID,
		TeacherID:  req.TeacherID,
		PeriodCode: req.Period,
		Lang:       req.Lang,
		Limit:      req.Limit,
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job: %v", err))
		return
	}

	// Submit blocks while all slots are taken; detach it from the request
	// so the job queues instead of holding the connection open.
	params := supervisor.RunParams{Login: req.Login, Password: req.Password, SchoolIndex: req.SchoolIndex}
	go func() {
		if err := s.supervisor.Submit(context.Background(), job, params); err != nil {
			s.logger.Error("submit failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(scrape.JobStatusQueued)})
}

func validateSubmit(req submitJobRequest) error {
	if req.SchoolID <= 0 {
		return errors.New("school_id is required")
	}
	if req.TeacherID <= 0 {
		return errors.New("teacher_id is required")
	}
	if req.Login == "" || req.Password == "" {
		return errors.New("login and password are required")
	}
	switch req.Period {
	case "1", "2", "3", "4":
	default:
		return errors.New("period must be 1..4")
	}
	switch req.Lang {
	case "", "ru", "kk", "en":
	default:
		return errors.New("lang must be ru, kk or en")
	}
	return nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type progressResponse struct {
	Percent          int      `json:"percent"`
	Message          string   `json:"message"`
	TotalReports     *int     `json:"total_reports"`
	ProcessedReports int      `json:"processed_reports"`
	Finished         bool     `json:"finished"`
	Status           string   `json:"status"`
	SchoolOptions    []string `json:"school_options,omitempty"`
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	resp := progressResponse{
		Percent:          job.ProgressPercent,
		Message:          job.ProgressMessage,
		TotalReports:     job.TotalReports,
		ProcessedReports: job.ProcessedReports,
		Finished:         job.Status.IsTerminal(),
		Status:           string(job.Status),
	}
	if options, ok := progress.ParseChoiceMessage(job.ProgressMessage); ok {
		resp.SchoolOptions = options
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	alive, err := s.supervisor.Cancel(r.Context(), jobID)
	if errors.Is(err, scrape.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":       jobID,
		"status":       string(scrape.JobStatusCancelled),
		"live_process": alive,
	})
}

type schoolChoiceRequest struct {
	Index int `json:"index"`
}

func (s *Server) selectSchool(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req schoolChoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Index < 0 {
		writeError(w, http.StatusBadRequest, "index must be >= 0")
		return
	}
	if err := s.supervisor.SelectSchool(r.Context(), jobID, req.Index); err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "index": req.Index})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	teacherID, err := parseInt64(r.URL.Query().Get("teacher_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "teacher_id is required")
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		writeError(w, http.StatusBadRequest, "period is required")
		return
	}
	records, err := s.reports.ListReports(r.Context(), teacherID, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list reports failed")
		return
	}
	if records == nil {
		records = []scrape.ReportRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": records})
}

func parseInt64(s string) (int64, error) {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil || v <= 0 {
		return 0, errors.New("invalid id")
	}
	return v, nil
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
