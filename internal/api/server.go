// Package api exposes the read-only HTTP interface of the ingestion
// service: health, metrics, completeness reports and run history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mlsdata/transfermkt-ingest/internal/history"
	"github.com/mlsdata/transfermkt-ingest/internal/watermark"
)

const handlerTimeout = 10 * time.Second

// ReportSource serves completeness reports per run date.
type ReportSource interface {
	CompletenessReport(ctx context.Context, date string) (*watermark.Report, error)
}

// RunSource serves recorded run history.
type RunSource interface {
	LastRun(ctx context.Context, runDate string) (history.RunRecord, error)
}

// Server wires HTTP handlers to the ledger and run history.
type Server struct {
	router  chi.Router
	reports ReportSource
	runs    RunSource
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The runs
// source may be nil when no database is configured.
func NewServer(reports ReportSource, runs RunSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{reports: reports, runs: runs, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/report/{date}", s.getReport)
		r.Get("/runs/{date}", s.getLastRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

// getReport handles GET /v1/report/{date}. A date with no ledger yet is a
// valid 200 response with ledger_found=false, not an error.
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if !validDate(date) {
		writeError(s.logger, w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	report, err := s.reports.CompletenessReport(ctx, date)
	if err != nil {
		s.logger.Error("building completeness report failed",
			zap.String("date", date), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, report)
}

// getLastRun handles GET /v1/runs/{date}.
func (s *Server) getLastRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	date := chi.URLParam(r, "date")
	if !validDate(date) {
		writeError(s.logger, w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	rec, err := s.runs.LastRun(ctx, date)
	if errors.Is(err, history.ErrNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "no run recorded for date")
		return
	}
	if err != nil {
		s.logger.Error("loading run history failed", zap.String("date", date), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, rec)
}

func validDate(date string) bool {
	_, err := time.Parse("2006-01-02", date)
	return err == nil
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
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
