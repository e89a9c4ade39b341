package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/joelkehle/greenlight/internal/ingest"
	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/manuscript"
	"github.com/joelkehle/greenlight/internal/metrics"
	"github.com/joelkehle/greenlight/internal/report"
	"github.com/joelkehle/greenlight/internal/store"
)

// Analyzer runs the manuscript pipeline. *manuscript.Pipeline satisfies it.
type Analyzer interface {
	Run(ctx context.Context, text string, tr manuscript.TimeRange) (manuscript.Report, error)
}

type Config struct {
	Analyzer Analyzer
	Store    *store.Store
	Renderer report.Renderer
	Metrics  *metrics.Metrics
	Logger   logger.Logger

	AdminToken string
	// RateLimit applies to /analyze and /upload, e.g. "10-M". Empty disables it.
	RateLimit      string
	MaxUploadBytes int64
}

type Server struct {
	analyzer   Analyzer
	store      *store.Store
	renderer   report.Renderer
	metrics    *metrics.Metrics
	log        logger.Logger
	validate   *validator.Validate
	adminToken string
	maxUpload  int64
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Analyzer == nil {
		return nil, errors.New("server: analyzer is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = ingest.MaxUploadBytes
	}
	s := &Server{
		analyzer:   cfg.Analyzer,
		store:      cfg.Store,
		renderer:   cfg.Renderer,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		adminToken: cfg.AdminToken,
		maxUpload:  cfg.MaxUploadBytes,
	}

	limit, err := newRateLimit(cfg.RateLimit, s.log)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /analyze", limit(http.HandlerFunc(s.handleAnalyze)))
	s.route(mux, "POST /upload", limit(http.HandlerFunc(s.handleUpload)))
	s.route(mux, "POST /subscribe", http.HandlerFunc(s.handleSubscribe))
	s.route(mux, "GET /submissions/{id}", http.HandlerFunc(s.handleSubmission))
	s.route(mux, "GET /submissions/{id}/pdf", http.HandlerFunc(s.handleSubmissionPDF))
	s.route(mux, "GET /admin/signups.csv", http.HandlerFunc(s.handleSignupsCSV))
	s.route(mux, "GET /healthz", http.HandlerFunc(s.handleHealth))
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux, nil
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.HTTPRequest(route, rec.status)
		s.log.Debug("http request", "route", route, "status", rec.status, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
