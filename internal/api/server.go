// Package api exposes the HTTP interface for the document pipeline service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/convert"
	"github.com/docpipe/docpipe/internal/download"
	"github.com/docpipe/docpipe/internal/extract"
	"github.com/docpipe/docpipe/internal/pipeline"
)

// ServerConfig wires the Server's collaborators.
type ServerConfig struct {
	Store       pipeline.RecordStore
	Layout      pipeline.Layout
	Downloader  *download.Downloader
	Conversions *convert.Runner
	Extractions *extract.Runner
	Scheduler   pipeline.Scheduler
	Hasher      pipeline.Hasher
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
	AuthEnabled bool
	APIKey      string
}

// Server routes HTTP requests to the pipeline stages and the record store.
type Server struct {
	router      chi.Router
	store       pipeline.RecordStore
	layout      pipeline.Layout
	downloader  *download.Downloader
	conversions *convert.Runner
	extractions *extract.Runner
	scheduler   pipeline.Scheduler
	hasher      pipeline.Hasher
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:       cfg.Store,
		layout:      cfg.Layout,
		downloader:  cfg.Downloader,
		conversions: cfg.Conversions,
		extractions: cfg.Extractions,
		scheduler:   cfg.Scheduler,
		hasher:      cfg.Hasher,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metricsHandler(cfg.Gatherer))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.submitDocument)
			r.Get("/", s.listDocuments)
			r.Get("/locator", s.getDocumentByLocator)
			r.Delete("/locator", s.deleteDocumentByLocator)
			r.Get("/{id}", s.getDocumentByID)
		})
		r.Route("/conversions", func(r chi.Router) {
			r.Post("/queue", s.drainConversions)
			r.Post("/{id}", s.triggerConversion)
		})
		r.Route("/extractions", func(r chi.Router) {
			r.Get("/template", s.extractionTemplate)
			r.Post("/queue", s.drainExtractions)
			r.Post("/{id}", s.triggerExtraction)
			r.Post("/{id}/selective", s.triggerSelectiveExtraction)
		})
		r.Get("/stats", s.getStats)
		r.Get("/duplicates", s.listDuplicates)
		r.Post("/deduplicate", s.backfillContentHashes)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ComputeStats(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
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

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
