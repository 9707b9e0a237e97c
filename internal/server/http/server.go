// Package httpserver is the JSON API for submitting, following and exporting
// review jobs.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/export"
	"github.com/helixir/review-pipeline-service/internal/observability"
	"github.com/helixir/review-pipeline-service/internal/repository"
	"github.com/helixir/review-pipeline-service/internal/service"
)

// ReviewService is the subset of service.Reviews the API calls.
type ReviewService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*domain.ReviewJob, error)
	Get(ctx context.Context, userID string, trackingID uuid.UUID) (*domain.ReviewJob, error)
	List(ctx context.Context, filter repository.JobFilter) ([]*domain.ReviewJob, int64, error)
	Items(ctx context.Context, userID string, trackingID uuid.UUID, stage domain.Stage) ([]domain.ItemRecord, error)
	Cancel(ctx context.Context, userID string, trackingID uuid.UUID, reason string) error
	Retry(ctx context.Context, userID string, trackingID uuid.UUID) (*domain.ReviewJob, error)
	Document(ctx context.Context, userID string, trackingID uuid.UUID) (*domain.ReviewDocument, error)
}

// Exporter renders a finished document into a downloadable file.
type Exporter interface {
	Render(ctx context.Context, doc *domain.ReviewDocument, format export.Format) (*export.Artifact, error)
}

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Config sets the listener address and net/http timeouts.
type Config struct {
	Address string

	ReadTimeout, WriteTimeout, IdleTimeout time.Duration
	ShutdownTimeout                        time.Duration
}

// Deps holds the collaborators of the HTTP server.
type Deps struct {
	Reviews  ReviewService
	Exporter Exporter

	// Ready maps a dependency name to its readiness check.
	Ready map[string]ReadinessCheck

	// Metrics may be nil.
	Metrics *observability.Metrics

	// Auth guards /api routes when non-nil.
	Auth func(http.Handler) http.Handler

	Logger zerolog.Logger
}

// Server serves the review API, health checks and /metrics.
type Server struct {
	http   *http.Server
	router chi.Router
	logger zerolog.Logger

	reviews  ReviewService
	exporter Exporter
	ready    map[string]ReadinessCheck
	metrics  *observability.Metrics
	validate *validator.Validate
	auth     func(http.Handler) http.Handler

	// pollInterval is how often the progress stream re-reads the job.
	pollInterval time.Duration
}

func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		logger:       deps.Logger.With().Str("component", "http-server").Logger(),
		reviews:      deps.Reviews,
		exporter:     deps.Exporter,
		ready:        deps.Ready,
		metrics:      deps.Metrics,
		validate:     validator.New(),
		auth:         deps.Auth,
		pollInterval: sseQueryInterval,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		correlationIDMiddleware,
		metricsMiddleware(s.metrics),
	)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/reviews", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth)
		}
		r.Use(jsonContentTypeMiddleware)

		r.Post("/", s.submitReview)
		r.Get("/", s.listReviews)

		r.Route("/{trackingID}", func(r chi.Router) {
			r.Use(trackingIDMiddleware)
			r.Get("/", s.getReview)
			r.Get("/result", s.getReviewResult)
			r.Get("/export", s.exportReview)
			r.Get("/items", s.listReviewItems)
			r.Get("/progress", s.streamProgress)
			r.Post("/cancel", s.cancelReview)
			r.Post("/retry", s.retryReview)
		})
	})
	return r
}

// Start blocks serving until Shutdown. A bind failure is returned at once.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.http.Addr, err)
	}
	s.logger.Info().Str("address", ln.Addr().String()).Msg("http api listening")
	return s.http.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler answers 503 when any check fails and names each
// dependency's state in the body.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	code, body := http.StatusOK, map[string]string{"status": "ready"}
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn().Err(err).Str("dependency", name).Msg("not ready")
			code, body[name], body["status"] = http.StatusServiceUnavailable, "unhealthy", "not_ready"
			continue
		}
		body[name] = "healthy"
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// The status line is already out; an encode error has nowhere to go.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
