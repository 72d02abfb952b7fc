// Package api provides the HTTP server of the entitlement engine.
// It exposes allocation, maintenance, inventory and lifecycle event routes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rewardline/entitle/internal/app/allocation"
	"github.com/rewardline/entitle/internal/app/eligibility"
	"github.com/rewardline/entitle/internal/app/maintenance"
	"github.com/rewardline/entitle/internal/domain"
	"github.com/rewardline/entitle/internal/infra/events"
	"github.com/rewardline/entitle/internal/infra/sqlite"
)

// Engine is the lifecycle surface served over HTTP.
type Engine interface {
	Allocate(ctx context.Context, userID string) ([]allocation.Result, error)
	Evaluate(ctx context.Context, userID string) ([]eligibility.Decision, error)
	Sweep(ctx context.Context, allocationID string) (maintenance.BatchResult, error)
	Status(ctx context.Context, userID string) ([]maintenance.StatusView, error)
}

// Store is the read side used by the inspection routes.
type Store interface {
	Ping(ctx context.Context) error
	GetAllocation(ctx context.Context, id string) (*domain.Allocation, error)
	ListViolations(ctx context.Context, allocationID string) ([]domain.ViolationRecord, error)
	ListAssets(ctx context.Context, filter domain.AssetFilter) ([]domain.PhysicalReward, error)
	ListEvents(ctx context.Context, limit int) ([]sqlite.StoredEvent, error)
}

// Server is the entitlement HTTP API server.
type Server struct {
	engine         Engine
	store          Store
	logger         *zap.Logger
	metricsEnabled bool
	hub            *events.Hub // live lifecycle feed (nil if not set)
}

// NewServer creates a new API server.
func NewServer(engine Engine, store Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: engine, store: store, logger: logger.Named("api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHub sets the live lifecycle event hub.
func (s *Server) SetHub(h *events.Hub) { s.hub = h }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// The live feed is long-lived; everything else is bounded.
		if s.hub != nil {
			r.Get("/events/live", s.handleEventsLive)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Minute))

			r.Post("/users/{userID}/allocations", s.handleAllocate)
			r.Get("/users/{userID}/eligibility", s.handleEligibility)
			r.Get("/users/{userID}/maintenance", s.handleMaintenanceStatus)
			r.Post("/maintenance/sweep", s.handleSweep)
			r.Get("/allocations/{id}", s.handleGetAllocation)
			r.Get("/inventory", s.handleInventory)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    errorType(status),
		},
	})
}

func errorType(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusConflict:
		return "conflict"
	default:
		return "error"
	}
}

// statusFor maps engine sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAllocationNotFound),
		errors.Is(err, domain.ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownAssetType):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAllocationConflict),
		errors.Is(err, domain.ErrAssetConflict),
		errors.Is(err, domain.ErrDuplicateAllocation),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail logs server-side failures and writes the mapped error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
