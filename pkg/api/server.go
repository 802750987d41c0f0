package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/assetperm/pkg/audit"
	"github.com/platinummonkey/assetperm/pkg/engine"
	"github.com/platinummonkey/assetperm/pkg/httputil"
	"github.com/platinummonkey/assetperm/pkg/middleware"
	"github.com/platinummonkey/assetperm/pkg/observability"
	"github.com/platinummonkey/assetperm/pkg/store"
)

// Config wires the server to its collaborators. Audit, Health, Registry,
// Metrics and RateLimiter are optional.
type Config struct {
	Store        store.Store
	Engine       *engine.Engine
	Manager      *engine.Manager
	Audit        audit.Reader
	Health       *observability.HealthChecker
	Registry     *prometheus.Registry
	Metrics      *observability.Metrics
	Logger       *observability.Logger
	RateLimiter  middleware.Limiter
	MaxBodyBytes int64
}

// Server is the permission service HTTP API
type Server struct {
	cfg    Config
	router *mux.Router
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	s := &Server{cfg: cfg, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RequestIDMiddleware(s.cfg.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
	)
	if s.cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.cfg.Metrics))
	}

	if s.cfg.Health != nil {
		s.router.HandleFunc("/healthz", s.cfg.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.cfg.Health.Readiness).Methods("GET")
	}
	if s.cfg.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.cfg.Registry)).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(TenantMiddleware)
	if s.cfg.RateLimiter != nil {
		v1.Use(middleware.OrganizationRateLimit(s.cfg.RateLimiter))
	}
	v1.Use(
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(s.cfg.MaxBodyBytes),
	)

	registrars := []RouteRegistrar{
		NewAuthorizeHandlers(s.cfg.Engine),
		NewRuleHandlers(s.cfg.Store, s.cfg.Manager),
		NewInheritanceHandlers(s.cfg.Store, s.cfg.Manager, s.cfg.Engine),
	}
	if s.cfg.Audit != nil {
		registrars = append(registrars, audit.NewHandlers(s.cfg.Audit))
	}
	for _, r := range registrars {
		r.RegisterRoutes(v1)
	}
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router { return s.router }

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the server wrapped with OpenTelemetry HTTP instrumentation
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "assetperm",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/readyz" && r.URL.Path != "/metrics"
		}),
	)
}
