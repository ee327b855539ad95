package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/cartable/internal/config"
	"github.com/pitabwire/cartable/internal/definition"
	"github.com/pitabwire/cartable/internal/idempotency"
	"github.com/pitabwire/cartable/internal/inbox"
	"github.com/pitabwire/cartable/internal/observability"
	"github.com/pitabwire/cartable/internal/workflow"
	"github.com/pitabwire/cartable/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Metrics            *observability.Metrics
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Definitions        *definition.Store
	Engine             *workflow.Engine
	Inbox              *inbox.Projection
	// Idempotency is optional; without it X-Idempotency-Key is ignored.
	Idempotency  idempotency.Store
	HealthChecks map[string]observability.HealthChecker
	// OptionalChecks name health checks that only degrade readiness.
	OptionalChecks []string
	// MetricsHandler serves /metrics. Defaults to the global registry.
	MetricsHandler http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = observability.Handler()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(deps.Metrics.MetricsMiddleware)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.HealthChecks, deps.OptionalChecks...))
	metricsPath := deps.Config.Observability.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Method(http.MethodGet, metricsPath, metricsHandler)

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := &handlers{deps: deps, logger: logger}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Route("/definitions", func(r chi.Router) {
			r.Get("/", h.listDefinitions)
			r.Post("/validate", h.validateDefinition)
			r.Get("/{id}", h.getDefinition)
			r.With(RequireCapability(model.CapDefinitionsManage)).Put("/{id}", h.saveDefinition)
		})

		r.Route("/cartable", func(r chi.Router) {
			r.Post("/", h.startWorkflow)
			r.Get("/{id}", h.getItem)
			r.Get("/{id}/actions", h.listActions)
			r.Get("/{id}/history", h.history)
			r.Post("/{id}/actions/{actionId}", h.processAction)
			r.Post("/{id}/seen", h.markSeen)
		})

		r.Route("/inbox", func(r chi.Router) {
			r.Get("/", h.myCartable)
			r.Get("/unread", h.unread)
			r.Get("/unread/count", h.unreadCount)
		})

		r.With(RequireCapability(model.CapCartableExport)).Get("/reports/cartable.xlsx", h.exportXLSX)
	})

	return r
}

// handlers groups the API handlers over the shared dependencies.
type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}
