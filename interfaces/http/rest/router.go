package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"docgraph/interfaces/http/rest/handlers"
	"docgraph/interfaces/http/rest/middleware"
	"docgraph/internal/observability"
	"docgraph/pkg/errors"
)

// RouterConfig selects the optional parts of the router
type RouterConfig struct {
	EnableCORS     bool
	EnableMetrics  bool
	AllowedOrigins []string
	// RequestTimeout bounds each request; zero disables it
	RequestTimeout time.Duration
}

// Router creates and configures the HTTP router
type Router struct {
	service      handlers.GraphRunner
	logger       *zap.Logger
	errorHandler *errors.ErrorHandler
	metrics      *observability.Collector
	tracer       *observability.TracerProvider
	config       RouterConfig
}

// NewRouter creates a new router instance
func NewRouter(
	service handlers.GraphRunner,
	logger *zap.Logger,
	errorHandler *errors.ErrorHandler,
	metrics *observability.Collector,
	tracer *observability.TracerProvider,
	config RouterConfig,
) *Router {
	return &Router{
		service:      service,
		logger:       logger,
		errorHandler: errorHandler,
		metrics:      metrics,
		tracer:       tracer,
		config:       config,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Tracing(rt.tracer))
	if rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}

	if rt.config.EnableCORS {
		origins := rt.config.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Trace-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	if rt.metrics != nil && rt.config.EnableMetrics {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		if rt.config.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(rt.config.RequestTimeout))
		}

		graphHandler := handlers.NewGraphHandler(rt.service, rt.logger, rt.errorHandler)
		r.Route("/graph", func(r chi.Router) {
			r.Get("/", graphHandler.GetGraph)
			r.Post("/build", graphHandler.Build)
			r.Post("/refresh", graphHandler.Refresh)
			r.Post("/abort", graphHandler.Abort)
			r.Delete("/snapshot", graphHandler.DeleteSnapshot)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
