package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/urlimage/pkg/api/handlers"
	"github.com/marmos91/urlimage/pkg/api/middleware"
	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/fetch"
	"github.com/marmos91/urlimage/pkg/loader"
	"github.com/marmos91/urlimage/pkg/metrics"
)

// Deps are the components the router serves.
type Deps struct {
	Manager   *fetch.Manager
	Cache     cachestore.Store // may be nil
	StoreType string

	// Loader is the template for per-request Loaders. Manager and Cache
	// are filled in from the fields above.
	Loader loader.Options

	// HTTPMetrics may be nil.
	HTTPMetrics *metrics.HTTPMetrics
}

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /images?url=<u> - fetch, cache and return an image
//   - GET /health - liveness probe
//   - GET /health/ready - readiness probe
//   - GET /stats - fetch manager queue sizes
//   - GET /metrics - Prometheus metrics
func NewRouter(cfg Config, deps Deps) http.Handler {
	cfg.ApplyDefaults()

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Metrics(deps.HTTPMetrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.RequestTimeout))

	health := handlers.NewHealthHandler(deps.Manager, deps.Cache, deps.StoreType)
	r.Get("/health", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Get("/stats", health.Stats)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if deps.Manager != nil {
		opts := deps.Loader
		opts.Manager = deps.Manager
		opts.Cache = deps.Cache
		if opts.Dispatcher == nil {
			// Decoding runs in the callback; do not serialize requests on it.
			opts.Dispatcher = fetch.GoDispatcher
		}
		images := handlers.NewImageHandler(opts, cfg.AllowPrivateHosts)
		r.Get("/images", images.Get)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}
