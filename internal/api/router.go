package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nikhilbhutani/docingest/internal/api/handlers"
	"github.com/nikhilbhutani/docingest/internal/api/middleware"
	"github.com/nikhilbhutani/docingest/internal/auth"
	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/ratelimit"
	"github.com/nikhilbhutani/docingest/internal/status"
)

// Deps are the services the HTTP surface needs. Checks feed /readyz.
type Deps struct {
	Config    *config.Config
	Documents *document.Service
	Status    *status.Service
	Reindexer handlers.Reindexer
	Limiter   ratelimit.Limiter
	Checks    map[string]handlers.Pinger
}

type Router struct {
	mux  *chi.Mux
	deps Deps
	jwt  *auth.JWTMiddleware
}

func NewRouter(deps Deps) *Router {
	return &Router{
		mux:  chi.NewRouter(),
		deps: deps,
		jwt:  auth.NewJWTMiddleware(deps.Config.Auth.JWTSecret),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	cfg := rt.deps.Config

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(rt.jwt.Identify)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.deps.Checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	limited := middleware.RateLimit(rt.deps.Limiter, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireUser)

		docH := handlers.NewDocumentHandler(rt.deps.Documents, rt.deps.Status, rt.deps.Reindexer)
		r.Route("/documents", func(r chi.Router) {
			// Uploads and processing fan out to extraction and embedding spend.
			r.With(limited).Post("/", docH.Upload)
			r.Get("/{id}", docH.Get)
			r.Get("/{id}/indexing-status", docH.IndexingStatus)
			r.With(limited).Post("/{id}/process", docH.Process)
			r.With(limited).Post("/{id}/reindex", docH.Reindex)
		})
	})

	return r
}
