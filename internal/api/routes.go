package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Mounter registers its own routes on the root router. The tracking
// webhooks and response pages implement it.
type Mounter interface {
	Mount(r chi.Router)
}

// RouteDeps are the pieces SetupRoutes wires together. Only Handlers is
// required.
type RouteDeps struct {
	Handlers       *Handlers
	Health         *HealthChecker
	Tracking       Mounter
	Metrics        http.Handler
	AllowedOrigins []string
}

// SetupRoutes configures all routes.
func SetupRoutes(d RouteDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	if d.Health != nil {
		r.Get("/health", d.Health.HandleHealth)
		r.Get("/health/live", d.Health.HandleLiveness)
		r.Get("/health/ready", d.Health.HandleReadiness)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	h := d.Handlers
	r.Route("/api", func(r chi.Router) {
		r.Post("/discovery", h.CreateCampaign)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Post("/cancel", h.CancelCampaign)
				r.Post("/quota", h.CheckQuota)
				r.Post("/check-in", h.RunCheckIn)
				r.Post("/candidates", h.AssignCandidate)
			})
		})

		r.Post("/registry/providers", h.RegisterProvider)
	})

	// Webhooks and response links live outside /api so providers can reach
	// them with their own auth.
	if d.Tracking != nil {
		d.Tracking.Mount(r)
	}

	return r
}
