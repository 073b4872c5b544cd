package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		// Federated search and URI resolution
		r.Post("/search", h.Search)
		r.Get("/resource", h.Resolve)

		// Tiered lookup
		r.Post("/lookup", h.DoLookup)
		r.Get("/index", h.IndexStatus)
		r.Post("/index/build", h.BuildIndex)

		// Providers
		r.Get("/providers", h.ListProviders)
		r.Delete("/providers", h.UnregisterProvider)
		r.Get("/providers/health", h.ProvidersHealth)
		r.Get("/providers/stats", h.ProvidersStats)
		r.Get("/providers/index", h.ProviderIndex)
		r.Post("/providers/state", h.SetProviderState)
	})

	// Event stream
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}
}
