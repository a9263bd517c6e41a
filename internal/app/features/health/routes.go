// internal/app/features/health/routes.go
package health

import "github.com/go-chi/chi/v5"

// Routes serves readiness at the mount root and liveness at /live.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Ready)
	r.Get("/live", h.Live)
	return r
}
