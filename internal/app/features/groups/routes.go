// internal/app/features/groups/routes.go
package groups

import (
	"github.com/dalemusser/cohortsync/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the admin groups router, mounted under /groups.
func Routes(h *Handler, token string) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireToken("admin", token))

	r.Get("/", h.List)
	r.Post("/", h.Create)

	r.Route("/{id}", func(gr chi.Router) {
		gr.Get("/", h.Get)
		gr.Patch("/", h.Update)
		gr.Post("/status", h.SetStatus)
		gr.Post("/members", h.AddMembers)
		gr.Post("/members/remove", h.RemoveMembers)
		gr.Post("/trash", h.Trash)
		gr.Post("/restore", h.Restore)
		gr.Post("/delete", h.Delete)
		gr.Post("/reconcile", h.Reconcile)
		gr.Get("/events", h.Events)
		gr.Get("/enrollments", h.Enrollments)
	})
	return r
}
