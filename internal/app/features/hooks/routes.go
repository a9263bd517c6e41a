// internal/app/features/hooks/routes.go
package hooks

import (
	"github.com/dalemusser/cohortsync/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the commerce hook router, mounted under /hooks.
func Routes(h *Handler, token string) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireToken("commerce", token))

	r.Post("/orders", h.ReceiveOrder)
	r.Post("/orders/{id}/status", h.OrderStatus)
	r.Post("/orders/{id}/trash", h.TrashOrder)
	r.Post("/orders/{id}/delete", h.DeleteOrder)
	r.Post("/orders/{id}/restore", h.RestoreOrder)

	r.Put("/courses/{id}", h.UpsertCourse)
	return r
}
