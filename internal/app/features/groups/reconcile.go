// internal/app/features/groups/reconcile.go
package groups

import "net/http"

// Reconcile handles POST /groups/{id}/reconcile. It re-derives every
// member's enrollments from the group's current state.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	if _, err := h.Groups.GetByID(r.Context(), id); err != nil {
		h.fail(w, id, "load group failed", err)
		return
	}
	if err := h.Reconciler.Reconcile(r.Context(), id); err != nil {
		h.fail(w, id, "reconcile failed", err)
		return
	}
	h.Audit.ReconcileRequested(r.Context(), r, id)
	h.respond(w, r, id, http.StatusOK, nil)
}
