// internal/app/features/groups/status.go
package groups

import (
	"context"
	"net/http"
	"strings"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/store/audit"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SetStatus handles POST /groups/{id}/status.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	var in statusInput
	if !decode(w, r, &in) {
		return
	}
	ctx := r.Context()
	newStatus := strings.ToLower(strings.TrimSpace(in.Status))

	before, err := h.Groups.GetByID(ctx, id)
	if err != nil {
		h.fail(w, id, "load group failed", err)
		return
	}
	changed, err := h.Lifecycle.SetStatus(ctx, id, newStatus, events.CauseAuthor)
	if err != nil {
		h.fail(w, id, "set group status failed", err)
		return
	}
	if changed {
		h.Audit.GroupStatusSet(ctx, r, id, before.Status, newStatus)
	}
	h.respond(w, r, id, http.StatusOK, func(resp *groupResponse) {
		resp.Changed = &changed
	})
}

// Trash handles POST /groups/{id}/trash.
func (h *Handler) Trash(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, audit.EventGroupTrashed, h.Lifecycle.Trash)
}

// Restore handles POST /groups/{id}/restore. Only trashed groups can be
// restored.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, audit.EventGroupRestored, h.Lifecycle.Restore)
}

// Delete handles POST /groups/{id}/delete. Deleted groups are kept as
// tombstones; deleting again is a no-op.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, audit.EventGroupDeleted, h.Lifecycle.Delete)
}

type lifecycleFunc func(ctx context.Context, id primitive.ObjectID, cause events.Cause) (bool, error)

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, eventType string, apply lifecycleFunc) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	changed, err := apply(r.Context(), id, events.CauseAuthor)
	if err != nil {
		h.fail(w, id, eventType+" failed", err)
		return
	}
	if changed {
		h.Audit.GroupLifecycle(r.Context(), r, id, eventType)
	}
	h.respond(w, r, id, http.StatusOK, func(resp *groupResponse) {
		resp.Changed = &changed
	})
}
