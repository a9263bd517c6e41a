// internal/app/features/groups/members.go
package groups

import (
	"net/http"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
)

// AddMembers handles POST /groups/{id}/members. Emails already on the roster
// are ignored; invalid emails are reported back.
func (h *Handler) AddMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	var in membersInput
	if !decode(w, r, &in) {
		return
	}
	added, invalid, err := h.Lifecycle.AddMembers(r.Context(), id, in.Emails, events.CauseAuthor)
	if err != nil {
		h.fail(w, id, "add members failed", err)
		return
	}
	h.Audit.MembersAdded(r.Context(), r, id, len(in.Emails), len(added))
	h.respond(w, r, id, http.StatusOK, func(resp *groupResponse) {
		resp.Added = added
		resp.Invalid = invalid
	})
}

// RemoveMembers handles POST /groups/{id}/members/remove. Removed members
// lose the enrollments this group granted unless another group still
// covers them.
func (h *Handler) RemoveMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	var in membersInput
	if !decode(w, r, &in) {
		return
	}
	removed, err := h.Lifecycle.RemoveMembers(r.Context(), id, in.Emails, events.CauseAuthor)
	if err != nil {
		h.fail(w, id, "remove members failed", err)
		return
	}
	h.Audit.MembersRemoved(r.Context(), r, id, len(in.Emails), len(removed))
	h.respond(w, r, id, http.StatusOK, func(resp *groupResponse) {
		resp.Removed = removed
	})
}
