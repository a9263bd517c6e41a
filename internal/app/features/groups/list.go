// internal/app/features/groups/list.go
package groups

import (
	"net/http"

	apierrors "github.com/dalemusser/cohortsync/internal/app/features/errors"
	groupstore "github.com/dalemusser/cohortsync/internal/app/store/groups"
	"github.com/dalemusser/cohortsync/internal/app/system/paging"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/waffle/pantry/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// List handles GET /groups.
//
// Query: status, lifecycle, author_id, q (title prefix), limit, after.
// Groups are ordered by title; "next" is the cursor for the following page.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := paging.Parse(r)
	if !ok {
		apierrors.BadRequest(w, "invalid payload", map[string]string{"after": "After must be a cursor returned by this endpoint."})
		return
	}
	f := groupstore.ListFilter{
		Status:    query.Get(r, "status"),
		Lifecycle: query.Get(r, "lifecycle"),
		Search:    query.Search(r, "q"),
		Page:      page,
	}
	if f.Status != "" && !status.IsGroupStatus(f.Status) {
		apierrors.BadRequest(w, "invalid payload", map[string]string{"status": `Status must be "draft" or "published".`})
		return
	}
	if a := query.Get(r, "author_id"); a != "" {
		oid, err := primitive.ObjectIDFromHex(a)
		if err != nil {
			apierrors.BadRequest(w, "invalid payload", map[string]string{"author_id": "Author ID must be a valid ID."})
			return
		}
		f.AuthorID = &oid
	}

	rows, next, err := h.Groups.List(r.Context(), f)
	if err != nil {
		apierrors.Server(w, h.Log, "list groups failed", err)
		return
	}
	resp := listResponse{Groups: make([]groupResponse, 0, len(rows)), Next: next}
	for _, g := range rows {
		resp.Groups = append(resp.Groups, toResponse(g))
	}
	apierrors.JSON(w, http.StatusOK, resp)
}
