// internal/app/features/groups/crud.go
package groups

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/cohort/grouplifecycle"
	"github.com/dalemusser/cohortsync/internal/app/cohort/memberresolver"
	apierrors "github.com/dalemusser/cohortsync/internal/app/features/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Get handles GET /groups/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	h.respond(w, r, id, http.StatusOK, nil)
}

// Create handles POST /groups. The author is resolved (and created when
// unknown) from author_email.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in createInput
	if !decode(w, r, &in) {
		return
	}
	ctx := r.Context()

	author, err := h.Authors.ResolveOrCreate(ctx, in.AuthorEmail)
	if errors.Is(err, memberresolver.ErrInvalidEmail) {
		apierrors.BadRequest(w, "invalid payload", map[string]string{"author_email": "A valid email address is required."})
		return
	}
	if err != nil {
		apierrors.Server(w, h.Log, "resolve author failed", err)
		return
	}

	g, invalid, err := h.Lifecycle.Create(ctx, grouplifecycle.CreateInput{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      strings.ToLower(strings.TrimSpace(in.Status)),
		AuthorID:    author.User.ID,
		AuthorEmail: author.User.Email,
		Members:     in.Members,
	}, events.CauseAuthor)
	if err != nil && g.ID.IsZero() {
		h.fail(w, primitive.NilObjectID, "create group failed", err)
		return
	}
	if err != nil {
		// Stored, but propagation stopped part way. The reconcile job
		// finishes it.
		h.Log.Warn("group created with incomplete propagation",
			zap.String("group_id", g.ID.Hex()), zap.Error(err))
	}
	h.Audit.GroupCreated(ctx, r, g.ID, g.Title)
	h.respond(w, r, g.ID, http.StatusCreated, func(resp *groupResponse) {
		resp.Invalid = invalid
	})
}

// Update handles PATCH /groups/{id}. Only title and description change; an
// empty title or an omitted description keeps the current value.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	var in updateInput
	if !decode(w, r, &in) {
		return
	}
	title := strings.TrimSpace(in.Title)
	if err := h.Lifecycle.Update(r.Context(), id, grouplifecycle.UpdateInput{
		Title:       title,
		Description: in.Description,
	}); err != nil {
		h.fail(w, id, "update group failed", err)
		return
	}

	var fields []string
	if title != "" {
		fields = append(fields, "title")
	}
	if in.Description != nil {
		fields = append(fields, "description")
	}
	h.Audit.GroupUpdated(r.Context(), r, id, strings.Join(fields, ","))
	h.respond(w, r, id, http.StatusOK, nil)
}
