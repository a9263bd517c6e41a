// internal/app/features/groups/handler.go
//
// Package groups is the admin JSON API over cohort groups. Every mutation
// goes through the group lifecycle manager so that it is propagated to
// enrollments.
package groups

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dalemusser/cohortsync/internal/app/cohort/grouplifecycle"
	"github.com/dalemusser/cohortsync/internal/app/cohort/memberresolver"
	apierrors "github.com/dalemusser/cohortsync/internal/app/features/errors"
	groupstore "github.com/dalemusser/cohortsync/internal/app/store/groups"
	"github.com/dalemusser/cohortsync/internal/app/system/auditlog"
	"github.com/dalemusser/cohortsync/internal/app/system/inputval"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

// Authors resolves the member that authors a new group.
type Authors interface {
	ResolveOrCreate(ctx context.Context, email string) (memberresolver.Result, error)
}

// Reconciler re-derives enrollments for one group.
type Reconciler interface {
	Reconcile(ctx context.Context, groupID primitive.ObjectID) error
}

// Handler is the shared dependency container for the groups API.
type Handler struct {
	Groups     *groupstore.Store
	Lifecycle  *grouplifecycle.Manager
	Authors    Authors
	Reconciler Reconciler
	Audit      *auditlog.Logger
	Trail      AuditTrail
	Enrolled   GroupEnrollments
	Log        *zap.Logger
}

func NewHandler(groups *groupstore.Store, lifecycle *grouplifecycle.Manager, authors Authors, reconciler Reconciler, enrolled GroupEnrollments, audit *auditlog.Logger, trail AuditTrail, logger *zap.Logger) *Handler {
	return &Handler{
		Groups:     groups,
		Lifecycle:  lifecycle,
		Authors:    authors,
		Reconciler: reconciler,
		Audit:      audit,
		Trail:      trail,
		Enrolled:   enrolled,
		Log:        logger,
	}
}

// decode reads and validates a JSON body, writing the 400 itself.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(dst); err != nil {
		apierrors.BadRequest(w, "malformed JSON body", nil)
		return false
	}
	if res := inputval.Validate(dst); res.HasErrors() {
		apierrors.BadRequest(w, "invalid payload", res.Map())
		return false
	}
	return true
}

func groupID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.BadRequest(w, "bad group id", nil)
		return primitive.NilObjectID, false
	}
	return id, true
}

// fail maps lifecycle and store errors onto HTTP responses.
func (h *Handler) fail(w http.ResponseWriter, id primitive.ObjectID, msg string, err error) {
	switch {
	case errors.Is(err, groupstore.ErrNotFound):
		apierrors.NotFound(w, "group not found")
	case errors.Is(err, grouplifecycle.ErrGroupDeleted):
		apierrors.Conflict(w, "group is deleted")
	case errors.Is(err, grouplifecycle.ErrNotTrashed):
		apierrors.Conflict(w, "group is not trashed")
	case errors.Is(err, grouplifecycle.ErrBadStatus):
		apierrors.BadRequest(w, "invalid payload", map[string]string{"status": `Status must be "draft" or "published".`})
	default:
		apierrors.Server(w, h.Log, msg, err, zap.String("group_id", id.Hex()))
	}
}

// respond writes the current state of the group.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, id primitive.ObjectID, code int, extra func(*groupResponse)) {
	g, err := h.Groups.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, id, "group reload failed", err)
		return
	}
	resp := toResponse(g)
	if extra != nil {
		extra(&resp)
	}
	apierrors.JSON(w, code, resp)
}
