// internal/app/features/groups/enrollments.go
package groups

import (
	"context"
	"net/http"

	apierrors "github.com/dalemusser/cohortsync/internal/app/features/errors"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GroupEnrollments reads the enrollment records linked to a group.
type GroupEnrollments interface {
	ListByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.Enrollment, error)
	CountByGroup(ctx context.Context, groupID primitive.ObjectID) (map[string]int64, error)
}

type enrollmentsResponse struct {
	Enrollments []models.Enrollment `json:"enrollments"`
	Counts      map[string]int64    `json:"counts"`
}

// Enrollments handles GET /groups/{id}/enrollments: every record the group
// currently drives, with counts by status. Direct enrollments are never
// linked to a group and so never appear here.
func (h *Handler) Enrollments(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	if _, err := h.Groups.GetByID(r.Context(), id); err != nil {
		h.fail(w, id, "load group failed", err)
		return
	}

	rows, err := h.Enrolled.ListByGroup(r.Context(), id)
	if err != nil {
		h.fail(w, id, "list enrollments failed", err)
		return
	}
	counts, err := h.Enrolled.CountByGroup(r.Context(), id)
	if err != nil {
		h.fail(w, id, "count enrollments failed", err)
		return
	}
	if rows == nil {
		rows = []models.Enrollment{}
	}
	apierrors.JSON(w, http.StatusOK, enrollmentsResponse{Enrollments: rows, Counts: counts})
}
