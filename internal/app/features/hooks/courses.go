// internal/app/features/hooks/courses.go
package hooks

import (
	"net/http"
	"strings"

	apierrors "github.com/dalemusser/cohortsync/internal/app/features/errors"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type courseInput struct {
	Title string `json:"title" validate:"required,max=200" label:"Title"`
}

// UpsertCourse handles PUT /hooks/courses/{id}. Course titles name created
// groups and appear in enrollment emails.
func (h *Handler) UpsertCourse(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.BadRequest(w, "bad course id", nil)
		return
	}
	var in courseInput
	if !h.decode(w, r, &in) {
		return
	}
	title := strings.TrimSpace(in.Title)
	if err := h.Courses.Upsert(r.Context(), id, title); err != nil {
		apierrors.Server(w, h.Log, "course upsert failed", err, zap.String("course_id", id.Hex()))
		return
	}
	h.Audit.CourseUpserted(r.Context(), r, id, title)
	apierrors.JSON(w, http.StatusOK, map[string]string{"id": id.Hex(), "title": title})
}
