package propagation

import (
	"testing"

	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func ptr(id primitive.ObjectID) *primitive.ObjectID { return &id }

func TestMergeOrder(t *testing.T) {
	c1, c2 := primitive.NewObjectID(), primitive.NewObjectID()
	o1 := models.Order{ID: primitive.NewObjectID()}
	o2 := models.Order{ID: primitive.NewObjectID()}

	tests := []struct {
		name        string
		in          []models.CourseData
		order       models.Order
		courses     []primitive.ObjectID
		st          string
		want        []string // enrolled_status per entry
		wantLen     int
		wantChanged bool
	}{
		{
			name:        "append missing course",
			in:          []models.CourseData{{CourseID: c1, OrderID: ptr(o1.ID), EnrolledStatus: status.EnrollmentActive}},
			order:       o2,
			courses:     []primitive.ObjectID{c2},
			st:          status.EnrollmentActive,
			want:        []string{status.EnrollmentActive, status.EnrollmentActive},
			wantLen:     2,
			wantChanged: true,
		},
		{
			name: "most recent matching entry wins",
			in: []models.CourseData{
				{CourseID: c1, OrderID: ptr(o1.ID), EnrolledStatus: status.EnrollmentInactive},
				{CourseID: c1, OrderID: ptr(o1.ID), EnrolledStatus: status.EnrollmentInactive},
			},
			order:       o1,
			courses:     []primitive.ObjectID{c1},
			st:          status.EnrollmentActive,
			want:        []string{status.EnrollmentInactive, status.EnrollmentActive},
			wantLen:     2,
			wantChanged: true,
		},
		{
			name: "other orders untouched",
			in: []models.CourseData{
				{CourseID: c1, OrderID: ptr(o1.ID), EnrolledStatus: status.EnrollmentActive},
				{CourseID: c1, OrderID: ptr(o2.ID), EnrolledStatus: status.EnrollmentActive},
			},
			order:       o2,
			st:          status.EnrollmentInactive,
			want:        []string{status.EnrollmentActive, status.EnrollmentInactive},
			wantLen:     2,
			wantChanged: true,
		},
		{
			name:        "inactive never appends",
			in:          []models.CourseData{{CourseID: c1, OrderID: ptr(o1.ID), EnrolledStatus: status.EnrollmentActive}},
			order:       o2,
			courses:     []primitive.ObjectID{c2},
			st:          status.EnrollmentInactive,
			want:        []string{status.EnrollmentActive},
			wantLen:     1,
			wantChanged: false,
		},
		{
			name:        "no change",
			in:          []models.CourseData{{CourseID: c1, OrderID: ptr(o1.ID), EnrolledStatus: status.EnrollmentActive}},
			order:       o1,
			courses:     []primitive.ObjectID{c1},
			st:          status.EnrollmentActive,
			want:        []string{status.EnrollmentActive},
			wantLen:     1,
			wantChanged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := make([]models.CourseData, len(tt.in))
			copy(before, tt.in)

			got, changed := mergeOrder(tt.in, tt.order, tt.courses, tt.st)
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			for i, w := range tt.want {
				if got[i].EnrolledStatus != w {
					t.Errorf("entry %d = %q, want %q", i, got[i].EnrolledStatus, w)
				}
			}
			for i := range before {
				if tt.in[i] != before[i] {
					t.Errorf("input entry %d modified", i)
				}
			}
		})
	}
}

func TestOrderCourses(t *testing.T) {
	c1, c2, c3 := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	created, legacy, other := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	o := models.Order{
		ID:             primitive.NewObjectID(),
		GroupCourseID:  ptr(c1),
		CreatedGroupID: ptr(created),
		GroupIDs:       []primitive.ObjectID{legacy},
		LineItems:      []models.OrderLineItem{{CourseID: c1}, {CourseID: c2}},
	}

	if got := orderCourses(o, models.Group{ID: created}); len(got) != 1 || got[0] != c1 {
		t.Errorf("created group courses = %v, want [c1]", got)
	}
	if got := orderCourses(o, models.Group{ID: legacy}); len(got) != 2 {
		t.Errorf("legacy group courses = %v, want 2", got)
	}
	g := models.Group{ID: other, CourseData: []models.CourseData{
		{CourseID: c3, OrderID: ptr(o.ID)},
		{CourseID: c2, OrderID: ptr(primitive.NewObjectID())},
	}}
	if got := orderCourses(o, g); len(got) != 1 || got[0] != c3 {
		t.Errorf("referencing group courses = %v, want [c3]", got)
	}
}
