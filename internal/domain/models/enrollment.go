// internal/domain/models/enrollment.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Enrollment grants a member access to a course.
//
// Exactly one document exists per (user_id, course_id). GroupID is nil for
// direct enrollments, which the group engine never modifies. Records are not
// deleted; revoking access sets Status to "inactive".
type Enrollment struct {
	ID       primitive.ObjectID  `bson:"_id" json:"id"`
	UserID   primitive.ObjectID  `bson:"user_id" json:"user_id"`
	CourseID primitive.ObjectID  `bson:"course_id" json:"course_id"`
	GroupID  *primitive.ObjectID `bson:"group_id" json:"group_id,omitempty"`
	OrderID  *primitive.ObjectID `bson:"order_id,omitempty" json:"order_id,omitempty"`
	Status   string              `bson:"status" json:"status"` // active | inactive

	StartAt   time.Time `bson:"start_at" json:"start_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsDirect returns true if the enrollment was not created through a group.
func (e *Enrollment) IsDirect() bool {
	return e.GroupID == nil || e.GroupID.IsZero()
}
