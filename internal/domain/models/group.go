// internal/domain/models/group.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CourseData links a course to the order that paid for it and records the
// enrollment status that pair should drive for every roster member.
type CourseData struct {
	CourseID       primitive.ObjectID  `bson:"course_id" json:"course_id"`
	OrderID        *primitive.ObjectID `bson:"order_id,omitempty" json:"order_id,omitempty"`
	EnrolledStatus string              `bson:"enrolled_status" json:"enrolled_status"`
}

// MatchesOrder reports whether the entry was paid for by orderID.
func (c CourseData) MatchesOrder(orderID primitive.ObjectID) bool {
	return c.OrderID != nil && *c.OrderID == orderID
}

// Group represents a cohort that shares one or more course purchases.
//
// NOTE:
//   - Members is the roster of normalized email addresses. It behaves as a
//     set but keeps insertion order for display.
//   - Status ("draft" | "published") only changes through the group
//     lifecycle manager so that the transition is observed.
//   - Lifecycle tracks trash/delete separately from Status.
type Group struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	Title       string             `bson:"title" json:"title"`
	TitleCI     string             `bson:"title_ci" json:"title_ci"`
	Description string             `bson:"description" json:"description"`

	Status    string `bson:"status" json:"status"`
	Lifecycle string `bson:"lifecycle" json:"lifecycle"`

	AuthorID    primitive.ObjectID `bson:"author_id" json:"author_id"`
	AuthorEmail string             `bson:"author_email" json:"author_email"`

	Members    []string     `bson:"members" json:"members"`
	CourseData []CourseData `bson:"course_data" json:"course_data"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsLive returns true if the group is neither trashed nor deleted.
func (g *Group) IsLive() bool {
	return g.Lifecycle == "" || g.Lifecycle == "active"
}

// HasMember reports whether email (already normalized) is on the roster.
func (g *Group) HasMember(email string) bool {
	for _, m := range g.Members {
		if m == email {
			return true
		}
	}
	return false
}
