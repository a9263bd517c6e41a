// internal/domain/models/course.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Course is the catalog entry a group purchase covers. Only the display
// title is kept here; content lives in the course platform.
type Course struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	Title     string             `bson:"title" json:"title"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}
