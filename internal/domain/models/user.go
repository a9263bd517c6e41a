// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is a member identity, keyed by email.
//
// NOTE:
//   - Role is empty until the resolver grants the baseline "learner" role.
//     Elevated roles (admin, manager, instructor) are never altered here.
//   - GroupIDs is a cached set of groups the member was added to. It only
//     grows.
type User struct {
	ID       primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	FullName string               `bson:"full_name" json:"full_name"`
	Email    string               `bson:"email" json:"email"`
	Role     string               `bson:"role" json:"role"`
	Status   string               `bson:"status,omitempty" json:"status,omitempty"`
	GroupIDs []primitive.ObjectID `bson:"group_ids,omitempty" json:"group_ids,omitempty"`

	PasswordHash       string `bson:"password_hash,omitempty" json:"-"`
	PasswordTemp       bool   `bson:"password_temp,omitempty" json:"-"`
	NeedsPasswordSetup bool   `bson:"needs_password_setup,omitempty" json:"needs_password_setup,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
