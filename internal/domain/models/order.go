// internal/domain/models/order.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OrderLineItem is one purchased course on an order.
type OrderLineItem struct {
	CourseID primitive.ObjectID `bson:"course_id" json:"course_id"`
	Quantity int                `bson:"quantity" json:"quantity"`
}

// Order mirrors a purchase order raised by the commerce system.
//
// NOTE:
//   - Status is the workflow status (pending, completed, refunded, ...).
//     Lifecycle is the trash/delete state and is never mixed into Status.
//   - CreateGroup is the "create group after completion" marker written at
//     checkout. It is cleared in the same write that sets CreatedGroupID.
type Order struct {
	ID            primitive.ObjectID `bson:"_id" json:"id"`
	Status        string             `bson:"status" json:"status"`
	Lifecycle     string             `bson:"lifecycle" json:"lifecycle"`
	CustomerID    primitive.ObjectID `bson:"customer_id,omitempty" json:"customer_id,omitempty"`
	CustomerEmail string             `bson:"customer_email" json:"customer_email"`
	LineItems     []OrderLineItem    `bson:"line_items" json:"line_items"`

	CreateGroup    bool                `bson:"create_group,omitempty" json:"create_group,omitempty"`
	GroupCourseID  *primitive.ObjectID `bson:"group_course_id,omitempty" json:"group_course_id,omitempty"`
	CreatedGroupID *primitive.ObjectID `bson:"created_group_id,omitempty" json:"created_group_id,omitempty"`

	// GroupIDs is the legacy list of groups an order fed before orders
	// created their own group.
	GroupIDs []primitive.ObjectID `bson:"group_ids,omitempty" json:"group_ids,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsLive returns true if the order is neither trashed nor deleted.
func (o *Order) IsLive() bool {
	return o.Lifecycle == "" || o.Lifecycle == "active"
}

// OwnedGroupIDs returns the created group (if any) followed by the legacy
// group list, without duplicates.
func (o *Order) OwnedGroupIDs() []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool, len(o.GroupIDs)+1)
	out := make([]primitive.ObjectID, 0, len(o.GroupIDs)+1)
	if o.CreatedGroupID != nil && !o.CreatedGroupID.IsZero() {
		seen[*o.CreatedGroupID] = true
		out = append(out, *o.CreatedGroupID)
	}
	for _, id := range o.GroupIDs {
		if id.IsZero() || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CourseIDs returns the distinct course ids purchased on this order, in line
// item order.
func (o *Order) CourseIDs() []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool, len(o.LineItems))
	out := make([]primitive.ObjectID, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		if li.CourseID.IsZero() || seen[li.CourseID] {
			continue
		}
		seen[li.CourseID] = true
		out = append(out, li.CourseID)
	}
	return out
}
