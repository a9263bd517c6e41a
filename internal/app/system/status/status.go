// Package status holds the status vocabularies shared by the stores and the
// synchronization engine.
//
// Workflow status and lifecycle state are kept in separate fields: an order
// can be "completed" and "trashed" at the same time, and the trash wins.
package status

import "strings"

// Account status for members.
const (
	Active   = "active"
	Disabled = "disabled"
)

// IsValid reports whether s is a known account status.
func IsValid(s string) bool {
	return s == Active || s == Disabled
}

// Lifecycle state, shared by orders and groups.
const (
	LifecycleActive  = "active"
	LifecycleTrashed = "trashed"
	LifecycleDeleted = "deleted"
)

// IsLive reports whether the lifecycle value means "not trashed or deleted".
// Documents written before the lifecycle field existed count as live.
func IsLive(lifecycle string) bool {
	return lifecycle == "" || lifecycle == LifecycleActive
}

// Group workflow status.
const (
	GroupDraft     = "draft"
	GroupPublished = "published"
)

// IsGroupStatus reports whether s is a group workflow status.
func IsGroupStatus(s string) bool {
	return s == GroupDraft || s == GroupPublished
}

// Order workflow status, as reported by the commerce system.
const (
	OrderPending    = "pending"
	OrderOnHold     = "on-hold"
	OrderProcessing = "processing"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
	OrderRefunded   = "refunded"
	OrderFailed     = "failed"

	// OrderTrashed is accepted on inbound hooks only. It is translated into a
	// lifecycle change and never stored as a workflow status.
	OrderTrashed = "trashed"
)

var orderStatuses = map[string]bool{
	OrderPending:    true,
	OrderOnHold:     true,
	OrderProcessing: true,
	OrderCompleted:  true,
	OrderCancelled:  true,
	OrderRefunded:   true,
	OrderFailed:     true,
}

// IsOrderStatus reports whether s is a storable order workflow status.
func IsOrderStatus(s string) bool {
	return orderStatuses[s]
}

// NormalizeOrder lowercases and trims an inbound order status. Commerce
// systems commonly prefix statuses ("wc-completed"); the prefix is dropped.
func NormalizeOrder(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "wc-")
}

// Enrollment status.
const (
	EnrollmentActive   = "active"
	EnrollmentInactive = "inactive"
)

// DerivedEnrollment maps an order workflow status to the enrollment status
// it drives: completed orders activate, everything else deactivates.
func DerivedEnrollment(orderStatus string) string {
	if orderStatus == OrderCompleted {
		return EnrollmentActive
	}
	return EnrollmentInactive
}

// GroupStatusFor maps an enrollment outcome to the status of a group that an
// order created.
func GroupStatusFor(enrollmentStatus string) string {
	if enrollmentStatus == EnrollmentActive {
		return GroupPublished
	}
	return GroupDraft
}
