package status

import "testing"

func TestDerivedEnrollment(t *testing.T) {
	tests := []struct {
		order string
		want  string
	}{
		{OrderCompleted, EnrollmentActive},
		{OrderPending, EnrollmentInactive},
		{OrderOnHold, EnrollmentInactive},
		{OrderProcessing, EnrollmentInactive},
		{OrderCancelled, EnrollmentInactive},
		{OrderRefunded, EnrollmentInactive},
		{OrderFailed, EnrollmentInactive},
		{"", EnrollmentInactive},
	}

	for _, tt := range tests {
		t.Run(tt.order, func(t *testing.T) {
			if got := DerivedEnrollment(tt.order); got != tt.want {
				t.Errorf("DerivedEnrollment(%q) = %q, want %q", tt.order, got, tt.want)
			}
		})
	}
}

func TestNormalizeOrder(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"completed", "completed"},
		{"  COMPLETED ", "completed"},
		{"wc-on-hold", "on-hold"},
		{"WC-Refunded", "refunded"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeOrder(tt.input); got != tt.want {
				t.Errorf("NormalizeOrder(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsOrderStatus_RejectsTrashed(t *testing.T) {
	if IsOrderStatus(OrderTrashed) {
		t.Error("trashed must not be a storable workflow status")
	}
	if !IsOrderStatus(OrderOnHold) {
		t.Error("on-hold should be a workflow status")
	}
}

func TestIsLive(t *testing.T) {
	if !IsLive("") || !IsLive(LifecycleActive) {
		t.Error("empty and active lifecycle should be live")
	}
	if IsLive(LifecycleTrashed) || IsLive(LifecycleDeleted) {
		t.Error("trashed and deleted lifecycle should not be live")
	}
}

func TestGroupStatusFor(t *testing.T) {
	if got := GroupStatusFor(EnrollmentActive); got != GroupPublished {
		t.Errorf("GroupStatusFor(active) = %q", got)
	}
	if got := GroupStatusFor(EnrollmentInactive); got != GroupDraft {
		t.Errorf("GroupStatusFor(inactive) = %q", got)
	}
}
