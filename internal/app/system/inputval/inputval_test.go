package inputval

import "testing"

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"buyer@example.com", true},
		{"first.last+cohort@school.example.org", true},
		{"  padded@example.com  ", true},
		{"ops@localhost", true},

		{"", false},
		{"buyer", false},
		{"buyer@", false},
		{"@example.com", false},
		{".buyer@example.com", false},
		{"buyer.@example.com", false},
		{"bu..yer@example.com", false},
		{"buyer@example..com", false},
		{"Buyer <buyer@example.com>", false},
		{"buyer @example.com", false},
		{"a@b.com, c@d.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := IsValidEmail(tt.email); got != tt.want {
				t.Errorf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}

func TestIsValidObjectID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"507f1f77bcf86cd799439011", true},
		{"FFFFFFFFFFFFFFFFFFFFFFFF", true},
		{" 507f1f77bcf86cd799439011 ", true},
		{"", false},
		{"507f1f77bcf86cd79943901", false},
		{"507f1f77bcf86cd79943901g", false},
		{"500", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := IsValidObjectID(tt.id); got != tt.want {
				t.Errorf("IsValidObjectID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
