package validation

import "testing"

func TestNormalizePromoCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"summer2024", "SUMMER2024"},
		{"  gopher-50  ", "GOPHER-50"},
		{"ALREADY_UPPER", "ALREADY_UPPER"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizePromoCode(tt.in); got != tt.want {
			t.Errorf("NormalizePromoCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidPromoCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"SUMMER2024", true},
		{"GO-COURSE_1", true},
		{"ABC", true},
		{"AB", false},
		{"", false},
		{"WITH SPACE", false},
		{"LOWERcase", false},
		{"ПРОМО", false},
		{"CODE!", false},
	}

	for _, tt := range tests {
		if got := IsValidPromoCode(tt.code); got != tt.want {
			t.Errorf("IsValidPromoCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
