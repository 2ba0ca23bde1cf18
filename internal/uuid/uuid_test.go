package uuid

import "testing"

// TestNewGeneratesValid verifies generated UUIDs pass strict validation.
func TestNewGeneratesValid(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("Generated UUID failed validation: %s", id)
		}
		if seen[id] {
			t.Fatalf("Duplicate UUID generated: %s", id)
		}
		seen[id] = true
	}
}

// TestIsValid verifies strict v4 format checks.
func TestIsValid(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"550E8400-E29B-41D4-A716-446655440000", true},
		{"550e8400-e29b-11d4-a716-446655440000", false}, // v1, not v4
		{"550e8400-e29b-41d4-c716-446655440000", false}, // bad variant
		{"550e8400e29b41d4a716446655440000", false},     // no dashes
		{"not-a-uuid", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := IsValid(tc.input); got != tc.want {
			t.Errorf("IsValid(%q): expected %v, got %v", tc.input, tc.want, got)
		}
	}
}

// TestValidate verifies the error form.
func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Expected valid UUID to pass, got %v", err)
	}
	if err := Validate("nope"); err == nil {
		t.Error("Expected invalid UUID to fail")
	}
}
