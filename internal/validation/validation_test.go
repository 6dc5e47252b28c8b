package validation

import (
	"testing"
)

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"0x1234567890123456789012345678901234567890", true},
		{"0xabcdefABCDEF1234567890123456789012345678", true},
		{"0x0000000000000000000000000000000000000000", true},

		// Invalid cases
		{"1234567890123456789012345678901234567890", false},     // No 0x
		{"0x12345678901234567890123456789012345678", false},     // Too short
		{"0x123456789012345678901234567890123456789012", false}, // Too long
		{"0xGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG", false},   // Invalid chars
		{"", false},
		{"0x", false},
	}

	for _, tc := range tests {
		result := IsValidAddress(tc.addr)
		if result != tc.valid {
			t.Errorf("IsValidAddress(%q) = %v, want %v", tc.addr, result, tc.valid)
		}
	}
}

func TestSanitizeAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0x1234567890123456789012345678901234567890", "0x1234567890123456789012345678901234567890"},
		{"0xABCDEF1234567890123456789012345678901234", "0xabcdef1234567890123456789012345678901234"},
		{"  0x1234567890123456789012345678901234567890  ", "0x1234567890123456789012345678901234567890"},
		{"1234567890123456789012345678901234567890", "0x1234567890123456789012345678901234567890"},
	}

	for _, tc := range tests {
		result := SanitizeAddress(tc.input)
		if result != tc.expected {
			t.Errorf("SanitizeAddress(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	errors := Validate(
		Required("payee", "0x1234567890123456789012345678901234567890"),
		ValidAddress("payee", "0x1234567890123456789012345678901234567890"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	errors = Validate(
		Required("payee", ""),
		ValidAddress("payee", "invalid"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"1.00", true},
		{"0.50", true},
		{"100", true},
		{"0.000001", true},
		{"", true}, // Use Required for required fields

		{"0", false},
		{"0.000", false},
		{"-1.00", false},
		{"1.2.3", false},
		{".5", false},
		{"5.", false},
		{"abc", false},
	}

	for _, tc := range tests {
		errs := Validate(ValidAmount("amount", tc.value))
		if tc.valid && len(errs) != 0 {
			t.Errorf("ValidAmount(%q) produced errors %v, want none", tc.value, errs)
		}
		if !tc.valid && len(errs) == 0 {
			t.Errorf("ValidAmount(%q) produced no errors, want one", tc.value)
		}
	}
}

func TestMaxLength(t *testing.T) {
	if errs := Validate(MaxLength("terms", "short", 10)); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if errs := Validate(MaxLength("terms", "this is too long", 5)); len(errs) != 1 {
		t.Errorf("expected 1 error, got %d", len(errs))
	}
}
