package content

import "testing"

func TestValidatePseudonym(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"moonlight", true},
		{"étoile_42", true},
		{"a.b-c", true},
		{"ab", false},
		{"this-pseudonym-is-far-too-long", false},
		{"with space", false},
		{"<b>x</b>", false},
		{"", false},
	}

	for _, tt := range tests {
		err := ValidatePseudonym(tt.input)
		if (err == nil) != tt.ok {
			t.Errorf("ValidatePseudonym(%q) err = %v, want ok=%v", tt.input, err, tt.ok)
		}
	}
}

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"+33 6 12 34 56 78", true},
		{"0612345678", true},
		{"555-123-4567", true},
		{"+1.555.123.4567", true},
		{"12345", false},
		{"phone", false},
		{"+33 6 12 34 56 78 90 12 34", false},
		{"06--12", false},
	}

	for _, tt := range tests {
		err := ValidatePhone(tt.input)
		if (err == nil) != tt.ok {
			t.Errorf("ValidatePhone(%q) err = %v, want ok=%v", tt.input, err, tt.ok)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"someone@example.org", true},
		{"first.last+tag@uni.fr", true},
		{"no-at-sign.org", false},
		{"user@nodot", false},
		{"@example.org", false},
	}

	for _, tt := range tests {
		err := ValidateEmail(tt.input)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateEmail(%q) err = %v, want ok=%v", tt.input, err, tt.ok)
		}
	}
}

func TestValidateEmergencyContact(t *testing.T) {
	for _, ok := range []string{"", "+33612345678", "friend@example.org"} {
		if err := ValidateEmergencyContact(ok); err != nil {
			t.Errorf("ValidateEmergencyContact(%q) unexpected error: %v", ok, err)
		}
	}
	if err := ValidateEmergencyContact("call my mum"); err == nil {
		t.Error("ValidateEmergencyContact accepted free text")
	}
}

func TestValidateAvatar(t *testing.T) {
	for _, ok := range []string{"🌙", "🦊", "AB"} {
		if err := ValidateAvatar(ok); err != nil {
			t.Errorf("ValidateAvatar(%q) unexpected error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "<b>x</b>", "far too long avatar"} {
		if err := ValidateAvatar(bad); err == nil {
			t.Errorf("ValidateAvatar(%q) expected error", bad)
		}
	}
}
