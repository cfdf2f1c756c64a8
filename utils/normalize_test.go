package utils

import "testing"

func TestMapNetwork(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"mtn", "YELLO"},
		{"MTN", "YELLO"},
		{"yello", "YELLO"},
		{"telecel", "TELECEL"},
		{"Telecel Ghana", "TELECEL"},
		{"airteltigo", "AT_PREMIUM"},
		{"airtel", "AT_PREMIUM"},
		{"at", "AT_PREMIUM"},
		{"AT_PREMIUM", "AT_PREMIUM"},
		{"glo", "GLO"},
		{"", ""},
		{"  ", ""},
	}
	for _, tc := range cases {
		if got := MapNetwork(tc.in); got != tc.want {
			t.Errorf("MapNetwork(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDigitsOnly(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5GB", "5"},
		{"10 gb", "10"},
		{"055-123-4567", "0551234567"},
		{"abc", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := DigitsOnly(tc.in); got != tc.want {
			t.Errorf("DigitsOnly(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeReference(t *testing.T) {
	if got := SanitizeReference("ref.abc/1#2[x]$"); got != "ref_abc_1_2_x__" {
		t.Errorf("SanitizeReference = %q", got)
	}
	if got := SanitizeReference("  ref_plain  "); got != "ref_plain" {
		t.Errorf("SanitizeReference trims: got %q", got)
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(1.236); got != 1.24 {
		t.Errorf("Round2(1.236) = %v", got)
	}
	if got := Round2(15.0 - 0.1 - 0.1 - 0.1); got != 14.70 {
		t.Errorf("Round2 float drift: got %v", got)
	}
}
