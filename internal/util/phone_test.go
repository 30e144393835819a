package util

import "testing"

func TestNormalizePhonePassThrough(t *testing.T) {
	got := NormalizePhone("+15551234567", "1")
	if got != "+15551234567" {
		t.Fatalf("expected pass-through, got %q", got)
	}
}

func TestNormalizePhoneFormatted(t *testing.T) {
	got := NormalizePhone("(555) 123-4567", "1")
	if got != "+15551234567" {
		t.Fatalf("expected +15551234567, got %q", got)
	}
}

func TestNormalizePhoneCountryCodeAlreadyPresent(t *testing.T) {
	// 11 digits starting with the default country code keep it.
	got := NormalizePhone("1-555-123-4567", "1")
	if got != "+15551234567" {
		t.Fatalf("expected +15551234567, got %q", got)
	}
}

func TestNormalizePhonePlusStrippedByForm(t *testing.T) {
	// "+44 20 7946 0958" with a UK default
	got := NormalizePhone("44 20 7946 0958", "44")
	if got != "+442079460958" {
		t.Fatalf("expected +442079460958, got %q", got)
	}
}

func TestNormalizePhoneNoDefaultCode(t *testing.T) {
	got := NormalizePhone("555-123-4567", "")
	if got != "+5551234567" {
		t.Fatalf("expected bare plus prefix, got %q", got)
	}
}

func TestNormalizePhoneUnsalvageable(t *testing.T) {
	cases := []string{"", "garbage", "123", "12345678901234567890"}
	for _, in := range cases {
		if got := NormalizePhone(in, "1"); got != "" {
			t.Fatalf("expected empty for %q, got %q", in, got)
		}
	}
}
