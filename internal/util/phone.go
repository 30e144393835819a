package util

import (
	"regexp"
	"strings"
)

var e164Re = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// NormalizePhone coerces a free-form phone value into E.164. Already-valid
// numbers pass through untouched. Otherwise all non-digits are stripped; a
// value that already begins with the default country code keeps it, a bare
// national number gets the default country code prepended. Unsalvageable
// input returns "" so callers can skip instead of dialing garbage.
func NormalizePhone(raw, defaultCountryCode string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if e164Re.MatchString(s) {
		return s
	}

	digits := stripNonDigits(s)
	if digits == "" {
		return ""
	}
	cc := stripNonDigits(defaultCountryCode)

	if cc != "" && strings.HasPrefix(digits, cc) && len(digits) >= len(cc)+8 && len(digits) <= 15 {
		return "+" + digits
	}
	if len(digits) >= 7 && len(digits) <= 15 {
		if cc != "" && len(cc)+len(digits) <= 15 {
			return "+" + cc + digits
		}
		return "+" + digits
	}
	return ""
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}
