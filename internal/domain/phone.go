package domain

import "strings"

// MinPhoneDigits is the shortest number accepted as dialable.
const MinPhoneDigits = 6

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")

// NormalizePhone strips formatting and ensures a leading '+'. It is
// idempotent, so it is safe to apply both on resolve and on dispatch.
func NormalizePhone(raw string) string {
	p := phoneSeparators.Replace(strings.TrimSpace(raw))
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p
}

// DialablePhone reports whether a normalized number has enough digits.
func DialablePhone(normalized string) bool {
	digits := 0
	for _, r := range normalized {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= MinPhoneDigits
}
