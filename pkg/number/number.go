// Package number normalizes phone numbers to the carrier's local dialing
// format: a single leading zero followed by the national number.
package number

import "strings"

const countryCode = "91"

// Format strips non-digits, drops a leading country code from numbers longer
// than ten digits and prefixes a zero when missing. It does not validate;
// a malformed number is rejected later by the carrier.
func Format(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw) + 1)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	digits := sb.String()

	if strings.HasPrefix(digits, countryCode) && len(digits) > 10 {
		digits = digits[len(countryCode):]
	}
	if !strings.HasPrefix(digits, "0") {
		digits = "0" + digits
	}
	return digits
}
