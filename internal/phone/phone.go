// Package phone normalizes phone numbers to a single canonical
// international form. Every component in the platform keys on the
// canonical form; raw gateway identifiers must pass through Normalize
// before any lookup or storage operation.
package phone

import (
	"fmt"
	"strings"
)

// Canonical form is "+" followed by the country code and subscriber
// number, digits only. Examples: +18091234567, +525512345678.

// Normalize converts a raw phone number to canonical form. Formatting
// characters (spaces, dashes, dots, parentheses) are stripped. A
// leading "+" or "00" marks the number as already international; bare
// national numbers are prefixed with countryCode. countryCode itself
// is digits only (e.g. "1" for NANP deployments).
func Normalize(raw, countryCode string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty phone number")
	}

	// Gateway sender IDs sometimes carry a device or server suffix
	// ("18091234567@s.whatsapp.net", "18091234567:12"). Keep only the
	// subscriber part.
	if idx := strings.IndexAny(s, "@:"); idx >= 0 {
		s = s[:idx]
	}

	international := false
	if strings.HasPrefix(s, "+") {
		international = true
		s = s[1:]
	}

	digits, err := digitsOnly(s)
	if err != nil {
		return "", err
	}

	if !international && strings.HasPrefix(digits, "00") {
		international = true
		digits = digits[2:]
	}

	if len(digits) < 7 {
		return "", fmt.Errorf("phone number too short: %q", raw)
	}

	if international {
		return "+" + digits, nil
	}

	cc, err := digitsOnly(countryCode)
	if err != nil || cc == "" {
		return "", fmt.Errorf("invalid country code %q", countryCode)
	}

	// A national number longer than ten digits that already starts
	// with the country code is treated as fully qualified. This is how
	// most WhatsApp gateways report senders.
	if len(digits) > 10 && strings.HasPrefix(digits, cc) {
		return "+" + digits, nil
	}

	return "+" + cc + digits, nil
}

// digitsOnly strips formatting characters and rejects anything else.
func digitsOnly(s string) (string, error) {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// formatting, ignore
		default:
			return "", fmt.Errorf("invalid character %q in phone number", r)
		}
	}
	return sb.String(), nil
}
