// Package phone canonicalizes phone numbers to E.164 before they are stored or dialed.
package phone

import (
	"errors"
	"strings"
)

var ErrInvalid = errors.New("invalid phone number")

// DefaultCountryCode is applied to bare 10 digit national numbers.
const DefaultCountryCode = "1"

// Normalize returns the E.164 form of raw ("+" followed by 8 to 15 digits).
// Punctuation and spaces are dropped, a leading "00" is read as an
// international prefix, and 10 digit numbers get DefaultCountryCode.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalid
	}

	plus := strings.HasPrefix(s, "+")
	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", ErrInvalid
		}
	}
	d := digits.String()

	if !plus {
		switch {
		case strings.HasPrefix(d, "00"):
			d = d[2:]
		case len(d) == 10:
			d = DefaultCountryCode + d
		}
	}

	if len(d) < 8 || len(d) > 15 || d[0] == '0' {
		return "", ErrInvalid
	}
	return "+" + d, nil
}

// Canonical is Normalize for lookups: unparseable input comes back trimmed
// instead of as an error.
func Canonical(raw string) string {
	n, err := Normalize(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return n
}
