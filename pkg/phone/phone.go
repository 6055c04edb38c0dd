package phone

import (
	"errors"
	"regexp"
	"strings"
)

// E.164: leading +, country code 1-9, up to 15 digits total.
var e164 = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)

var ErrInvalid = errors.New("phone: not a valid E.164 number")

// Normalize converts a raw adjuster phone into E.164. Numbers that do not
// start with "+" are assumed to be US/Canada: non-digits are stripped and
// "+1" is prepended. The result is validated before use.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalid
	}

	if !strings.HasPrefix(s, "+") {
		digits := stripNonDigits(s)
		// A leading 1 on a 11-digit national number is already the country code.
		if len(digits) == 11 && strings.HasPrefix(digits, "1") {
			s = "+" + digits
		} else {
			s = "+1" + digits
		}
	} else {
		s = "+" + stripNonDigits(s[1:])
	}

	// Shortest assignable numbers worldwide are 8 digits; anything below is junk
	// input (extensions, partial entries) rather than a dialable number.
	if !e164.MatchString(s) || len(s) < 9 {
		return "", ErrInvalid
	}
	return s, nil
}

// Valid reports whether raw normalizes to a valid E.164 number.
func Valid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
