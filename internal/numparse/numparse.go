// Package numparse converts localized numeral substrings into signed
// integers. Norwegian filings group digits with spaces, periods or commas
// and write negatives in parentheses; this parser accepts all of them.
package numparse

import (
	"strconv"
	"strings"
	"unicode"
)

// maxDigits bounds the accepted magnitude. Anything longer is noise
// (concatenated table cells, phone numbers, identifiers).
const maxDigits = 15

// Parse converts a grouped numeral substring into a signed integer.
// "348 197" -> 348197, "(348 197)" -> -348197, "1.234.567" -> 1234567.
// The second return value is false when no plausible number is present.
// Parse is total: malformed input yields (0, false), never a panic.
func Parse(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "−") {
		negative = true
		s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "−")
	}

	var digits strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == ' ', r == ' ', r == ' ', r == '.', r == ',', r == '\t':
			// group separators
		default:
			return 0, false
		}
	}

	run := digits.String()
	if run == "" || len(run) > maxDigits {
		return 0, false
	}

	v, err := strconv.ParseInt(run, 10, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}
