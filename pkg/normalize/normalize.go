// Package normalize turns raw OCR tokens into canonical field values.
package normalize

import (
	"regexp"
	"strings"

	"github.com/menta2k/card-analyzer/pkg/types"
)

// Formatter builds a field value from token texts in recognition order.
type Formatter func(texts []string) string

var expiryToken = regexp.MustCompile(`^[0-9/]+$`)

// CardNumber concatenates the tokens without separators.
func CardNumber(texts []string) string {
	return strings.Join(texts, "")
}

// Cardholder joins the tokens with single spaces and upper-cases the result.
func Cardholder(texts []string) string {
	return strings.ToUpper(strings.Join(texts, " "))
}

// ExpiryDate keeps only tokens made of digits and slashes and concatenates
// them, so labels like "EXP" or "VALID THRU" are dropped.
func ExpiryDate(texts []string) string {
	var b strings.Builder
	for _, t := range texts {
		if expiryToken.MatchString(t) {
			b.WriteString(t)
		}
	}
	return b.String()
}

// ForField returns the formatter for f. Unknown fields are concatenated.
func ForField(f types.Field) Formatter {
	switch f {
	case types.FieldCardholder:
		return Cardholder
	case types.FieldExpiryDate:
		return ExpiryDate
	default:
		return CardNumber
	}
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
