package vat

import (
	"regexp"
	"strings"
)

var vatNumberPattern = regexp.MustCompile(`^[A-Z0-9]{2,15}$`)

// sanitizeVATNumber strips whitespace and dots and upper-cases the rest so
// stored and compared numbers share one form.
func sanitizeVATNumber(vatNumber string) string {
	if vatNumber == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '.' {
			return -1
		}
		return r
	}, vatNumber)
	return strings.ToUpper(cleaned)
}

// IsB2BNumber reports whether a sanitized VAT number looks like a business
// registration. No registry is consulted.
func IsB2BNumber(vatNumber string) bool {
	return vatNumberPattern.MatchString(sanitizeVATNumber(vatNumber))
}
