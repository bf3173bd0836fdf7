package orderstatus

import (
	"regexp"
	"strings"
)

// referencePattern matches order-number-like tokens in free text:
// "#10234", "ORD-4412", "order 99831", a bare run of digits, or a short
// alpha prefix followed by digits.
var referencePattern = regexp.MustCompile(`(?i)#?\b([A-Z]{2,5}-?\d{3,}|\d{4,})\b`)

// ExtractReference pulls the first order-reference candidate out of a
// customer message. Returns the empty string when nothing usable is
// found.
func ExtractReference(message string) string {
	m := referencePattern.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimPrefix(m[1], "#"))
}
