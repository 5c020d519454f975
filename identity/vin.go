package identity

import (
	"regexp"
	"strings"
)

var (
	vinRegex        = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
	lotPrefixRegex  = regexp.MustCompile(`(?i)^(lot|stock|item)\s*(no\.?|number|#)?\s*[:#]?\s*`)
	multiSpaceRegex = regexp.MustCompile(`\s+`)
)

// NormalizeVIN returns the trimmed upper-case VIN, or "" when the input is
// not exactly 17 characters of A-Z/0-9 excluding I, O and Q. Separators
// inside the value are not repaired.
func NormalizeVIN(raw string) string {
	vin := strings.ToUpper(strings.TrimSpace(raw))
	if !vinRegex.MatchString(vin) {
		return ""
	}
	return vin
}

// NormalizeID trims lot/stock prefixes and stray whitespace from a site listing id.
func NormalizeID(raw string) string {
	id := strings.TrimSpace(raw)
	id = lotPrefixRegex.ReplaceAllString(id, "")
	id = strings.TrimPrefix(id, "#")
	id = multiSpaceRegex.ReplaceAllString(id, " ")
	return strings.TrimSpace(id)
}
