package extraction

import (
	"strings"
	"unicode/utf8"
)

const (
	ListingBudget = 50000
	DetailBudget  = 40000

	markerBackup  = 1000
	tagCutWindow  = 2000
	truncatedNote = "\n<!-- content truncated -->"
)

var defaultMarkers = []string{"<table", "<tbody", "results", "listings", "lot-", "vehicle"}

// Truncate bounds content to budget bytes, truncation note included. The
// window starts shortly before the first content marker found in the first
// half of the page and ends on a tag boundary when one is near the cut.
func Truncate(content string, budget int, markers ...string) string {
	if budget <= len(truncatedNote) || len(content) <= budget {
		return content
	}

	start := 0
	lower := asciiLower(content)
	half := len(content) / 2
	all := append(append([]string{}, defaultMarkers...), markers...)
	for _, m := range all {
		if m == "" {
			continue
		}
		idx := strings.Index(lower, asciiLower(m))
		if idx >= 0 && idx < half {
			start = max(0, idx-markerBackup)
			break
		}
	}
	if start > 0 {
		if lt := strings.IndexByte(content[start:], '<'); lt >= 0 && lt < markerBackup {
			start += lt
		}
	}

	end := min(len(content), start+budget-len(truncatedNote))
	window := content[start:end]

	if gt := strings.LastIndexByte(window, '>'); gt >= 0 && gt > len(window)-tagCutWindow {
		window = window[:gt+1]
	}
	for len(window) > 0 {
		r, size := utf8.DecodeLastRuneInString(window)
		if r != utf8.RuneError || size > 1 {
			break
		}
		window = window[:len(window)-1]
	}
	for len(window) > 0 && !utf8.RuneStart(window[0]) {
		window = window[1:]
	}

	return window + truncatedNote
}

// asciiLower lowercases A-Z only, keeping byte offsets aligned with s.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
