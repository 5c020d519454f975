package models

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"auction_scraper/identity"
)

var numberRegex = regexp.MustCompile(`\d+(?:\.\d+)?`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
	"Jan 2, 2006",
	"Mon Jan 2, 2006",
	"January 2, 2006",
}

// ID returns the normalized record id, or "" when absent.
func (r RawRecord) ID() string {
	switch v := r["id"].(type) {
	case string:
		return placeholderless(identity.NormalizeID(v))
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return placeholderless(identity.NormalizeID(v.String()))
	}
	return ""
}

// placeholder reports values extractors emit in place of a missing field.
func placeholder(s string) bool {
	return s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") || strings.EqualFold(s, "none")
}

func placeholderless(s string) string {
	if placeholder(s) {
		return ""
	}
	return s
}

// Str returns a trimmed non-empty string value, or nil.
func (r RawRecord) Str(key string) *string {
	var s string
	switch v := r[key].(type) {
	case string:
		s = v
	case float64, int, int64, json.Number:
		s = fmt.Sprint(v)
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	if placeholder(s) {
		return nil
	}
	return &s
}

// Int accepts numbers and strings such as "$12,500" or "84,211 mi".
// Negative or unparsable values yield nil.
func (r RawRecord) Int(key string) *int {
	var f float64
	switch v := r[key].(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		cleaned := strings.ReplaceAll(v, ",", "")
		if strings.HasPrefix(strings.TrimSpace(cleaned), "-") {
			return nil
		}
		m := numberRegex.FindString(cleaned)
		if m == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 {
		return nil
	}
	n := int(math.Round(f))
	return &n
}

// Year is Int bounded to [MinModelYear, MaxModelYear()].
func (r RawRecord) Year(key string) *int {
	y := r.Int(key)
	if y == nil || *y < MinModelYear || *y > MaxModelYear() {
		return nil
	}
	return y
}

func (r RawRecord) Time(key string) *time.Time {
	s := r.Str(key)
	if s == nil {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// VIN returns the normalized VIN or nil; an invalid VIN never rejects the record.
func (r RawRecord) VIN(key string) *string {
	s := r.Str(key)
	if s == nil {
		return nil
	}
	vin := identity.NormalizeVIN(*s)
	if vin == "" {
		return nil
	}
	return &vin
}

// Strings collects non-empty unique strings in order.
func (r RawRecord) Strings(key string) []string {
	var raw []any
	switch v := r[key].(type) {
	case []any:
		raw = v
	case []string:
		for _, s := range v {
			raw = append(raw, s)
		}
	case string:
		raw = []any{v}
	default:
		return nil
	}
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
