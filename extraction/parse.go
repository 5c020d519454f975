package extraction

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"auction_scraper/models"
)

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		first := strings.TrimSpace(s[:nl])
		if first == "" || !strings.ContainsAny(first, "[{") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// decode requires s to hold exactly one JSON value.
func decode(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// parseListings accepts only a JSON array. Non-object elements are dropped;
// anything unparsable yields nil.
func parseListings(raw string) []models.RawRecord {
	var items []any
	if err := decode(stripFences(raw), &items); err != nil {
		return nil
	}
	out := make([]models.RawRecord, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, models.RawRecord(obj))
		}
	}
	return out
}

// parseDetail accepts only a JSON object.
func parseDetail(raw string) (models.RawRecord, bool) {
	var obj map[string]any
	if err := decode(stripFences(raw), &obj); err != nil || obj == nil {
		return nil, false
	}
	return models.RawRecord(obj), true
}
