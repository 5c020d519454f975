package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"auction_scraper/models"
)

// MaxDetailAttempts is how many failed detail fetches a listing gets before it
// leaves the pending queue.
const MaxDetailAttempts = 3

// Column order shared by both backends. Key columns come first and are never
// part of the merge set.
var (
	listingKey = []string{"source_site", "id"}

	listingFields = []string{
		"url", "year", "make", "model", "trim", "miles", "current_bid", "buy_now_price",
		"condition", "damage_type", "secondary_damage", "location", "sale_date", "thumbnail_url",
	}

	detailFields = []string{
		"vin", "engine", "transmission", "drive_type", "fuel_type", "color", "interior_color",
		"keys", "airbags", "seller", "title_type", "images", "description",
	}
)

func listingColumns() []string {
	cols := append([]string{}, listingKey...)
	cols = append(cols, listingFields...)
	return append(cols, "scraped_at", "updated_at")
}

func detailColumns() []string {
	cols := append([]string{}, listingKey...)
	cols = append(cols, detailFields...)
	return append(cols, "fetched_at", "updated_at")
}

// mergeSet renders the conflict update clause: a null incoming value keeps the
// stored one, and updated_at always moves forward.
func mergeSet(table string, fields []string) string {
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s = COALESCE(excluded.%s, %s.%s)", f, f, table, f))
	}
	parts = append(parts, "updated_at = excluded.updated_at")
	return strings.Join(parts, ",\n\t\t\t")
}

func placeholders(n int, numbered bool) string {
	ps := make([]string, n)
	for i := range ps {
		if numbered {
			ps[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ps[i] = "?"
		}
	}
	return strings.Join(ps, ", ")
}

func listingArgs(l *models.Listing) []any {
	return []any{
		l.SourceSite, l.ID,
		l.URL, l.Year, l.Make, l.Model, l.Trim, l.Miles, l.CurrentBid, l.BuyNowPrice,
		l.Condition, l.DamageType, l.SecondaryDamage, l.Location, l.SaleDate, l.ThumbnailURL,
		l.ScrapedAt, l.UpdatedAt,
	}
}

// listingDest returns scan targets in listingColumns order.
func listingDest(l *models.Listing) []any {
	return []any{
		&l.SourceSite, &l.ID,
		&l.URL, &l.Year, &l.Make, &l.Model, &l.Trim, &l.Miles, &l.CurrentBid, &l.BuyNowPrice,
		&l.Condition, &l.DamageType, &l.SecondaryDamage, &l.Location, &l.SaleDate, &l.ThumbnailURL,
		&l.ScrapedAt, &l.UpdatedAt,
	}
}

func joinCols(cols []string) string {
	return strings.Join(cols, ", ")
}

func qualify(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

func marshalCriteria(c *models.SearchCriteria) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func unmarshalCriteria(raw []byte) (*models.SearchCriteria, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var c models.SearchCriteria
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode criteria: %w", err)
	}
	return &c, nil
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
