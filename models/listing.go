package models

import (
	"errors"
	"time"
)

var ErrMissingID = errors.New("listing: id is required")

// RawRecord is one extracted field map before validation.
type RawRecord map[string]any

// Listing is a search-result row keyed by (SourceSite, ID). Nil fields are
// unknown and never overwrite stored values.
type Listing struct {
	SourceSite      string     `json:"source_site" db:"source_site"`
	ID              string     `json:"id" db:"id"`
	URL             *string    `json:"url,omitempty" db:"url"`
	Year            *int       `json:"year,omitempty" db:"year"`
	Make            *string    `json:"make,omitempty" db:"make"`
	Model           *string    `json:"model,omitempty" db:"model"`
	Trim            *string    `json:"trim,omitempty" db:"trim"`
	Miles           *int       `json:"miles,omitempty" db:"miles"`
	CurrentBid      *int       `json:"current_bid,omitempty" db:"current_bid"`
	BuyNowPrice     *int       `json:"buy_now_price,omitempty" db:"buy_now_price"`
	Condition       *string    `json:"condition,omitempty" db:"condition"`
	DamageType      *string    `json:"damage_type,omitempty" db:"damage_type"`
	SecondaryDamage *string    `json:"secondary_damage,omitempty" db:"secondary_damage"`
	Location        *string    `json:"location,omitempty" db:"location"`
	SaleDate        *time.Time `json:"sale_date,omitempty" db:"sale_date"`
	ThumbnailURL    *string    `json:"thumbnail_url,omitempty" db:"thumbnail_url"`
	ScrapedAt       time.Time  `json:"scraped_at" db:"scraped_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Detail extends a Listing with the detail page fields.
type Detail struct {
	Listing
	VIN           *string  `json:"vin,omitempty" db:"vin"`
	Engine        *string  `json:"engine,omitempty" db:"engine"`
	Transmission  *string  `json:"transmission,omitempty" db:"transmission"`
	DriveType     *string  `json:"drive_type,omitempty" db:"drive_type"`
	FuelType      *string  `json:"fuel_type,omitempty" db:"fuel_type"`
	Color         *string  `json:"color,omitempty" db:"color"`
	InteriorColor *string  `json:"interior_color,omitempty" db:"interior_color"`
	Keys          *string  `json:"keys,omitempty" db:"keys"`
	Airbags       *string  `json:"airbags,omitempty" db:"airbags"`
	Seller        *string  `json:"seller,omitempty" db:"seller"`
	TitleType     *string  `json:"title_type,omitempty" db:"title_type"`
	Images        []string `json:"images,omitempty" db:"images"`
	Description   *string  `json:"description,omitempty" db:"description"`
}

// ListingFromRecord validates one raw record. A missing id is the only
// rejection; out-of-range or malformed optional fields become nil.
func ListingFromRecord(site string, rec RawRecord) (*Listing, error) {
	id := rec.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	now := time.Now().UTC()
	return &Listing{
		SourceSite:      site,
		ID:              id,
		URL:             rec.Str("url"),
		Year:            rec.Year("year"),
		Make:            rec.Str("make"),
		Model:           rec.Str("model"),
		Trim:            rec.Str("trim"),
		Miles:           rec.Int("miles"),
		CurrentBid:      rec.Int("current_bid"),
		BuyNowPrice:     rec.Int("buy_now_price"),
		Condition:       rec.Str("condition"),
		DamageType:      rec.Str("damage_type"),
		SecondaryDamage: rec.Str("secondary_damage"),
		Location:        rec.Str("location"),
		SaleDate:        rec.Time("sale_date"),
		ThumbnailURL:    rec.Str("thumbnail_url"),
		ScrapedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// DetailFromRecord validates a detail record for the given listing. The
// record always takes the listing's id; its url is used when the record
// does not carry one.
func DetailFromRecord(base Listing, rec RawRecord) (*Detail, error) {
	if base.ID == "" {
		return nil, ErrMissingID
	}
	rec = rec.with("id", base.ID)
	if rec.Str("url") == nil && base.URL != nil {
		rec = rec.with("url", *base.URL)
	}
	l, err := ListingFromRecord(base.SourceSite, rec)
	if err != nil {
		return nil, err
	}
	return &Detail{
		Listing:       *l,
		VIN:           rec.VIN("vin"),
		Engine:        rec.Str("engine"),
		Transmission:  rec.Str("transmission"),
		DriveType:     rec.Str("drive_type"),
		FuelType:      rec.Str("fuel_type"),
		Color:         rec.Str("color"),
		InteriorColor: rec.Str("interior_color"),
		Keys:          rec.Str("keys"),
		Airbags:       rec.Str("airbags"),
		Seller:        rec.Str("seller"),
		TitleType:     rec.Str("title_type"),
		Images:        rec.Strings("images"),
		Description:   rec.Str("description"),
	}, nil
}

func (r RawRecord) with(key string, v any) RawRecord {
	out := make(RawRecord, len(r)+1)
	for k, val := range r {
		out[k] = val
	}
	out[key] = v
	return out
}
