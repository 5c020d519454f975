package models

import (
	"time"

	"github.com/google/uuid"
)

// SearchStats is what RunSearch reports, including partial progress.
type SearchStats struct {
	RunID       uuid.UUID `json:"run_id"`
	Site        string    `json:"site"`
	Listings    int       `json:"listings"`
	Pages       int       `json:"pages"`
	Errors      int       `json:"errors"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Error       string    `json:"error,omitempty"`
	Err         error     `json:"-"`
}

type DetailStats struct {
	RunID     uuid.UUID `json:"run_id"`
	Site      string    `json:"site"`
	Processed int       `json:"processed"`
	Success   int       `json:"success"`
	Errors    int       `json:"errors"`
	Error     string    `json:"error,omitempty"`
	Err       error     `json:"-"`
}

type SiteStats struct {
	Site           string     `json:"site" db:"site"`
	TotalListings  int        `json:"total_listings" db:"total_listings"`
	DetailsFetched int        `json:"details_fetched" db:"details_fetched"`
	UniqueMakes    int        `json:"unique_makes" db:"unique_makes"`
	UniqueModels   int        `json:"unique_models" db:"unique_models"`
	UniqueVINs     int        `json:"unique_vins" db:"unique_vins"`
	FirstScraped   *time.Time `json:"first_scraped,omitempty" db:"first_scraped"`
	LastScraped    *time.Time `json:"last_scraped,omitempty" db:"last_scraped"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	LastRunStatus  *string    `json:"last_run_status,omitempty" db:"last_run_status"`
}

// ListingFilter narrows ListListings. Make and Model match case-insensitive substrings.
type ListingFilter struct {
	Site    string
	Make    string
	Model   string
	YearMin *int
	YearMax *int
	Limit   int
	Offset  int
}

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}
