package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const MinModelYear = 1900

var ErrMissingMake = errors.New("search criteria: make is required")

// SearchCriteria parameterizes one search run. Treat it as a value.
type SearchCriteria struct {
	Make     string `json:"make" yaml:"make"`
	Model    string `json:"model,omitempty" yaml:"model"`
	YearMin  *int   `json:"year_min,omitempty" yaml:"year_min"`
	YearMax  *int   `json:"year_max,omitempty" yaml:"year_max"`
	MaxMiles *int   `json:"max_miles,omitempty" yaml:"max_miles"`
	MaxPrice *int   `json:"max_price,omitempty" yaml:"max_price"`
}

// MaxModelYear is the newest model year accepted anywhere, next year's models included.
func MaxModelYear() int {
	return time.Now().Year() + 1
}

func (c SearchCriteria) Validate() error {
	if strings.TrimSpace(c.Make) == "" {
		return ErrMissingMake
	}
	maxYear := MaxModelYear()
	for name, y := range map[string]*int{"year_min": c.YearMin, "year_max": c.YearMax} {
		if y != nil && (*y < MinModelYear || *y > maxYear) {
			return fmt.Errorf("search criteria: %s %d outside [%d, %d]", name, *y, MinModelYear, maxYear)
		}
	}
	if c.YearMin != nil && c.YearMax != nil && *c.YearMin > *c.YearMax {
		return fmt.Errorf("search criteria: year_min %d after year_max %d", *c.YearMin, *c.YearMax)
	}
	if c.MaxMiles != nil && *c.MaxMiles < 0 {
		return fmt.Errorf("search criteria: max_miles must be non-negative")
	}
	if c.MaxPrice != nil && *c.MaxPrice < 0 {
		return fmt.Errorf("search criteria: max_price must be non-negative")
	}
	return nil
}

func (c SearchCriteria) String() string {
	s := c.Make
	if c.Model != "" {
		s += " " + c.Model
	}
	if c.YearMin != nil || c.YearMax != nil {
		s += fmt.Sprintf(" (%s-%s)", yearLabel(c.YearMin), yearLabel(c.YearMax))
	}
	return s
}

func yearLabel(y *int) string {
	if y == nil {
		return "any"
	}
	return fmt.Sprintf("%d", *y)
}
