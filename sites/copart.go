package sites

import (
	"context"
	"log"
	"strconv"
	"time"

	"auction_scraper/browser"
	"auction_scraper/config"
	"auction_scraper/extraction"
	"auction_scraper/models"
	"auction_scraper/scraper"
)

const dropdownTimeout = 5 * time.Second

// Copart is driven through the Vehicle Finder form. Result pages are rendered
// client side, so listing extraction goes through the AI fallback.
type Copart struct {
	base
}

func NewCopart(cfg *config.SiteConfig) scraper.Adapter {
	return &Copart{base{cfg: cfg}}
}

func (c *Copart) Login(ctx context.Context, d browser.Driver, username, password string) bool {
	return c.formLogin(ctx, d, username, password)
}

func (c *Copart) Search(ctx context.Context, d browser.Driver, criteria models.SearchCriteria) bool {
	if !d.Navigate(ctx, c.cfg.URL("search")) {
		return false
	}
	d.Delay(ctx)

	c.autocomplete(ctx, d, "make", criteria.Make)
	if criteria.Model != "" {
		c.autocomplete(ctx, d, "model", criteria.Model)
	}
	c.year(ctx, d, "year_from", criteria.YearMin)
	c.year(ctx, d, "year_to", criteria.YearMax)

	if !d.Click(ctx, c.sel("search", "search_button")) {
		return false
	}
	return d.WaitForLoad(ctx)
}

// autocomplete types into a typeahead and accepts the first suggestion. A
// missing dropdown is tolerated; the typed text is still submitted.
func (c *Copart) autocomplete(ctx context.Context, d browser.Driver, field, value string) {
	if value == "" {
		return
	}
	if !d.Fill(ctx, c.sel("search", field+"_input"), value) {
		return
	}
	d.Delay(ctx)
	if !d.WaitFor(ctx, c.sel("search", field+"_dropdown"), dropdownTimeout) {
		log.Printf("[%s] %s dropdown not found, continuing", c.cfg.ID, field)
		return
	}
	d.Press(ctx, "ArrowDown")
	d.Press(ctx, "Enter")
	d.Delay(ctx)
}

func (c *Copart) year(ctx context.Context, d browser.Driver, field string, year *int) {
	if year == nil {
		return
	}
	sel := c.sel("search", field)
	v := strconv.Itoa(*year)
	if !d.Select(ctx, sel, v) {
		log.Printf("[%s] %s is not a select, trying fill", c.cfg.ID, field)
		d.Fill(ctx, sel, v)
	}
	d.Delay(ctx)
}

func (c *Copart) HasNextPage(ctx context.Context, d browser.Driver) bool {
	return c.hasNext(ctx, d)
}

func (c *Copart) GoNextPage(ctx context.Context, d browser.Driver) bool {
	return c.goNext(ctx, d)
}

func (c *Copart) ListingURL(id string) string {
	return c.listingURL("lot", id)
}

func (c *Copart) Hooks() scraper.Hooks {
	return scraper.Hooks{
		PreLogin: func(ctx context.Context, d browser.Driver) {
			if d.Navigate(ctx, c.cfg.URL("home")) && !browser.PassChallenge(ctx, d) {
				log.Printf("[%s] bot challenge still present before login", c.cfg.ID)
			}
		},
		IsLoggedIn: c.loggedIn,
		ExtractListings: func(content string) extraction.Result {
			if trigger := browser.DetectBlock(content, "serverSideDataTable"); trigger != "" {
				return extraction.Fail("blocked: %s", trigger)
			}
			return extraction.Defer()
		},
		ExtractDetail: func(content string) extraction.Result {
			if trigger := browser.DetectBlock(content, "lot-details"); trigger != "" {
				return extraction.Fail("blocked: %s", trigger)
			}
			return extraction.Defer()
		},
		TransformListing: c.fillURL,
		TransformDetail:  c.fillURL,
		Hints: func() extraction.Hints {
			return extraction.Hints{
				IDField:    "Lot #",
				PriceField: "Current Bid",
				Notes: []string{
					"Lot numbers are 8 digit numbers; use them as id.",
					"Odometer may be marked ACTUAL or NOT ACTUAL; return the number only.",
					"Sale date is shown as 'Sale Date' or as a countdown; prefer the calendar date.",
				},
				ContentSelector: c.sel("results", "table"),
				ContentMarkers:  []string{"serverSideDataTable", "p-datatable"},
				BaseURL:         c.origin(),
			}
		},
	}
}

// fillURL makes record links absolute and builds one from the lot template
// when the page did not expose it.
func (c *Copart) fillURL(rec models.RawRecord) models.RawRecord {
	if u := rec.Str("url"); u != nil {
		rec["url"] = absolute(c.origin(), *u)
		return rec
	}
	if u := c.ListingURL(rec.ID()); u != "" {
		rec["url"] = u
	}
	return rec
}
