package sites

import (
	"context"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"auction_scraper/browser"
	"auction_scraper/config"
	"auction_scraper/extraction"
	"auction_scraper/models"
	"auction_scraper/scraper"
)

var titleRegex = regexp.MustCompile(`^\s*((?:19|20)\d{2})\s+(\S+)\s+(\S+)\s*(.*)$`)

// detailLabels maps IAAI data-list labels to detail record keys.
var detailLabels = map[string]string{
	"vin":                   "vin",
	"vin (status)":          "vin",
	"engine":                "engine",
	"transmission":          "transmission",
	"drive line type":       "drive_type",
	"fuel type":             "fuel_type",
	"exterior/interior":     "color",
	"key":                   "keys",
	"keys":                  "keys",
	"airbags":               "airbags",
	"seller":                "seller",
	"title/sale doc":        "title_type",
	"odometer":              "miles",
	"primary damage":        "damage_type",
	"secondary damage":      "secondary_damage",
	"start code":            "condition",
	"selling branch":        "location",
	"auction date and time": "sale_date",
	"vehicle":               "title",
	"series":                "trim",
	"vehicle highlights":    "description",
}

// IAAI search results are server rendered, so listings and details are parsed
// directly from the page with goquery.
type IAAI struct {
	base
}

func NewIAAI(cfg *config.SiteConfig) scraper.Adapter {
	return &IAAI{base{cfg: cfg}}
}

func (a *IAAI) Login(ctx context.Context, d browser.Driver, username, password string) bool {
	return a.formLogin(ctx, d, username, password)
}

// Search submits a keyword query built from the criteria; IAAI's keyword box
// accepts "year make model".
func (a *IAAI) Search(ctx context.Context, d browser.Driver, criteria models.SearchCriteria) bool {
	if !d.Navigate(ctx, a.cfg.URL("search")) {
		return false
	}
	d.Delay(ctx)
	browser.DismissConsent(ctx, d)

	if !d.Fill(ctx, a.sel("search", "keyword_input"), keywords(criteria)) {
		return false
	}
	d.Delay(ctx)
	if !d.Click(ctx, a.sel("search", "search_button")) {
		return false
	}
	if ready := a.sel("search", "results_ready"); ready != "" && !d.WaitFor(ctx, ready, a.cfg.Timeout("page_load")) {
		return false
	}
	return d.WaitForLoad(ctx)
}

func keywords(c models.SearchCriteria) string {
	var parts []string
	if c.YearMin != nil && c.YearMax != nil && *c.YearMin == *c.YearMax {
		parts = append(parts, strconv.Itoa(*c.YearMin))
	}
	parts = append(parts, c.Make)
	if c.Model != "" {
		parts = append(parts, c.Model)
	}
	return strings.Join(parts, " ")
}

func (a *IAAI) HasNextPage(ctx context.Context, d browser.Driver) bool {
	return a.hasNext(ctx, d)
}

func (a *IAAI) GoNextPage(ctx context.Context, d browser.Driver) bool {
	return a.goNext(ctx, d)
}

func (a *IAAI) ListingURL(id string) string {
	return a.listingURL("vehicle", id)
}

func (a *IAAI) Hooks() scraper.Hooks {
	return scraper.Hooks{
		IsLoggedIn:      a.loggedIn,
		ExtractListings: a.extractListings,
		ExtractDetail:   a.extractDetail,
		Hints: func() extraction.Hints {
			return extraction.Hints{
				IDField:         "Stock #",
				PriceField:      "Current Bid",
				Notes:           []string{"Titles read 'YEAR MAKE MODEL TRIM'; split them into the separate fields."},
				ContentSelector: a.sel("search", "results_ready"),
				ContentMarkers:  []string{"table-body", "data-stocknumber"},
				Markdown:        true,
				BaseURL:         a.origin(),
			}
		},
	}
}

// extractListings defers to the AI fallback when the results container is
// missing, so a layout change degrades instead of failing.
func (a *IAAI) extractListings(content string) extraction.Result {
	if trigger := browser.DetectBlock(content, "data-stocknumber"); trigger != "" {
		return extraction.Fail("blocked: %s", trigger)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return extraction.Fail("parse html: %v", err)
	}

	container := a.sel("search", "results_ready")
	if container == "" || doc.Find(container).Length() == 0 {
		return extraction.Defer()
	}

	origin := a.origin()
	var records []models.RawRecord
	doc.Find(a.sel("results", "row")).Each(func(_ int, row *goquery.Selection) {
		rec := a.parseRow(row, origin)
		if rec.ID() == "" {
			return
		}
		records = append(records, rec)
	})
	return extraction.Resolve(records...)
}

func (a *IAAI) parseRow(row *goquery.Selection, origin string) models.RawRecord {
	text := func(name string) string {
		sel := a.sel("results", name)
		if sel == "" {
			return ""
		}
		return strings.TrimSpace(row.Find(sel).First().Text())
	}

	rec := models.RawRecord{}
	id, _ := row.Attr(a.sel("results", "id_attr"))
	link := row.Find(a.sel("results", "link")).First()
	href, _ := link.Attr("href")
	if id == "" && href != "" {
		id = path.Base(strings.TrimRight(strings.SplitN(href, "?", 2)[0], "/"))
	}
	rec["id"] = id
	if href != "" {
		rec["url"] = absolute(origin, href)
	} else if u := a.ListingURL(id); u != "" {
		rec["url"] = u
	}

	splitTitle(rec, text("title"))
	setIf(rec, "miles", text("odometer"))
	setIf(rec, "damage_type", text("primary_damage"))
	setIf(rec, "secondary_damage", text("secondary_damage"))
	setIf(rec, "location", text("location"))
	setIf(rec, "sale_date", text("sale_date"))
	setIf(rec, "current_bid", text("current_bid"))
	setIf(rec, "buy_now_price", text("buy_now"))

	if img := row.Find(a.sel("results", "thumbnail")).First(); img.Length() > 0 {
		src := img.AttrOr("data-src", "")
		if src == "" {
			src = img.AttrOr("src", "")
		}
		if src != "" {
			rec["thumbnail_url"] = absolute(origin, src)
		}
	}
	return rec
}

// extractDetail reads the label/value data list and the image gallery. When
// neither is present it defers to the AI fallback.
func (a *IAAI) extractDetail(content string) extraction.Result {
	if trigger := browser.DetectBlock(content, "data-list__label"); trigger != "" {
		return extraction.Fail("blocked: %s", trigger)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return extraction.Fail("parse html: %v", err)
	}

	rec := models.RawRecord{}
	doc.Find(a.sel("detail", "item")).Each(func(_ int, item *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(item.Find(a.sel("detail", "label")).First().Text()), ":")))
		key, ok := detailLabels[label]
		if !ok {
			return
		}
		value := strings.Join(strings.Fields(item.Find(a.sel("detail", "value")).First().Text()), " ")
		if key == "title" {
			splitTitle(rec, value)
			return
		}
		if _, seen := rec[key]; !seen {
			setIf(rec, key, value)
		}
	})

	if vin := doc.Find(a.sel("detail", "vin")).First(); vin.Length() > 0 {
		if v, ok := vin.Attr("data-vin"); ok && strings.TrimSpace(v) != "" {
			rec["vin"] = v
		} else if _, seen := rec["vin"]; !seen {
			setIf(rec, "vin", vin.Text())
		}
	}

	origin := a.origin()
	var images []any
	doc.Find(a.sel("detail", "images")).Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"data-full", "data-src", "src"} {
			if src := img.AttrOr(attr, ""); src != "" {
				images = append(images, absolute(origin, src))
				return
			}
		}
	})
	if len(images) > 0 {
		rec["images"] = images
	}
	if desc := a.sel("detail", "description"); desc != "" {
		setIf(rec, "description", doc.Find(desc).First().Text())
	}

	if len(rec) == 0 {
		return extraction.Defer()
	}
	return extraction.Resolve(rec)
}

// splitTitle fills year, make, model and trim from "2019 HONDA ACCORD SPORT".
func splitTitle(rec models.RawRecord, title string) {
	m := titleRegex.FindStringSubmatch(strings.Join(strings.Fields(title), " "))
	if m == nil {
		return
	}
	rec["year"] = m[1]
	rec["make"] = m[2]
	rec["model"] = m[3]
	setIf(rec, "trim", m[4])
}

func setIf(rec models.RawRecord, key, value string) {
	value = strings.TrimSpace(value)
	if value != "" {
		rec[key] = value
	}
}
