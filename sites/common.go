package sites

import (
	"context"
	"log"
	"net/url"
	"strings"

	"auction_scraper/browser"
	"auction_scraper/config"
)

// base carries the selector-driven steps shared by form-based auction sites.
type base struct {
	cfg *config.SiteConfig
}

func (b base) sel(group, name string) string {
	return b.cfg.Selector(group, name)
}

// formLogin fills the configured login form and waits for either the success
// indicator or the error message to appear.
func (b base) formLogin(ctx context.Context, d browser.Driver, username, password string) bool {
	if !d.Navigate(ctx, b.cfg.URL("login")) {
		return false
	}
	d.Delay(ctx)
	browser.DismissConsent(ctx, d)

	if !d.Fill(ctx, b.sel("login", "username"), username) {
		return false
	}
	d.Delay(ctx)
	if !d.Fill(ctx, b.sel("login", "password"), password) {
		return false
	}
	d.Delay(ctx)
	if !d.Click(ctx, b.sel("login", "submit")) {
		return false
	}

	success := b.sel("login", "success_indicator")
	failure := b.sel("login", "error_message")
	waitOn := success
	if failure != "" {
		waitOn = success + ", " + failure
	}
	if !d.WaitFor(ctx, waitOn, b.cfg.Timeout("navigation")) {
		log.Printf("[%s] login: no success or error indicator appeared", b.cfg.ID)
		return false
	}
	if d.Exists(ctx, success) {
		return true
	}
	if msg, ok := d.Text(ctx, failure); ok {
		log.Printf("[%s] login rejected: %s", b.cfg.ID, strings.TrimSpace(msg))
	}
	return false
}

func (b base) loggedIn(ctx context.Context, d browser.Driver) bool {
	sel := b.sel("login", "success_indicator")
	return sel != "" && d.Exists(ctx, sel)
}

// hasNext reports whether the next-page control exists and is enabled.
func (b base) hasNext(ctx context.Context, d browser.Driver) bool {
	sel := b.sel("results", "pagination_next")
	if sel == "" || !d.Exists(ctx, sel) {
		return false
	}
	if _, disabled := d.Attribute(ctx, sel, "disabled"); disabled {
		return false
	}
	if v, ok := d.Attribute(ctx, sel, "aria-disabled"); ok && v == "true" {
		return false
	}
	class, _ := d.Attribute(ctx, sel, "class")
	return !strings.Contains(class, "disabled")
}

func (b base) goNext(ctx context.Context, d browser.Driver) bool {
	if !b.hasNext(ctx, d) {
		return false
	}
	if !d.Click(ctx, b.sel("results", "pagination_next")) {
		return false
	}
	d.Delay(ctx)
	return d.WaitForLoad(ctx)
}

// listingURL fills {id} in the named URL template.
func (b base) listingURL(name, id string) string {
	tmpl := b.cfg.URL(name)
	if tmpl == "" || id == "" {
		return ""
	}
	return strings.ReplaceAll(tmpl, "{id}", url.PathEscape(id))
}

func (b base) origin() string {
	for _, key := range []string{"home", "search", "login"} {
		if u, err := url.Parse(b.cfg.URL(key)); err == nil && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return ""
}

// absolute resolves href against the site origin.
func absolute(origin, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	o, err := url.Parse(origin)
	if err != nil || origin == "" {
		return href
	}
	return o.ResolveReference(ref).String()
}
