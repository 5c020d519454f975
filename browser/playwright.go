package browser

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

type PlaywrightDriver struct {
	opts  Options
	pacer *Pacer

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func NewPlaywrightDriver(opts Options) *PlaywrightDriver {
	opts = opts.withDefaults()
	return &PlaywrightDriver{opts: opts, pacer: NewPacer(opts.MinDelay, opts.MaxDelay)}
}

func (d *PlaywrightDriver) Start(ctx context.Context, headless bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page != nil {
		return nil
	}

	var err error
	d.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args:     launchArgs,
	}
	if d.opts.Bin != "" {
		launch.ExecutablePath = playwright.String(d.opts.Bin)
	}
	if d.opts.ProxyURL != "" {
		launch.Proxy = &playwright.Proxy{Server: d.opts.ProxyURL}
	}

	d.browser, err = d.pw.Chromium.Launch(launch)
	if err != nil {
		d.release()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	d.context, err = d.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(d.opts.UserAgent),
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
		Locale:    playwright.String("en-US"),
	})
	if err != nil {
		d.release()
		return fmt.Errorf("failed to create context: %w", err)
	}

	if err := d.context.AddInitScript(playwright.Script{Content: playwright.String(stealthInitScript)}); err != nil {
		log.Printf("[%s] init script not installed: %v", d.opts.Site, err)
	}

	d.page, err = d.context.NewPage()
	if err != nil {
		d.release()
		return fmt.Errorf("failed to create page: %w", err)
	}
	d.page.SetDefaultTimeout(ms(d.opts.ElementTimeout))
	d.page.SetDefaultNavigationTimeout(ms(d.opts.NavigationTimeout))

	log.Printf("[%s] playwright browser started (headless=%t)", d.opts.Site, headless)
	return nil
}

// Close releases page, context, browser and the playwright process. Safe to
// call more than once.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release()
}

func (d *PlaywrightDriver) release() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.page != nil {
		keep(d.page.Close())
		d.page = nil
	}
	if d.context != nil {
		keep(d.context.Close())
		d.context = nil
	}
	if d.browser != nil {
		keep(d.browser.Close())
		d.browser = nil
	}
	if d.pw != nil {
		keep(d.pw.Stop())
		d.pw = nil
	}
	return firstErr
}

func (d *PlaywrightDriver) active(ctx context.Context, op string) bool {
	if ctx.Err() != nil {
		return false
	}
	if d.page == nil {
		log.Printf("[%s] %s: browser not started", d.opts.Site, op)
		return false
	}
	return true
}

func (d *PlaywrightDriver) soft(op, target string, err error) bool {
	if err != nil {
		log.Printf("[%s] %s %s failed: %v", d.opts.Site, op, target, err)
		return false
	}
	return true
}

func (d *PlaywrightDriver) Navigate(ctx context.Context, url string) bool {
	if !d.active(ctx, "navigate") {
		return false
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(ms(d.opts.NavigationTimeout)),
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	return d.soft("navigate", url, err)
}

func (d *PlaywrightDriver) Click(ctx context.Context, selector string) bool {
	if !d.active(ctx, "click") {
		return false
	}
	err := d.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(ms(d.opts.ElementTimeout)),
	})
	return d.soft("click", selector, err)
}

func (d *PlaywrightDriver) Fill(ctx context.Context, selector, value string) bool {
	if !d.active(ctx, "fill") {
		return false
	}
	err := d.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(ms(d.opts.ElementTimeout)),
	})
	return d.soft("fill", selector, err)
}

func (d *PlaywrightDriver) Select(ctx context.Context, selector, value string) bool {
	if !d.active(ctx, "select") {
		return false
	}
	_, err := d.page.Locator(selector).First().SelectOption(
		playwright.SelectOptionValues{Values: &[]string{value}},
		playwright.LocatorSelectOptionOptions{Timeout: playwright.Float(ms(d.opts.ElementTimeout))},
	)
	return d.soft("select", selector, err)
}

func (d *PlaywrightDriver) Press(ctx context.Context, key string) bool {
	if !d.active(ctx, "press") {
		return false
	}
	return d.soft("press", key, d.page.Keyboard().Press(key))
}

func (d *PlaywrightDriver) WaitFor(ctx context.Context, selector string, timeout time.Duration) bool {
	if !d.active(ctx, "wait") {
		return false
	}
	if timeout <= 0 {
		timeout = d.opts.ElementTimeout
	}
	err := d.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	})
	return d.soft("wait for", selector, err)
}

func (d *PlaywrightDriver) WaitForLoad(ctx context.Context) bool {
	if !d.active(ctx, "wait for load") {
		return false
	}
	err := d.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(ms(d.opts.PageLoadTimeout)),
	})
	return d.soft("wait for load", d.page.URL(), err)
}

func (d *PlaywrightDriver) Exists(ctx context.Context, selector string) bool {
	if !d.active(ctx, "exists") {
		return false
	}
	n, err := d.page.Locator(selector).Count()
	return err == nil && n > 0
}

func (d *PlaywrightDriver) Attribute(ctx context.Context, selector, name string) (string, bool) {
	if !d.Exists(ctx, selector) {
		return "", false
	}
	// GetAttribute reports a missing attribute as "", so ask the page for the
	// raw value and let null mean absent.
	v, err := d.page.Locator(selector).First().Evaluate("(el, name) => el.getAttribute(name)", name, playwright.LocatorEvaluateOptions{
		Timeout: playwright.Float(ms(d.opts.ElementTimeout)),
	})
	if !d.soft("attribute", selector+"@"+name, err) {
		return "", false
	}
	return attributeValue(v)
}

// attributeValue maps an evaluated getAttribute result to (value, present).
func attributeValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func (d *PlaywrightDriver) Text(ctx context.Context, selector string) (string, bool) {
	if !d.Exists(ctx, selector) {
		return "", false
	}
	v, err := d.page.Locator(selector).First().TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(ms(d.opts.ElementTimeout)),
	})
	if !d.soft("text", selector, err) {
		return "", false
	}
	return v, true
}

func (d *PlaywrightDriver) Content(ctx context.Context) (string, bool) {
	if !d.active(ctx, "content") {
		return "", false
	}
	html, err := d.page.Content()
	if !d.soft("content", d.page.URL(), err) {
		return "", false
	}
	return html, true
}

func (d *PlaywrightDriver) URL(ctx context.Context) string {
	if !d.active(ctx, "url") {
		return ""
	}
	return d.page.URL()
}

func (d *PlaywrightDriver) Screenshot(ctx context.Context, path string) bool {
	if !d.active(ctx, "screenshot") {
		return false
	}
	_, err := d.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return d.soft("screenshot", path, err)
}

func (d *PlaywrightDriver) Delay(ctx context.Context) {
	d.pacer.Wait(ctx)
}

func (d *PlaywrightDriver) SaveCookies(ctx context.Context) ([]byte, error) {
	if d.context == nil {
		return nil, fmt.Errorf("browser not started")
	}
	raw, err := d.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, cookie)
	}
	return encodeCookies(cookies)
}

func (d *PlaywrightDriver) LoadCookies(ctx context.Context, blob []byte) bool {
	if d.context == nil {
		return false
	}
	cookies, err := decodeCookies(blob)
	if err != nil {
		log.Printf("[%s] session not loaded: %v", d.opts.Site, err)
		return false
	}
	params := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		p := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires > 0 {
			p.Expires = playwright.Float(c.Expires)
		}
		if c.SameSite != "" {
			ss := playwright.SameSiteAttribute(c.SameSite)
			p.SameSite = &ss
		}
		params = append(params, p)
	}
	if err := d.context.AddCookies(params); err != nil {
		log.Printf("[%s] session not loaded: %v", d.opts.Site, err)
		return false
	}
	log.Printf("[%s] loaded %d cookies", d.opts.Site, len(params))
	return true
}
