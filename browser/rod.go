package browser

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

var rodKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"ArrowDown":  input.ArrowDown,
	"ArrowUp":    input.ArrowUp,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"PageDown":   input.PageDown,
	"End":        input.End,
}

// RodDriver drives Chromium over CDP with go-rod and the stealth page patches.
type RodDriver struct {
	opts  Options
	pacer *Pacer

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

func NewRodDriver(opts Options) *RodDriver {
	opts = opts.withDefaults()
	return &RodDriver{opts: opts, pacer: NewPacer(opts.MinDelay, opts.MaxDelay)}
}

func (d *RodDriver) Start(ctx context.Context, headless bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page != nil {
		return nil
	}

	l := launcher.New().
		Context(ctx).
		Headless(headless).
		NoSandbox(true)
	if d.opts.Bin != "" {
		l = l.Bin(d.opts.Bin)
	}
	if d.opts.ProxyURL != "" {
		l = l.Proxy(d.opts.ProxyURL)
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Delete(flags.Flag("enable-automation"))
	d.launcher = l

	controlURL, err := l.Launch()
	if err != nil {
		d.release()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	d.browser = rod.New().ControlURL(controlURL)
	if err := d.browser.Connect(); err != nil {
		d.browser = nil
		d.release()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	d.page, err = stealth.Page(d.browser)
	if err != nil {
		d.release()
		return fmt.Errorf("failed to create page: %w", err)
	}
	if err := d.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.opts.UserAgent, AcceptLanguage: "en-US,en;q=0.9"}); err != nil {
		log.Printf("[%s] user agent not set: %v", d.opts.Site, err)
	}
	if err := d.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1920, Height: 1080, DeviceScaleFactor: 1}); err != nil {
		log.Printf("[%s] viewport not set: %v", d.opts.Site, err)
	}

	log.Printf("[%s] rod browser started (headless=%t)", d.opts.Site, headless)
	return nil
}

func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release()
}

func (d *RodDriver) release() error {
	var firstErr error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			firstErr = err
		}
		d.page = nil
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.browser = nil
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
		d.launcher = nil
	}
	return firstErr
}

// scoped binds the page to ctx with a deadline. Callers must call the cancel func.
func (d *RodDriver) scoped(ctx context.Context, op string, timeout time.Duration) (*rod.Page, context.CancelFunc, bool) {
	if ctx.Err() != nil {
		return nil, func() {}, false
	}
	if d.page == nil {
		log.Printf("[%s] %s: browser not started", d.opts.Site, op)
		return nil, func() {}, false
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return d.page.Context(tctx), cancel, true
}

func (d *RodDriver) soft(op, target string, err error) bool {
	if err != nil {
		log.Printf("[%s] %s %s failed: %v", d.opts.Site, op, target, err)
		return false
	}
	return true
}

func (d *RodDriver) element(ctx context.Context, op, selector string) (*rod.Element, context.CancelFunc, bool) {
	p, cancel, ok := d.scoped(ctx, op, d.opts.ElementTimeout)
	if !ok {
		return nil, cancel, false
	}
	el, err := p.Element(selector)
	if !d.soft(op, selector, err) {
		return nil, cancel, false
	}
	return el, cancel, true
}

func (d *RodDriver) Navigate(ctx context.Context, url string) bool {
	p, cancel, ok := d.scoped(ctx, "navigate", d.opts.NavigationTimeout)
	defer cancel()
	if !ok {
		return false
	}
	if err := p.Navigate(url); !d.soft("navigate", url, err) {
		return false
	}
	return d.soft("navigate", url, p.WaitLoad())
}

func (d *RodDriver) Click(ctx context.Context, selector string) bool {
	el, cancel, ok := d.element(ctx, "click", selector)
	defer cancel()
	if !ok {
		return false
	}
	return d.soft("click", selector, el.Click(proto.InputMouseButtonLeft, 1))
}

func (d *RodDriver) Fill(ctx context.Context, selector, value string) bool {
	el, cancel, ok := d.element(ctx, "fill", selector)
	defer cancel()
	if !ok {
		return false
	}
	if err := el.SelectAllText(); err != nil {
		log.Printf("[%s] fill %s: could not clear field: %v", d.opts.Site, selector, err)
	}
	return d.soft("fill", selector, el.Input(value))
}

func (d *RodDriver) Select(ctx context.Context, selector, value string) bool {
	el, cancel, ok := d.element(ctx, "select", selector)
	defer cancel()
	if !ok {
		return false
	}
	byValue := fmt.Sprintf("option[value=%q]", value)
	if err := el.Select([]string{byValue}, true, rod.SelectorTypeCSSSector); err == nil {
		return true
	}
	return d.soft("select", selector, el.Select([]string{value}, true, rod.SelectorTypeText))
}

func (d *RodDriver) Press(ctx context.Context, key string) bool {
	k, known := rodKeys[key]
	if !known {
		log.Printf("[%s] press: unsupported key %q", d.opts.Site, key)
		return false
	}
	p, cancel, ok := d.scoped(ctx, "press", d.opts.ElementTimeout)
	defer cancel()
	if !ok {
		return false
	}
	return d.soft("press", key, p.Keyboard.Press(k))
}

func (d *RodDriver) WaitFor(ctx context.Context, selector string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = d.opts.ElementTimeout
	}
	p, cancel, ok := d.scoped(ctx, "wait for", timeout)
	defer cancel()
	if !ok {
		return false
	}
	el, err := p.Element(selector)
	if !d.soft("wait for", selector, err) {
		return false
	}
	return d.soft("wait for", selector, el.WaitVisible())
}

func (d *RodDriver) WaitForLoad(ctx context.Context) bool {
	p, cancel, ok := d.scoped(ctx, "wait for load", d.opts.PageLoadTimeout)
	defer cancel()
	if !ok {
		return false
	}
	if err := p.WaitLoad(); !d.soft("wait for load", "page", err) {
		return false
	}
	return d.soft("wait for idle", "page", p.WaitIdle(d.opts.PageLoadTimeout))
}

func (d *RodDriver) Exists(ctx context.Context, selector string) bool {
	p, cancel, ok := d.scoped(ctx, "exists", d.opts.ElementTimeout)
	defer cancel()
	if !ok {
		return false
	}
	has, _, err := p.Has(selector)
	return err == nil && has
}

func (d *RodDriver) Attribute(ctx context.Context, selector, name string) (string, bool) {
	if !d.Exists(ctx, selector) {
		return "", false
	}
	el, cancel, ok := d.element(ctx, "attribute", selector)
	defer cancel()
	if !ok {
		return "", false
	}
	v, err := el.Attribute(name)
	if !d.soft("attribute", selector+"@"+name, err) || v == nil {
		return "", false
	}
	return *v, true
}

func (d *RodDriver) Text(ctx context.Context, selector string) (string, bool) {
	if !d.Exists(ctx, selector) {
		return "", false
	}
	el, cancel, ok := d.element(ctx, "text", selector)
	defer cancel()
	if !ok {
		return "", false
	}
	v, err := el.Text()
	if !d.soft("text", selector, err) {
		return "", false
	}
	return v, true
}

func (d *RodDriver) Content(ctx context.Context) (string, bool) {
	p, cancel, ok := d.scoped(ctx, "content", d.opts.PageLoadTimeout)
	defer cancel()
	if !ok {
		return "", false
	}
	html, err := p.HTML()
	if !d.soft("content", "page", err) {
		return "", false
	}
	return html, true
}

func (d *RodDriver) URL(ctx context.Context) string {
	p, cancel, ok := d.scoped(ctx, "url", d.opts.ElementTimeout)
	defer cancel()
	if !ok {
		return ""
	}
	info, err := p.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (d *RodDriver) Screenshot(ctx context.Context, path string) bool {
	p, cancel, ok := d.scoped(ctx, "screenshot", d.opts.PageLoadTimeout)
	defer cancel()
	if !ok {
		return false
	}
	img, err := p.Screenshot(true, nil)
	if !d.soft("screenshot", path, err) {
		return false
	}
	return d.soft("screenshot", path, os.WriteFile(path, img, 0644))
}

func (d *RodDriver) Delay(ctx context.Context) {
	d.pacer.Wait(ctx)
}

func (d *RodDriver) SaveCookies(ctx context.Context) ([]byte, error) {
	if d.browser == nil {
		return nil, fmt.Errorf("browser not started")
	}
	raw, err := d.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return encodeCookies(cookies)
}

func (d *RodDriver) LoadCookies(ctx context.Context, blob []byte) bool {
	if d.browser == nil {
		return false
	}
	cookies, err := decodeCookies(blob)
	if err != nil {
		log.Printf("[%s] session not loaded: %v", d.opts.Site, err)
		return false
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		})
	}
	if err := d.browser.Context(ctx).SetCookies(params); err != nil {
		log.Printf("[%s] session not loaded: %v", d.opts.Site, err)
		return false
	}
	log.Printf("[%s] loaded %d cookies", d.opts.Site, len(params))
	return true
}
