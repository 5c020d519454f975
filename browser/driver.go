package browser

import (
	"context"
	"fmt"
	"time"

	"auction_scraper/config"
)

// Driver is a generic automation surface with no site knowledge. Interaction
// methods never return errors: failures are logged and reported as false or
// an absent value.
type Driver interface {
	Start(ctx context.Context, headless bool) error
	Close() error

	Navigate(ctx context.Context, url string) bool
	Click(ctx context.Context, selector string) bool
	Fill(ctx context.Context, selector, value string) bool
	Select(ctx context.Context, selector, value string) bool
	Press(ctx context.Context, key string) bool
	WaitFor(ctx context.Context, selector string, timeout time.Duration) bool
	WaitForLoad(ctx context.Context) bool
	Exists(ctx context.Context, selector string) bool
	// Attribute reports false when the element or the attribute is missing.
	// A present but empty attribute, such as disabled="", reports true.
	Attribute(ctx context.Context, selector, name string) (string, bool)
	Text(ctx context.Context, selector string) (string, bool)
	Content(ctx context.Context) (string, bool)
	URL(ctx context.Context) string
	Screenshot(ctx context.Context, path string) bool

	Delay(ctx context.Context)

	SaveCookies(ctx context.Context) ([]byte, error)
	LoadCookies(ctx context.Context, blob []byte) bool
}

type Options struct {
	Site              string
	Bin               string
	ProxyURL          string
	UserAgent         string
	MinDelay          time.Duration
	MaxDelay          time.Duration
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
	PageLoadTimeout   time.Duration
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// OptionsFor builds driver options from the site bag's rate_limit and timeouts.
func OptionsFor(site *config.SiteConfig, bc config.BrowserConfig, proxyURL string) Options {
	return Options{
		Site:              site.ID,
		Bin:               bc.Bin,
		ProxyURL:          proxyURL,
		UserAgent:         defaultUserAgent,
		MinDelay:          time.Duration(site.RateLimit.MinDelayMS) * time.Millisecond,
		MaxDelay:          time.Duration(site.RateLimit.MaxDelayMS) * time.Millisecond,
		NavigationTimeout: site.Timeout("navigation"),
		ElementTimeout:    site.Timeout("element"),
		PageLoadTimeout:   site.Timeout("page_load"),
	}
}

// New returns an unstarted driver for the named engine.
func New(engine string, opts Options) (Driver, error) {
	switch engine {
	case "", "playwright":
		return NewPlaywrightDriver(opts), nil
	case "rod":
		return NewRodDriver(opts), nil
	default:
		return nil, fmt.Errorf("unknown browser engine: %s", engine)
	}
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = config.DefaultNavigationTimeout * time.Millisecond
	}
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = config.DefaultElementTimeout * time.Millisecond
	}
	if o.PageLoadTimeout <= 0 {
		o.PageLoadTimeout = config.DefaultPageLoadTimeout * time.Millisecond
	}
	if o.MinDelay <= 0 && o.MaxDelay <= 0 {
		o.MinDelay = config.DefaultMinDelayMS * time.Millisecond
		o.MaxDelay = config.DefaultMaxDelayMS * time.Millisecond
	}
	return o
}

func ms(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}

var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-dev-shm-usage",
	"--no-sandbox",
}

const stealthInitScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = { runtime: {} };
`
