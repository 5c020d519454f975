package scraper

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"auction_scraper/browser"
	"auction_scraper/config"
	"auction_scraper/models"
)

// AdapterFactory turns a site bag into a constructed adapter. The name to
// constructor mapping lives outside this package.
type AdapterFactory func(site *config.SiteConfig) (Adapter, error)

// DriverFactory returns a fresh, unstarted browser driver for a site.
type DriverFactory func(site *config.SiteConfig) (browser.Driver, error)

// Orchestrator builds one Workflow per call and serializes work per site, so
// a scheduled search and the detail worker never share a browser profile.
type Orchestrator struct {
	sites      map[string]*config.SiteConfig
	newAdapter AdapterFactory
	newDriver  DriverFactory
	pipeline   Pipeline
	store      Store
	sessions   SessionStore
	headless   bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(sites map[string]*config.SiteConfig, newAdapter AdapterFactory, newDriver DriverFactory,
	pipeline Pipeline, store Store, sessions SessionStore, headless bool) *Orchestrator {
	return &Orchestrator{
		sites:      sites,
		newAdapter: newAdapter,
		newDriver:  newDriver,
		pipeline:   pipeline,
		store:      store,
		sessions:   sessions,
		headless:   headless,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Sites returns the configured site ids in sorted order.
func (o *Orchestrator) Sites() []string {
	ids := make([]string, 0, len(o.sites))
	for id := range o.sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) Site(id string) (*config.SiteConfig, error) {
	site, ok := o.sites[id]
	if !ok {
		return nil, fmt.Errorf("unknown site: %s (configured: %v)", id, o.Sites())
	}
	return site, nil
}

func (o *Orchestrator) lock(site string) func() {
	o.mu.Lock()
	l, ok := o.locks[site]
	if !ok {
		l = &sync.Mutex{}
		o.locks[site] = l
	}
	o.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// withWorkflow runs fn on a set-up workflow and tears it down afterwards.
func (o *Orchestrator) withWorkflow(ctx context.Context, siteID string, fn func(w *Workflow, site *config.SiteConfig) error) error {
	site, err := o.Site(siteID)
	if err != nil {
		return err
	}
	adapter, err := o.newAdapter(site)
	if err != nil {
		return err
	}
	driver, err := o.newDriver(site)
	if err != nil {
		return fmt.Errorf("driver for %s: %w", siteID, err)
	}

	unlock := o.lock(siteID)
	defer unlock()

	w := NewWorkflow(site, adapter, driver, o.pipeline, o.store, o.sessions)
	defer func() {
		if err := w.Teardown(); err != nil {
			log.Printf("[warn] %s: teardown: %v", siteID, err)
		}
	}()
	if err := w.Setup(ctx, o.headless); err != nil {
		return err
	}
	return fn(w, site)
}

// RunSearch validates criteria and runs one search against siteID. The
// returned stats are non-nil whenever the browser started.
func (o *Orchestrator) RunSearch(ctx context.Context, siteID string, criteria models.SearchCriteria, maxPages int) (*models.SearchStats, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	var stats *models.SearchStats
	err := o.withWorkflow(ctx, siteID, func(w *Workflow, site *config.SiteConfig) error {
		stats = w.RunSearch(ctx, site.Credentials(), criteria, maxPages)
		return stats.Err
	})
	return stats, err
}

// RunScheduled runs every saved search in the site's schedule block in order.
// A failed search is logged and does not stop the rest.
func (o *Orchestrator) RunScheduled(ctx context.Context, siteID string) error {
	site, err := o.Site(siteID)
	if err != nil {
		return err
	}
	if site.Schedule == nil || len(site.Schedule.Searches) == 0 {
		return nil
	}
	for _, criteria := range site.Schedule.Searches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats, err := o.RunSearch(ctx, siteID, criteria, site.Schedule.MaxPages)
		if err != nil {
			log.Printf("[error] %s: scheduled search %s: %v", siteID, criteria, err)
			continue
		}
		log.Printf("[info] %s: scheduled search %s: %d listings over %d pages", siteID, criteria, stats.Listings, stats.Pages)
	}
	return nil
}

func (o *Orchestrator) FetchDetails(ctx context.Context, siteID string, listings []models.Listing) (*models.DetailStats, error) {
	if len(listings) == 0 {
		return &models.DetailStats{Site: siteID}, nil
	}
	var stats *models.DetailStats
	err := o.withWorkflow(ctx, siteID, func(w *Workflow, site *config.SiteConfig) error {
		stats = w.FetchDetails(ctx, site.Credentials(), listings)
		return stats.Err
	})
	return stats, err
}

func (o *Orchestrator) TestLogin(ctx context.Context, siteID, screenshot string) error {
	return o.withWorkflow(ctx, siteID, func(w *Workflow, site *config.SiteConfig) error {
		return w.TestLogin(ctx, site.Credentials(), screenshot)
	})
}
