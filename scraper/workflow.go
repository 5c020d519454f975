package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"auction_scraper/browser"
	"auction_scraper/config"
	"auction_scraper/extraction"
	"auction_scraper/logging"
	"auction_scraper/models"
)

const (
	// ErrorBudget is the number of page-level failures that aborts a search.
	ErrorBudget     = 3
	DefaultMaxPages = 5

	finalizeTimeout = 10 * time.Second
)

// Store is the persistence the workflow needs.
type Store interface {
	UpsertListings(ctx context.Context, listings []models.Listing) (int, error)
	UpsertDetail(ctx context.Context, d *models.Detail) error
	StartRun(ctx context.Context, run *models.ScrapeRun) error
	CompleteRun(ctx context.Context, run *models.ScrapeRun) error
	Log(ctx context.Context, runID *uuid.UUID, level models.LogLevel, message, site string) error
	RecordDetailFailure(ctx context.Context, site, id, reason string) error
}

// Pipeline resolves raw records from page content.
type Pipeline interface {
	Listings(ctx context.Context, site string, extract extraction.Extractor, hints extraction.Hints, content string) ([]models.RawRecord, error)
	Detail(ctx context.Context, site string, extract extraction.Extractor, hints extraction.Hints, content string) (models.RawRecord, bool, error)
}

// Workflow drives one site through one browser session. It is not safe for
// concurrent use; run one Workflow per site.
type Workflow struct {
	site     *config.SiteConfig
	adapter  Adapter
	hooks    Hooks
	hints    extraction.Hints
	driver   browser.Driver
	pipeline Pipeline
	store    Store
	sessions SessionStore

	state  State
	authed bool
	runID  *uuid.UUID
}

// NewWorkflow wires a constructed adapter to its driver. sessions may be nil,
// in which case every run logs in fresh.
func NewWorkflow(site *config.SiteConfig, adapter Adapter, driver browser.Driver, pipeline Pipeline, store Store, sessions SessionStore) *Workflow {
	hooks := ResolveHooks(adapter)
	return &Workflow{
		site:     site,
		adapter:  adapter,
		hooks:    hooks,
		hints:    hooks.Hints(),
		driver:   driver,
		pipeline: pipeline,
		store:    store,
		sessions: sessions,
	}
}

func (w *Workflow) Site() string { return w.site.ID }

func (w *Workflow) State() State { return w.state }

// Setup starts the browser session and binds the adapter to it.
func (w *Workflow) Setup(ctx context.Context, headless bool) error {
	if err := w.driver.Start(ctx, headless); err != nil {
		return fmt.Errorf("start browser for %s: %w", w.site.ID, err)
	}
	w.state = StateBound
	return nil
}

// Teardown releases the browser session. Safe to call more than once.
func (w *Workflow) Teardown() error {
	w.state = StateUnbound
	w.authed = false
	return w.driver.Close()
}

// TestLogin authenticates and optionally saves a screenshot of the landing page.
func (w *Workflow) TestLogin(ctx context.Context, creds models.Credentials, screenshot string) error {
	if err := w.ensureLoggedIn(ctx, creds); err != nil {
		return err
	}
	w.logf(models.LogLevelInfo, "login ok, current url %s", w.driver.URL(ctx))
	if screenshot != "" && !w.driver.Screenshot(ctx, screenshot) {
		w.logf(models.LogLevelWarn, "screenshot %s not saved", screenshot)
	}
	return nil
}

// ensureLoggedIn reuses a stored session when the adapter's probe accepts
// it, otherwise runs the full login sequence once. Login failure is not
// retried.
func (w *Workflow) ensureLoggedIn(ctx context.Context, creds models.Credentials) error {
	if w.state == StateUnbound {
		return ErrNotBound
	}
	if w.authed {
		return nil
	}

	if w.restoreSession(ctx) {
		w.logf(models.LogLevelInfo, "reusing stored session")
		w.authed = true
		w.state = StateAuthenticated
		return nil
	}

	if creds.Empty() {
		w.state = StateError
		return fmt.Errorf("%w: %w", ErrLoginFailed, ErrMissingCredentials)
	}

	w.logf(models.LogLevelInfo, "logging in as %s", creds.Username)
	w.hooks.PreLogin(ctx, w.driver)
	if !w.adapter.Login(ctx, w.driver, creds.Username, creds.Password) {
		w.state = StateError
		return ErrLoginFailed
	}
	w.hooks.PostLogin(ctx, w.driver)

	w.authed = true
	w.state = StateAuthenticated
	w.saveSession(ctx)
	w.logf(models.LogLevelInfo, "login successful")
	return nil
}

func (w *Workflow) restoreSession(ctx context.Context) bool {
	if w.sessions == nil {
		return false
	}
	blob, err := w.sessions.Load(ctx, w.site.ID)
	if err != nil {
		w.logf(models.LogLevelWarn, "session load failed: %v", err)
		return false
	}
	if blob == nil || !w.driver.LoadCookies(ctx, blob) {
		return false
	}

	anchor := w.site.URL("home")
	if anchor == "" {
		anchor = w.site.URL("search")
	}
	if anchor != "" && !w.driver.Navigate(ctx, anchor) {
		return false
	}
	return w.hooks.IsLoggedIn(ctx, w.driver)
}

func (w *Workflow) saveSession(ctx context.Context) {
	if w.sessions == nil {
		return
	}
	blob, err := w.driver.SaveCookies(ctx)
	if err != nil {
		w.logf(models.LogLevelWarn, "session not saved: %v", err)
		return
	}
	if err := w.sessions.Save(ctx, w.site.ID, blob); err != nil {
		w.logf(models.LogLevelWarn, "session not saved: %v", err)
	}
}

// RunSearch authenticates, runs one search and walks up to maxPages result
// pages, persisting each page as it goes. It always returns stats; Err is set
// when the run ended early.
func (w *Workflow) RunSearch(ctx context.Context, creds models.Credentials, criteria models.SearchCriteria, maxPages int) (stats *models.SearchStats) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	run := models.NewScrapeRun(w.site.ID, models.RunKindSearch, &criteria)
	stats = &models.SearchStats{RunID: run.ID, Site: w.site.ID, StartedAt: run.StartedAt}
	w.beginRun(ctx, run)

	defer func() {
		if r := recover(); r != nil {
			stats.Errors++
			stats.Err = fmt.Errorf("panic: %v", r)
		}
		if ctx.Err() != nil && stats.Err == nil {
			stats.Err = ErrInterrupted
		}
		if stats.Err != nil {
			stats.Error = stats.Err.Error()
		}
		w.logf(models.LogLevelInfo, "search finished: %d listings, %d pages, %d errors", stats.Listings, stats.Pages, stats.Errors)
		run.ListingsFound = stats.Listings
		run.Errors = stats.Errors
		w.finishRun(ctx, run, stats.Err)
		stats.CompletedAt = *run.CompletedAt
	}()

	if err := criteria.Validate(); err != nil {
		stats.Errors = 1
		stats.Err = err
		return stats
	}

	if err := w.ensureLoggedIn(ctx, creds); err != nil {
		w.logf(models.LogLevelError, "%v", err)
		stats.Errors = 1
		stats.Err = err
		return stats
	}

	w.state = StateSearching
	w.logf(models.LogLevelInfo, "searching %s", criteria)
	w.hooks.PreSearch(ctx, w.driver, criteria)
	if !w.adapter.Search(ctx, w.driver, criteria) {
		w.state = StateError
		w.logf(models.LogLevelError, "search failed for %s", criteria)
		stats.Errors = 1
		stats.Err = ErrSearchFailed
		return stats
	}
	w.hooks.PostSearch(ctx, w.driver, criteria)

	w.state = StatePaginating
	for page := 1; page <= maxPages; page++ {
		if ctx.Err() != nil {
			break
		}

		found, saved, err := w.processPage(ctx, page)
		if err != nil {
			stats.Errors++
			w.logf(models.LogLevelError, "page %d: %v", page, err)
			if stats.Errors >= ErrorBudget {
				w.state = StateError
				stats.Err = fmt.Errorf("%w: %d page errors", ErrErrorBudget, stats.Errors)
				return stats
			}
		} else if found == 0 {
			if page == 1 {
				w.logf(models.LogLevelInfo, "search returned no results")
			} else {
				w.logf(models.LogLevelInfo, "no listings on page %d, end of results", page)
			}
			break
		} else {
			stats.Listings += saved
			if saved > 0 {
				stats.Pages++
			}
			w.logf(models.LogLevelInfo, "page %d: %d extracted, %d saved", page, found, saved)
		}

		if page == maxPages {
			w.logf(models.LogLevelInfo, "reached max pages (%d)", maxPages)
			break
		}
		if !w.adapter.HasNextPage(ctx, w.driver) {
			break
		}
		if !w.adapter.GoNextPage(ctx, w.driver) {
			w.logf(models.LogLevelWarn, "could not navigate past page %d", page)
			break
		}
	}

	w.state = StateDone
	return stats
}

// processPage extracts, validates and persists the current page. found is the
// number of raw records extracted; saved the number persisted. A panic in
// adapter or extraction code is returned as an error.
func (w *Workflow) processPage(ctx context.Context, page int) (found, saved int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	content, ok := w.driver.Content(ctx)
	if !ok {
		return 0, 0, errors.New("could not read page content")
	}

	raws, err := w.pipeline.Listings(ctx, w.site.ID, w.hooks.ExtractListings, w.hints, content)
	if err != nil {
		return 0, 0, err
	}
	if len(raws) == 0 {
		return 0, 0, nil
	}

	listings := make([]models.Listing, 0, len(raws))
	for i, raw := range raws {
		rec := w.hooks.TransformListing(raw)
		if rec == nil {
			continue
		}
		l, err := models.ListingFromRecord(w.site.ID, rec)
		if err != nil {
			w.logf(models.LogLevelWarn, "page %d record %d skipped: %v", page, i, err)
			continue
		}
		listings = append(listings, *l)
	}
	if len(listings) == 0 {
		return len(raws), 0, nil
	}

	n, err := w.store.UpsertListings(ctx, listings)
	if err != nil {
		return len(raws), 0, fmt.Errorf("persist page %d: %w", page, err)
	}
	return len(raws), n, nil
}

// FetchDetails authenticates once and fetches each listing's detail page.
// Item failures are counted and the batch continues.
func (w *Workflow) FetchDetails(ctx context.Context, creds models.Credentials, listings []models.Listing) (stats *models.DetailStats) {
	run := models.NewScrapeRun(w.site.ID, models.RunKindDetails, nil)
	stats = &models.DetailStats{RunID: run.ID, Site: w.site.ID}
	w.beginRun(ctx, run)

	defer func() {
		if r := recover(); r != nil {
			stats.Errors++
			stats.Err = fmt.Errorf("panic: %v", r)
		}
		if ctx.Err() != nil && stats.Err == nil {
			stats.Err = ErrInterrupted
		}
		if stats.Err != nil {
			stats.Error = stats.Err.Error()
		}
		w.logf(models.LogLevelInfo, "details finished: %d processed, %d ok, %d errors", stats.Processed, stats.Success, stats.Errors)
		run.DetailsFetched = stats.Success
		run.Errors = stats.Errors
		w.finishRun(ctx, run, stats.Err)
	}()

	if err := w.ensureLoggedIn(ctx, creds); err != nil {
		w.logf(models.LogLevelError, "%v", err)
		stats.Errors = 1
		stats.Err = err
		return stats
	}

	for i, l := range listings {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			w.driver.Delay(ctx)
		}
		stats.Processed++
		if err := w.fetchDetail(ctx, l); err != nil {
			stats.Errors++
			w.logf(models.LogLevelWarn, "detail %s: %v", l.ID, err)
			if ctx.Err() == nil {
				if err := w.store.RecordDetailFailure(ctx, w.site.ID, l.ID, err.Error()); err != nil {
					log.Printf("[warn] %s: detail attempt for %s not recorded: %v", w.site.ID, l.ID, err)
				}
			}
			continue
		}
		stats.Success++
	}
	return stats
}

func (w *Workflow) fetchDetail(ctx context.Context, l models.Listing) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	url := w.adapter.ListingURL(l.ID)
	if l.URL != nil && *l.URL != "" {
		url = *l.URL
	}
	if url == "" {
		return errors.New("no detail url")
	}
	if !w.driver.Navigate(ctx, url) {
		return fmt.Errorf("navigate %s failed", url)
	}
	content, ok := w.driver.Content(ctx)
	if !ok {
		return errors.New("could not read page content")
	}

	rec, found, err := w.pipeline.Detail(ctx, w.site.ID, w.hooks.ExtractDetail, w.hints, content)
	if err != nil {
		return err
	}
	if !found {
		return errors.New("no detail extracted")
	}
	rec = w.hooks.TransformDetail(rec)
	if rec == nil {
		return errors.New("detail dropped by transform")
	}

	d, err := models.DetailFromRecord(l, rec)
	if err != nil {
		return err
	}
	if err := w.store.UpsertDetail(ctx, d); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func (w *Workflow) beginRun(ctx context.Context, run *models.ScrapeRun) {
	w.runID = &run.ID
	if err := w.store.StartRun(ctx, run); err != nil {
		log.Printf("[warn] %s: run %s not recorded: %v", w.site.ID, run.ID, err)
	}
}

// finishRun writes the final run row on a context that survives cancellation
// of the run's own context. A cancelled run is recorded as interrupted.
func (w *Workflow) finishRun(ctx context.Context, run *models.ScrapeRun, runErr error) {
	switch {
	case ctx.Err() != nil:
		run.Finish(models.RunStatusFailed, ErrInterrupted.Error())
	case runErr != nil:
		run.Finish(models.RunStatusFailed, runErr.Error())
	default:
		run.Finish(models.RunStatusCompleted, "")
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := w.store.CompleteRun(fctx, run); err != nil {
		log.Printf("[warn] %s: run %s not finalised: %v", w.site.ID, run.ID, err)
	}
	w.runID = nil
}

func (w *Workflow) logf(level models.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if logging.Enabled(string(level)) {
		log.Printf("[%s] %s: %s", level, w.site.ID, msg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := w.store.Log(ctx, w.runID, level, msg, w.site.ID); err != nil {
		log.Printf("[warn] %s: log not stored: %v", w.site.ID, err)
	}
}
