package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"auction_scraper/api"
	"auction_scraper/browser"
	"auction_scraper/config"
	"auction_scraper/extraction"
	"auction_scraper/httputil"
	"auction_scraper/logging"
	"auction_scraper/models"
	"auction_scraper/scheduler"
	"auction_scraper/scraper"
	"auction_scraper/sites"
	"auction_scraper/storage"
	"auction_scraper/vpn"
	"auction_scraper/workers"
)

var (
	initDB    = flag.Bool("init-db", false, "Create tables and indexes and exit")
	showStats = flag.Bool("stats", false, "Print per-site stats and exit")
	search    = flag.Bool("search", false, "Run one search and exit")
	details   = flag.Bool("details", false, "Fetch pending detail pages and exit")
	testLogin = flag.Bool("test-login", false, "Log in to -site, save a screenshot and exit")
	list      = flag.Bool("list", false, "List stored listings and exit")

	siteID     = flag.String("site", "", "Site id (config/sites/<id>.yaml)")
	makeName   = flag.String("make", "", "Vehicle make")
	modelName  = flag.String("model", "", "Vehicle model")
	yearMin    = flag.Int("year-min", 0, "Minimum model year")
	yearMax    = flag.Int("year-max", 0, "Maximum model year")
	maxMiles   = flag.Int("max-miles", 0, "Maximum odometer")
	maxPrice   = flag.Int("max-price", 0, "Maximum current bid")
	maxPages   = flag.Int("max-pages", scraper.DefaultMaxPages, "Result pages to walk")
	headless   = flag.Bool("headless", true, "Run the browser headless")
	limit      = flag.Int("limit", 50, "Row limit for -details and -list")
	screenshot = flag.String("screenshot", "login.png", "Screenshot path for -test-login")
)

// appStore is what both storage backends provide.
type appStore interface {
	scraper.Store
	api.Store
	Migrate(ctx context.Context) error
	ReconcileStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}
	logging.SetLevel(cfg.LogLevel)

	log.Println("Starting auction_scraper...")
	log.Printf("Loaded %d site configs", len(cfg.Sites))
	for id, site := range cfg.Sites {
		log.Printf("  - %s (%s)", site.Name, id)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	if *initDB {
		if err := store.Migrate(ctx); err != nil {
			log.Fatalf("Migrate failed: %v", err)
		}
		log.Println("Database initialized")
		return
	}

	if n, err := store.ReconcileStaleRuns(ctx, cfg.StaleRunAfter); err != nil {
		log.Printf("Warning: could not reconcile stale runs: %v", err)
	} else if n > 0 {
		log.Printf("Marked %d stale runs as %s", n, models.RunAbandoned)
	}

	switch {
	case *showStats:
		printStats(ctx, store)
		return
	case *list:
		printListings(ctx, store)
		return
	}

	clients, err := httputil.NewClients(cfg.Proxy.URL)
	if err != nil {
		log.Fatalf("Invalid proxy config: %v", err)
	}
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	if cfg.ExpressVPN.AutoConnect || cfg.ExpressVPN.ActivationCode != "" {
		v := vpn.NewExpressVPN(vpn.Config(cfg.ExpressVPN))
		if err := v.EnsureConnected(ctx); err != nil {
			log.Fatalf("VPN pre-flight failed: %v", err)
		}
		status, _ := v.Status(ctx)
		log.Printf("VPN: %s", status)
	}

	sessions, err := openSessions(ctx, cfg.Sessions)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}

	var ai extraction.Completer
	if cfg.AI.Enabled() {
		ai = extraction.NewAnthropicClient(clients.API, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL, cfg.AI.RequestsPerMinute)
		log.Printf("AI extraction fallback: %s", cfg.AI.Model)
	} else {
		log.Println("AI extraction fallback disabled (ANTHROPIC_API_KEY not set)")
	}

	runHeadless := cfg.Browser.Headless
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "headless" {
			runHeadless = *headless
		}
	})

	newDriver := func(site *config.SiteConfig) (browser.Driver, error) {
		return browser.New(cfg.Browser.Engine, browser.OptionsFor(site, cfg.Browser, cfg.Proxy.URL))
	}
	orchestrator := scraper.NewOrchestrator(cfg.Sites, sites.New, newDriver,
		extraction.NewPipeline(ai), store, sessions, runHeadless)

	switch {
	case *search:
		runSearch(ctx, orchestrator, clients)
	case *details:
		runDetails(ctx, orchestrator, store)
	case *testLogin:
		requireSite(orchestrator)
		probe(ctx, orchestrator, clients, *siteID)
		if err := orchestrator.TestLogin(ctx, *siteID, *screenshot); err != nil {
			log.Fatalf("Login test failed: %v", err)
		}
		log.Printf("Login OK, screenshot saved to %s", *screenshot)
	default:
		runDaemon(ctx, cfg, orchestrator, store)
	}
}

func openStore(ctx context.Context, db config.DatabaseConfig) (appStore, error) {
	switch db.Driver {
	case "postgres":
		if db.URL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres driver")
		}
		pg, err := storage.NewPostgresStore(ctx, db.URL)
		if err != nil {
			return nil, err
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(db.URL))
		return pg, nil
	case "sqlite":
		lite, err := storage.NewSQLiteStore(db.Path)
		if err != nil {
			return nil, err
		}
		log.Printf("SQLite database: %s", db.Path)
		return lite, nil
	default:
		return nil, fmt.Errorf("unknown DATABASE_DRIVER: %s", db.Driver)
	}
}

func openSessions(ctx context.Context, sc config.SessionConfig) (scraper.SessionStore, error) {
	if sc.S3.Bucket != "" {
		s3Store, err := storage.NewS3SessionStore(ctx, storage.S3Config(sc.S3))
		if err != nil {
			return nil, err
		}
		log.Printf("Sessions: s3://%s/%s", sc.S3.Bucket, sc.S3.Prefix)
		return s3Store, nil
	}
	log.Printf("Sessions: %s", sc.Dir)
	return scraper.NewFileSessionStore(sc.Dir), nil
}

func requireSite(o *scraper.Orchestrator) {
	if *siteID == "" {
		log.Fatalf("-site is required (configured: %s)", strings.Join(o.Sites(), ", "))
	}
}

// probe logs whether the site answers through the proxy; it never blocks a run.
func probe(ctx context.Context, o *scraper.Orchestrator, clients *httputil.Clients, id string) {
	site, err := o.Site(id)
	if err != nil {
		log.Fatal(err)
	}
	target := site.URL("home")
	if target == "" {
		return
	}
	code, err := httputil.Probe(ctx, clients.Scraping, target)
	if err != nil {
		log.Printf("[warn] %s: %s unreachable: %v", id, target, err)
		return
	}
	log.Printf("[info] %s: %s answered %d", id, target, code)
}

func optionalInt(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func runSearch(ctx context.Context, o *scraper.Orchestrator, clients *httputil.Clients) {
	requireSite(o)
	probe(ctx, o, clients, *siteID)

	criteria := models.SearchCriteria{
		Make:     *makeName,
		Model:    *modelName,
		YearMin:  optionalInt(*yearMin),
		YearMax:  optionalInt(*yearMax),
		MaxMiles: optionalInt(*maxMiles),
		MaxPrice: optionalInt(*maxPrice),
	}
	log.Printf("Searching %s for %s", *siteID, criteria)

	stats, err := o.RunSearch(ctx, *siteID, criteria, *maxPages)
	if stats != nil {
		log.Printf("Search finished: %d listings, %d pages, %d errors in %s",
			stats.Listings, stats.Pages, stats.Errors, stats.CompletedAt.Sub(stats.StartedAt).Round(time.Second))
	}
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
}

func runDetails(ctx context.Context, o *scraper.Orchestrator, store appStore) {
	ids := o.Sites()
	if *siteID != "" {
		ids = []string{*siteID}
	}
	var failed bool
	for _, id := range ids {
		pending, err := store.GetListingsWithoutDetails(ctx, *limit, id)
		if err != nil {
			log.Fatalf("Pending details for %s: %v", id, err)
		}
		if len(pending) == 0 {
			log.Printf("%s: no listings need details", id)
			continue
		}
		log.Printf("%s: fetching %d detail pages", id, len(pending))
		stats, err := o.FetchDetails(ctx, id, pending)
		if stats != nil {
			log.Printf("%s: %d processed, %d fetched, %d errors", id, stats.Processed, stats.Success, stats.Errors)
		}
		if err != nil {
			log.Printf("%s: detail run failed: %v", id, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, cfg *config.Config, o *scraper.Orchestrator, store appStore) {
	detailWorker := workers.NewDetailWorker(store, o, workers.StoreLogger(store))
	go detailWorker.Run(ctx, cfg.Scheduler.DetailBatch, cfg.Scheduler.DetailInterval)
	log.Printf("Detail worker started (batch %d every %s)", cfg.Scheduler.DetailBatch, cfg.Scheduler.DetailInterval)

	sched := scheduler.New(cfg.Scheduler, cfg.Sites, o)
	sched.SetDetailWorker(detailWorker)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	var srv *http.Server
	if cfg.API.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           api.NewRouter(store, cfg.API.Mode, time.Now()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("API listening on %s", cfg.API.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("API server error: %v", err)
			}
		}()
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	sched.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("API shutdown: %v", err)
		}
	}
	log.Println("Goodbye!")
}

func printStats(ctx context.Context, store appStore) {
	stats, err := store.GetStatsBySite(ctx)
	if err != nil {
		log.Fatalf("Stats: %v", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SITE\tLISTINGS\tDETAILS\tMAKES\tMODELS\tVINS\tLAST SCRAPED\tLAST RUN")
	for _, s := range stats {
		lastRun := "-"
		if s.LastRunStatus != nil {
			lastRun = *s.LastRunStatus
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n", s.Site, s.TotalListings, s.DetailsFetched,
			s.UniqueMakes, s.UniqueModels, s.UniqueVINs, formatTime(s.LastScraped), lastRun)
	}
	tw.Flush()
}

func printListings(ctx context.Context, store appStore) {
	listings, err := store.ListListings(ctx, models.ListingFilter{
		Site:    *siteID,
		Make:    *makeName,
		Model:   *modelName,
		YearMin: optionalInt(*yearMin),
		YearMax: optionalInt(*yearMax),
		Limit:   *limit,
	})
	if err != nil {
		log.Fatalf("List: %v", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SITE\tID\tYEAR\tMAKE\tMODEL\tMILES\tBID\tDAMAGE\tSALE DATE")
	for _, l := range listings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", l.SourceSite, l.ID,
			formatInt(l.Year), formatStr(l.Make), formatStr(l.Model), formatInt(l.Miles),
			formatInt(l.CurrentBid), formatStr(l.DamageType), formatTime(l.SaleDate))
	}
	tw.Flush()
	log.Printf("%d listings", len(listings))
}

func formatStr(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func formatInt(i *int) string {
	if i == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *i)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := strings.Index(connStr, "://")
	if start < 0 {
		return connStr
	}
	start += 3
	at := strings.LastIndex(connStr, "@")
	if at < start {
		return connStr
	}
	colon := strings.Index(connStr[start:at], ":")
	if colon < 0 {
		return connStr
	}
	return connStr[:start+colon+1] + "****" + connStr[at:]
}
