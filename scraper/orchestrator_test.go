package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"auction_scraper/browser"
	"auction_scraper/config"
	"auction_scraper/extraction"
	"auction_scraper/models"
)

func newTestOrchestrator(a *fakeAdapter, site *config.SiteConfig) (*Orchestrator, *[]*fakeDriver, *fakeStore) {
	var drivers []*fakeDriver
	store := newFakeStore()
	o := NewOrchestrator(
		map[string]*config.SiteConfig{site.ID: site},
		func(*config.SiteConfig) (Adapter, error) { return a, nil },
		func(*config.SiteConfig) (browser.Driver, error) {
			d := &fakeDriver{}
			drivers = append(drivers, d)
			return d, nil
		},
		extraction.NewPipeline(nil), store, nil, true,
	)
	return o, &drivers, store
}

func TestOrchestratorRunSearchTearsDownDriver(t *testing.T) {
	t.Setenv("COPART_USERNAME", "buyer")
	t.Setenv("COPART_PASSWORD", "secret")
	a := &fakeAdapter{loginOK: true, searchOK: true, pages: map[int][]string{1: {"A1"}}}
	o, drivers, store := newTestOrchestrator(a, testSite())

	stats, err := o.RunSearch(context.Background(), "copart", accord(), 3)
	if err != nil {
		t.Fatalf("RunSearch: %v", err)
	}
	if stats.Listings != 1 || stats.Pages != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(*drivers) != 1 || (*drivers)[0].closed == 0 {
		t.Errorf("driver not closed after run")
	}
	if len(store.listings) != 1 {
		t.Errorf("stored %d listings, want 1", len(store.listings))
	}
}

func TestOrchestratorRejectsInvalidCriteria(t *testing.T) {
	o, drivers, _ := newTestOrchestrator(&fakeAdapter{}, testSite())
	if _, err := o.RunSearch(context.Background(), "copart", models.SearchCriteria{}, 1); !errors.Is(err, models.ErrMissingMake) {
		t.Fatalf("err = %v, want ErrMissingMake", err)
	}
	if len(*drivers) != 0 {
		t.Error("browser started for invalid criteria")
	}
}

func TestOrchestratorUnknownSite(t *testing.T) {
	o, _, _ := newTestOrchestrator(&fakeAdapter{}, testSite())
	if _, err := o.RunSearch(context.Background(), "nope", accord(), 1); err == nil {
		t.Fatal("unknown site accepted")
	}
	if diff := cmp.Diff([]string{"copart"}, o.Sites()); diff != "" {
		t.Errorf("Sites (-want +got):\n%s", diff)
	}
}

func TestOrchestratorMissingCredentials(t *testing.T) {
	t.Setenv("COPART_USERNAME", "")
	t.Setenv("COPART_PASSWORD", "")
	a := &fakeAdapter{loginOK: true, searchOK: true}
	o, _, _ := newTestOrchestrator(a, testSite())

	stats, err := o.RunSearch(context.Background(), "copart", accord(), 1)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
	if stats == nil || stats.Error == "" {
		t.Errorf("stats = %+v, want failure recorded", stats)
	}
	if a.loginCalls != 0 {
		t.Errorf("login attempted %d times without credentials", a.loginCalls)
	}
}

func TestOrchestratorRunScheduled(t *testing.T) {
	t.Setenv("COPART_USERNAME", "buyer")
	t.Setenv("COPART_PASSWORD", "secret")
	site := testSite()
	site.Schedule = &config.SiteSchedule{
		MaxPages: 1,
		Searches: []models.SearchCriteria{{Make: "Honda"}, {Make: ""}, {Make: "Toyota"}},
	}
	a := &fakeAdapter{loginOK: true, searchOK: true, pages: map[int][]string{1: {"A1"}}}
	o, drivers, _ := newTestOrchestrator(a, site)

	if err := o.RunScheduled(context.Background(), "copart"); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}
	if a.searchCalls != 2 {
		t.Errorf("search calls = %d, want 2 (invalid search skipped)", a.searchCalls)
	}
	if len(*drivers) != 2 {
		t.Errorf("drivers = %d, want one per search", len(*drivers))
	}
}

func TestOrchestratorFetchDetailsEmpty(t *testing.T) {
	o, drivers, _ := newTestOrchestrator(&fakeAdapter{}, testSite())
	stats, err := o.FetchDetails(context.Background(), "copart", nil)
	if err != nil || stats.Processed != 0 {
		t.Errorf("FetchDetails(nil) = %+v, %v", stats, err)
	}
	if len(*drivers) != 0 {
		t.Error("browser started with nothing to fetch")
	}
}
