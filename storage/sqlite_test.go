package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"auction_scraper/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func listing(site, id string, at time.Time) models.Listing {
	return models.Listing{SourceSite: site, ID: id, ScrapedAt: at, UpdatedAt: at}
}

func TestSQLiteUpsertListingMergesNulls(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	first := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	l := listing("copart", "12345678", first)
	l.URL = strp("https://www.copart.com/lot/12345678")
	l.Make = strp("HONDA")
	l.Miles = intp(84211)
	l.CurrentBid = intp(3250)
	if err := s.UpsertListing(ctx, &l); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	update := listing("copart", "12345678", later)
	update.CurrentBid = intp(4100)
	update.Location = strp("Dallas (TX)")
	if err := s.UpsertListing(ctx, &update); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetListing(ctx, "copart", "12345678")
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if got == nil {
		t.Fatal("listing not found")
	}
	if got.URL == nil || *got.URL != *l.URL {
		t.Errorf("url = %v, want kept", got.URL)
	}
	if got.Make == nil || *got.Make != "HONDA" {
		t.Errorf("make = %v, want HONDA", got.Make)
	}
	if got.Miles == nil || *got.Miles != 84211 {
		t.Errorf("miles = %v, want 84211", got.Miles)
	}
	if got.CurrentBid == nil || *got.CurrentBid != 4100 {
		t.Errorf("current_bid = %v, want 4100", got.CurrentBid)
	}
	if got.Location == nil || *got.Location != "Dallas (TX)" {
		t.Errorf("location = %v, want Dallas (TX)", got.Location)
	}
	if !got.ScrapedAt.Equal(first) {
		t.Errorf("scraped_at = %v, want first sight %v", got.ScrapedAt, first)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, later)
	}
}

func TestSQLiteUpsertListingsIsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []models.Listing{listing("iaai", "1", now), listing("iaai", "2", now)}
	batch[0].Make = strp("TOYOTA")
	for i := 0; i < 2; i++ {
		n, err := s.UpsertListings(ctx, batch)
		if err != nil {
			t.Fatalf("UpsertListings #%d: %v", i, err)
		}
		if n != 2 {
			t.Errorf("UpsertListings #%d = %d, want 2", i, n)
		}
	}

	all, err := s.ListListings(ctx, models.ListingFilter{Site: "iaai"})
	if err != nil {
		t.Fatalf("ListListings: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("stored %d listings, want 2", len(all))
	}

	n, err := s.UpsertListings(ctx, nil)
	if err != nil || n != 0 {
		t.Errorf("empty batch = %d, %v", n, err)
	}
}

func TestSQLiteUpsertDetail(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	d := &models.Detail{Listing: listing("iaai", "38811902", now)}
	d.Make = strp("HONDA")
	d.VIN = strp("1HGCV1F34KA012345")
	d.Engine = strp("1.5L I4 Turbo")
	d.Images = []string{"https://vis.iaai.com/full/1.jpg", "https://vis.iaai.com/full/2.jpg"}
	if err := s.UpsertDetail(ctx, d); err != nil {
		t.Fatalf("UpsertDetail: %v", err)
	}

	partial := &models.Detail{Listing: listing("iaai", "38811902", now.Add(time.Hour))}
	partial.Airbags = strp("Deployed")
	if err := s.UpsertDetail(ctx, partial); err != nil {
		t.Fatalf("second UpsertDetail: %v", err)
	}

	got, err := s.GetDetail(ctx, "iaai", "38811902")
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if got == nil {
		t.Fatal("detail not found")
	}
	if diff := cmp.Diff(d.Images, got.Images); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}
	if got.VIN == nil || *got.VIN != "1HGCV1F34KA012345" {
		t.Errorf("vin = %v", got.VIN)
	}
	if got.Airbags == nil || *got.Airbags != "Deployed" {
		t.Errorf("airbags = %v", got.Airbags)
	}
	if got.Make == nil || *got.Make != "HONDA" {
		t.Errorf("listing make = %v, want HONDA", got.Make)
	}

	missing, err := s.GetDetail(ctx, "iaai", "nope")
	if err != nil || missing != nil {
		t.Errorf("GetDetail(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestSQLiteFailedDetailsMoveBackAndRetire(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Now().UTC()

	if _, err := s.UpsertListings(ctx, []models.Listing{
		listing("copart", "old", base),
		listing("copart", "mid", base.Add(time.Minute)),
		listing("copart", "new", base.Add(2*time.Minute)),
	}); err != nil {
		t.Fatalf("UpsertListings: %v", err)
	}

	pendingIDs := func() []string {
		t.Helper()
		pending, err := s.GetListingsWithoutDetails(ctx, 10, "copart")
		if err != nil {
			t.Fatalf("GetListingsWithoutDetails: %v", err)
		}
		var ids []string
		for _, l := range pending {
			ids = append(ids, l.ID)
		}
		return ids
	}

	if err := s.RecordDetailFailure(ctx, "copart", "new", "no detail extracted"); err != nil {
		t.Fatalf("RecordDetailFailure: %v", err)
	}
	if diff := cmp.Diff([]string{"mid", "old", "new"}, pendingIDs()); diff != "" {
		t.Errorf("after one failure (-want +got):\n%s", diff)
	}

	for i := 1; i < MaxDetailAttempts; i++ {
		if err := s.RecordDetailFailure(ctx, "copart", "new", "no detail extracted"); err != nil {
			t.Fatalf("RecordDetailFailure: %v", err)
		}
	}
	if diff := cmp.Diff([]string{"mid", "old"}, pendingIDs()); diff != "" {
		t.Errorf("after %d failures (-want +got):\n%s", MaxDetailAttempts, diff)
	}

	var attempts int
	var lastErr string
	if err := s.db.QueryRow(`SELECT attempts, last_error FROM detail_attempts WHERE source_site = 'copart' AND id = 'new'`).Scan(&attempts, &lastErr); err != nil {
		t.Fatalf("read attempts: %v", err)
	}
	if attempts != MaxDetailAttempts || lastErr != "no detail extracted" {
		t.Errorf("attempts = %d, last_error = %q", attempts, lastErr)
	}
}

func TestSQLiteListingsWithoutDetailsAndCascade(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Now().UTC()

	if _, err := s.UpsertListings(ctx, []models.Listing{
		listing("copart", "a", base),
		listing("copart", "b", base.Add(time.Minute)),
		listing("iaai", "c", base.Add(2*time.Minute)),
	}); err != nil {
		t.Fatalf("UpsertListings: %v", err)
	}
	if err := s.UpsertDetail(ctx, &models.Detail{Listing: listing("copart", "a", base)}); err != nil {
		t.Fatalf("UpsertDetail: %v", err)
	}

	pending, err := s.GetListingsWithoutDetails(ctx, 10, "")
	if err != nil {
		t.Fatalf("GetListingsWithoutDetails: %v", err)
	}
	var ids []string
	for _, l := range pending {
		ids = append(ids, l.ID)
	}
	if diff := cmp.Diff([]string{"c", "b"}, ids); diff != "" {
		t.Errorf("pending (-want +got):\n%s", diff)
	}

	pending, err = s.GetListingsWithoutDetails(ctx, 10, "copart")
	if err != nil {
		t.Fatalf("GetListingsWithoutDetails(copart): %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "b" {
		t.Errorf("copart pending = %+v, want [b]", pending)
	}

	if _, err := s.db.Exec(`DELETE FROM listings WHERE source_site = 'copart' AND id = 'a'`); err != nil {
		t.Fatalf("delete listing: %v", err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM details`).Scan(&n); err != nil {
		t.Fatalf("count details: %v", err)
	}
	if n != 0 {
		t.Errorf("details after listing delete = %d, want 0", n)
	}
}

func TestSQLiteListListingsFilter(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(site, id, mfr, model string, year int) models.Listing {
		l := listing(site, id, now)
		l.Make, l.Model, l.Year = strp(mfr), strp(model), intp(year)
		return l
	}
	if _, err := s.UpsertListings(ctx, []models.Listing{
		mk("copart", "1", "HONDA", "ACCORD", 2019),
		mk("copart", "2", "HONDA", "CIVIC", 2016),
		mk("iaai", "3", "Honda", "Accord Sport", 2021),
		mk("iaai", "4", "TOYOTA", "CAMRY", 2019),
	}); err != nil {
		t.Fatalf("UpsertListings: %v", err)
	}

	tests := []struct {
		name   string
		filter models.ListingFilter
		want   int
	}{
		{"all", models.ListingFilter{}, 4},
		{"site", models.ListingFilter{Site: "iaai"}, 2},
		{"make case-insensitive", models.ListingFilter{Make: "honda"}, 3},
		{"model contains", models.ListingFilter{Model: "accord"}, 2},
		{"year range", models.ListingFilter{YearMin: intp(2018), YearMax: intp(2020)}, 2},
		{"limit", models.ListingFilter{Limit: 1}, 1},
		{"offset past end", models.ListingFilter{Offset: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListListings(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListListings: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d listings, want %d", len(got), tt.want)
			}
		})
	}
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	criteria := &models.SearchCriteria{Make: "Honda", Model: "Accord", YearMin: intp(2018)}
	run := models.NewScrapeRun("copart", models.RunKindSearch, criteria)
	if err := s.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run.ListingsFound = 12
	run.Errors = 1
	run.Finish(models.RunStatusCompleted, "")
	if err := s.CompleteRun(ctx, run); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	runID := run.ID
	if err := s.Log(ctx, &runID, models.LogLevelInfo, "saved 12 listings", "copart"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := s.Log(ctx, nil, models.LogLevelWarn, "no run", "copart"); err != nil {
		t.Fatalf("Log without run: %v", err)
	}

	runs, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.ID != run.ID || got.Status != models.RunStatusCompleted || got.Kind != models.RunKindSearch {
		t.Errorf("run = %+v", got)
	}
	if got.ListingsFound != 12 || got.Errors != 1 || got.CompletedAt == nil {
		t.Errorf("counters = found %d errors %d completed %v", got.ListingsFound, got.Errors, got.CompletedAt)
	}
	if diff := cmp.Diff(criteria, got.Criteria); diff != "" {
		t.Errorf("criteria (-want +got):\n%s", diff)
	}

	var logs int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM scrape_logs WHERE run_id = ?`, runID.String()).Scan(&logs); err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if logs != 1 {
		t.Errorf("logs for run = %d, want 1", logs)
	}
}

func TestSQLiteReconcileStaleRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	stale := models.NewScrapeRun("copart", models.RunKindSearch, nil)
	stale.StartedAt = time.Now().UTC().Add(-7 * time.Hour)
	fresh := models.NewScrapeRun("copart", models.RunKindDetails, nil)
	done := models.NewScrapeRun("iaai", models.RunKindSearch, nil)
	done.StartedAt = time.Now().UTC().Add(-8 * time.Hour)
	for _, r := range []*models.ScrapeRun{stale, fresh, done} {
		if err := s.StartRun(ctx, r); err != nil {
			t.Fatalf("StartRun: %v", err)
		}
	}
	done.Finish(models.RunStatusCompleted, "")
	if err := s.CompleteRun(ctx, done); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	n, err := s.ReconcileStaleRuns(ctx, 6*time.Hour)
	if err != nil {
		t.Fatalf("ReconcileStaleRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("reconciled %d runs, want 1", n)
	}

	runs, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	byID := map[uuid.UUID]models.ScrapeRun{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	if r := byID[stale.ID]; r.Status != models.RunStatusFailed || r.ErrorMessage == nil || *r.ErrorMessage != models.RunAbandoned {
		t.Errorf("stale run = %s %v, want failed/abandoned", r.Status, r.ErrorMessage)
	}
	if r := byID[fresh.ID]; r.Status != models.RunStatusRunning {
		t.Errorf("fresh run = %s, want running", r.Status)
	}
	if r := byID[done.ID]; r.Status != models.RunStatusCompleted {
		t.Errorf("completed run = %s, want completed", r.Status)
	}
}

func TestSQLiteStatsBySite(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	first := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	a := listing("copart", "1", first)
	a.Make, a.Model = strp("HONDA"), strp("ACCORD")
	b := listing("copart", "2", first.Add(time.Hour))
	b.Make, b.Model = strp("HONDA"), strp("CIVIC")
	c := listing("iaai", "3", first)
	c.Make = strp("TOYOTA")
	if _, err := s.UpsertListings(ctx, []models.Listing{a, b, c}); err != nil {
		t.Fatalf("UpsertListings: %v", err)
	}
	d := &models.Detail{Listing: a}
	d.VIN = strp("1HGCV1F34KA012345")
	if err := s.UpsertDetail(ctx, d); err != nil {
		t.Fatalf("UpsertDetail: %v", err)
	}
	run := models.NewScrapeRun("copart", models.RunKindSearch, nil)
	if err := s.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	stats, err := s.GetStatsBySite(ctx)
	if err != nil {
		t.Fatalf("GetStatsBySite: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d sites, want 2", len(stats))
	}
	cp := stats[0]
	if cp.Site != "copart" || cp.TotalListings != 2 || cp.DetailsFetched != 1 ||
		cp.UniqueMakes != 1 || cp.UniqueModels != 2 || cp.UniqueVINs != 1 {
		t.Errorf("copart stats = %+v", cp)
	}
	if cp.FirstScraped == nil || !cp.FirstScraped.Equal(first) {
		t.Errorf("first scraped = %v, want %v", cp.FirstScraped, first)
	}
	if cp.LastScraped == nil || !cp.LastScraped.Equal(first.Add(time.Hour)) {
		t.Errorf("last scraped = %v", cp.LastScraped)
	}
	if cp.LastRunStatus == nil || *cp.LastRunStatus != "running" || cp.LastRunAt == nil {
		t.Errorf("last run = %v %v", cp.LastRunAt, cp.LastRunStatus)
	}
	if ia := stats[1]; ia.Site != "iaai" || ia.TotalListings != 1 || ia.DetailsFetched != 0 || ia.LastRunAt != nil {
		t.Errorf("iaai stats = %+v", ia)
	}
}
