package scraper

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"auction_scraper/browser"
	"auction_scraper/extraction"
	"auction_scraper/models"
)

// bareAdapter implements only the required capabilities.
type bareAdapter struct{}

func (bareAdapter) Login(context.Context, browser.Driver, string, string) bool { return true }

func (bareAdapter) Search(context.Context, browser.Driver, models.SearchCriteria) bool { return true }

func (bareAdapter) HasNextPage(context.Context, browser.Driver) bool { return false }

func (bareAdapter) GoNextPage(context.Context, browser.Driver) bool { return false }

func (bareAdapter) ListingURL(id string) string { return "https://auction.test/lot/" + id }

func TestResolveHooksDefaults(t *testing.T) {
	h := ResolveHooks(bareAdapter{})
	ctx := context.Background()

	h.PreLogin(ctx, nil)
	h.PostLogin(ctx, nil)
	h.PreSearch(ctx, nil, models.SearchCriteria{Make: "Honda"})
	h.PostSearch(ctx, nil, models.SearchCriteria{Make: "Honda"})

	if h.IsLoggedIn(ctx, nil) {
		t.Error("default login probe reported logged in")
	}
	if got := h.ExtractListings("<html/>").Outcome; got != extraction.Deferred {
		t.Errorf("default listing extractor = %s, want deferred", got)
	}
	if got := h.ExtractDetail("<html/>").Outcome; got != extraction.Deferred {
		t.Errorf("default detail extractor = %s, want deferred", got)
	}

	rec := models.RawRecord{"id": "1", "make": "Honda"}
	if diff := cmp.Diff(rec, h.TransformListing(rec)); diff != "" {
		t.Errorf("listing transform not identity (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(rec, h.TransformDetail(rec)); diff != "" {
		t.Errorf("detail transform not identity (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(extraction.Hints{}, h.Hints()); diff != "" {
		t.Errorf("default hints (-want +got):\n%s", diff)
	}
}

func TestResolveHooksKeepsOverrides(t *testing.T) {
	a := &fakeAdapter{loggedIn: true}
	h := ResolveHooks(a)

	if !h.IsLoggedIn(context.Background(), nil) {
		t.Error("override of IsLoggedIn lost")
	}
	if h.Hints().IDField != "Lot #" {
		t.Errorf("hints = %+v", h.Hints())
	}
	if h.TransformListing == nil || h.TransformDetail == nil {
		t.Error("unset transforms not defaulted")
	}
}

func TestFileSessionStore(t *testing.T) {
	ctx := context.Background()
	s := NewFileSessionStore(filepath.Join(t.TempDir(), "sessions"))

	blob, err := s.Load(ctx, "copart")
	if err != nil || blob != nil {
		t.Fatalf("Load on empty store = %q, %v; want nil, nil", blob, err)
	}

	want := []byte(`[{"name":"sid","value":"1","domain":".copart.com"}]`)
	if err := s.Save(ctx, "copart", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "copart")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("Load = %s, want %s", got, want)
	}

	if other, _ := s.Load(ctx, "iaai"); other != nil {
		t.Errorf("sessions leaked across sites: %s", other)
	}
}

func TestStateString(t *testing.T) {
	if StatePaginating.String() != "paginating" || State(99).String() != "unknown" {
		t.Errorf("unexpected state names")
	}
}
