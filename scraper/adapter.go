package scraper

import (
	"context"

	"auction_scraper/browser"
	"auction_scraper/extraction"
	"auction_scraper/models"
)

// Adapter is the capability set every site must implement. The driver is
// passed to each call; adapters never hold on to it.
type Adapter interface {
	Login(ctx context.Context, d browser.Driver, username, password string) bool
	Search(ctx context.Context, d browser.Driver, criteria models.SearchCriteria) bool
	HasNextPage(ctx context.Context, d browser.Driver) bool
	GoNextPage(ctx context.Context, d browser.Driver) bool
	ListingURL(id string) string
}

// HookProvider is implemented by adapters that override any optional hook.
type HookProvider interface {
	Hooks() Hooks
}

type Transform func(models.RawRecord) models.RawRecord

// Hooks are the optional per-site overrides. Nil entries take the defaults
// filled in by ResolveHooks.
type Hooks struct {
	PreLogin   func(ctx context.Context, d browser.Driver)
	PostLogin  func(ctx context.Context, d browser.Driver)
	PreSearch  func(ctx context.Context, d browser.Driver, criteria models.SearchCriteria)
	PostSearch func(ctx context.Context, d browser.Driver, criteria models.SearchCriteria)

	// IsLoggedIn probes the current page after a stored session is loaded.
	IsLoggedIn func(ctx context.Context, d browser.Driver) bool

	ExtractListings extraction.Extractor
	ExtractDetail   extraction.Extractor

	TransformListing Transform
	TransformDetail  Transform

	Hints func() extraction.Hints
}

// ResolveHooks returns the adapter's hooks with every nil entry replaced by
// its default: no-op lifecycle hooks, a login probe that always reports
// false, deferring extractors, identity transforms and empty hints.
func ResolveHooks(a Adapter) Hooks {
	var h Hooks
	if p, ok := a.(HookProvider); ok {
		h = p.Hooks()
	}

	if h.PreLogin == nil {
		h.PreLogin = func(context.Context, browser.Driver) {}
	}
	if h.PostLogin == nil {
		h.PostLogin = func(context.Context, browser.Driver) {}
	}
	if h.PreSearch == nil {
		h.PreSearch = func(context.Context, browser.Driver, models.SearchCriteria) {}
	}
	if h.PostSearch == nil {
		h.PostSearch = func(context.Context, browser.Driver, models.SearchCriteria) {}
	}
	if h.IsLoggedIn == nil {
		h.IsLoggedIn = func(context.Context, browser.Driver) bool { return false }
	}
	if h.ExtractListings == nil {
		h.ExtractListings = func(string) extraction.Result { return extraction.Defer() }
	}
	if h.ExtractDetail == nil {
		h.ExtractDetail = func(string) extraction.Result { return extraction.Defer() }
	}
	if h.TransformListing == nil {
		h.TransformListing = identity
	}
	if h.TransformDetail == nil {
		h.TransformDetail = identity
	}
	if h.Hints == nil {
		h.Hints = func() extraction.Hints { return extraction.Hints{} }
	}
	return h
}

func identity(r models.RawRecord) models.RawRecord { return r }

// State is the adapter lifecycle as tracked by the workflow.
type State int

const (
	StateUnbound State = iota
	StateBound
	StateAuthenticated
	StateSearching
	StatePaginating
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateAuthenticated:
		return "authenticated"
	case StateSearching:
		return "searching"
	case StatePaginating:
		return "paginating"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	}
	return "unknown"
}
