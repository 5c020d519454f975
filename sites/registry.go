package sites

import (
	"fmt"
	"sort"

	"auction_scraper/config"
	"auction_scraper/scraper"
)

// Constructor builds an adapter from its site bag.
type Constructor func(cfg *config.SiteConfig) scraper.Adapter

var constructors = map[string]Constructor{
	"copart": NewCopart,
	"iaai":   NewIAAI,
}

// New returns the adapter named by cfg.Adapter.
func New(cfg *config.SiteConfig) (scraper.Adapter, error) {
	name := cfg.Adapter
	if name == "" {
		name = cfg.ID
	}
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown site adapter: %s (available: %v)", name, Names())
	}
	return ctor(cfg), nil
}

func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
