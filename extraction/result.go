package extraction

import (
	"fmt"

	"auction_scraper/models"
)

type Outcome int

const (
	// Deferred means the extractor has no opinion; the AI fallback runs.
	Deferred Outcome = iota
	// Resolved carries zero or more records. Zero records means an empty page.
	Resolved
	// Failed means the extractor recognised the page but could not read it.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Deferred:
		return "deferred"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is what a deterministic extractor returns.
type Result struct {
	Outcome Outcome
	Records []models.RawRecord
	Reason  string
}

func Defer() Result {
	return Result{Outcome: Deferred}
}

func Resolve(records ...models.RawRecord) Result {
	return Result{Outcome: Resolved, Records: records}
}

func Fail(format string, args ...any) Result {
	return Result{Outcome: Failed, Reason: fmt.Sprintf(format, args...)}
}

// Extractor is a deterministic page parser supplied by a site adapter.
type Extractor func(content string) Result

// Hints steer the AI fallback for one site.
type Hints struct {
	IDField    string
	PriceField string
	Notes      []string
	// ContentSelector narrows the page to one region before truncation.
	ContentSelector string
	// ContentMarkers are extra substrings that locate the results region.
	ContentMarkers []string
	// Markdown converts the narrowed HTML to Markdown before truncation.
	Markdown bool
	BaseURL  string
}

// ExtractError reports a Failed outcome from a deterministic extractor.
type ExtractError struct {
	Kind   string
	Reason string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("%s extraction failed: %s", e.Kind, e.Reason)
}
