package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"auction_scraper/models"
)

type fakeCompleter struct {
	calls   int
	prompts []string
	tokens  []int
	resp    string
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, maxTokens int) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.tokens = append(f.tokens, maxTokens)
	return f.resp, f.err
}

func TestListingsResolvedSkipsAI(t *testing.T) {
	ai := &fakeCompleter{resp: `[{"id": "9"}]`}
	p := NewPipeline(ai)

	extract := func(string) Result {
		return Resolve(models.RawRecord{"id": "1"}, models.RawRecord{"id": "2"})
	}
	recs, err := p.Listings(context.Background(), "copart", extract, Hints{}, "<html></html>")
	if err != nil {
		t.Fatalf("Listings: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if ai.calls != 0 {
		t.Errorf("AI called %d times, want 0", ai.calls)
	}
}

func TestListingsResolvedEmptyIsValid(t *testing.T) {
	ai := &fakeCompleter{resp: `[{"id": "9"}]`}
	p := NewPipeline(ai)

	recs, err := p.Listings(context.Background(), "iaai", func(string) Result { return Resolve() }, Hints{}, "<html></html>")
	if err != nil || len(recs) != 0 {
		t.Fatalf("got %v, %v; want empty, nil", recs, err)
	}
	if ai.calls != 0 {
		t.Errorf("AI called on empty page")
	}
}

func TestListingsDeferredCallsAIOnce(t *testing.T) {
	ai := &fakeCompleter{resp: "```json\n[{\"id\": \"A1\", \"year\": 2018}]\n```"}
	p := NewPipeline(ai)

	hints := Hints{IDField: "Lot #", PriceField: "Current Bid", Notes: []string{"Ignore sponsored rows."}}
	recs, err := p.Listings(context.Background(), "copart", nil, hints, "<table><tr><td>A1</td></tr></table>")
	if err != nil {
		t.Fatalf("Listings: %v", err)
	}
	if ai.calls != 1 {
		t.Fatalf("AI called %d times, want 1", ai.calls)
	}
	if len(recs) != 1 || recs[0].ID() != "A1" {
		t.Fatalf("records = %v", recs)
	}
	if ai.tokens[0] != listingMaxTokens {
		t.Errorf("max tokens = %d, want %d", ai.tokens[0], listingMaxTokens)
	}

	prompt := ai.prompts[0]
	for _, want := range []string{`"Lot #"`, `"Current Bid"`, "Ignore sponsored rows.", "JSON array", "<td>A1</td>"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestListingsFailedIsError(t *testing.T) {
	ai := &fakeCompleter{resp: `[]`}
	p := NewPipeline(ai)

	_, err := p.Listings(context.Background(), "iaai", func(string) Result { return Fail("table missing") }, Hints{}, "")
	var ee *ExtractError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExtractError", err)
	}
	if ee.Reason != "table missing" {
		t.Errorf("reason = %q", ee.Reason)
	}
	if ai.calls != 0 {
		t.Errorf("AI called after Failed outcome")
	}
}

func TestListingsMalformedAIResponse(t *testing.T) {
	for _, resp := range []string{"sorry, I can't", `{"id": "1"}`, ""} {
		ai := &fakeCompleter{resp: resp}
		recs, err := NewPipeline(ai).Listings(context.Background(), "copart", nil, Hints{}, "<html/>")
		if err != nil {
			t.Errorf("%q: unexpected error %v", resp, err)
		}
		if len(recs) != 0 {
			t.Errorf("%q: got %d records", resp, len(recs))
		}
	}
}

func TestListingsAIErrorYieldsEmpty(t *testing.T) {
	ai := &fakeCompleter{err: errors.New("503")}
	recs, err := NewPipeline(ai).Listings(context.Background(), "copart", nil, Hints{}, "<html/>")
	if err != nil || len(recs) != 0 {
		t.Fatalf("got %v, %v; want empty, nil", recs, err)
	}
}

func TestListingsWithoutAI(t *testing.T) {
	recs, err := NewPipeline(nil).Listings(context.Background(), "copart", nil, Hints{}, "<html/>")
	if err != nil || len(recs) != 0 {
		t.Fatalf("got %v, %v; want empty, nil", recs, err)
	}
}

func TestDetail(t *testing.T) {
	ai := &fakeCompleter{resp: `{"vin": "1HGCM82633A004352"}`}
	p := NewPipeline(ai)

	rec, ok, err := p.Detail(context.Background(), "copart", nil, Hints{}, "<html/>")
	if err != nil || !ok {
		t.Fatalf("Detail: ok=%t err=%v", ok, err)
	}
	if v := rec.VIN("vin"); v == nil || *v != "1HGCM82633A004352" {
		t.Errorf("vin = %v", v)
	}
	if ai.tokens[0] != detailMaxTokens {
		t.Errorf("max tokens = %d, want %d", ai.tokens[0], detailMaxTokens)
	}

	ai.resp = `[{"vin": "x"}]`
	if _, ok, _ := p.Detail(context.Background(), "copart", nil, Hints{}, "<html/>"); ok {
		t.Error("array response accepted as detail")
	}

	_, ok, _ = p.Detail(context.Background(), "copart", func(string) Result { return Resolve() }, Hints{}, "")
	if ok {
		t.Error("empty resolved detail reported as present")
	}
}

func TestContentSelectorNarrowsPrompt(t *testing.T) {
	ai := &fakeCompleter{resp: `[]`}
	page := `<html><body><nav>MENU-NOISE</nav><div id="results"><p>LOT-77</p></div></body></html>`

	_, err := NewPipeline(ai).Listings(context.Background(), "copart", nil, Hints{ContentSelector: "#results"}, page)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ai.prompts[0], "LOT-77") {
		t.Error("prompt lost selected content")
	}
	if strings.Contains(ai.prompts[0], "MENU-NOISE") {
		t.Error("prompt still contains content outside the selector")
	}
}

func TestContentSelectorNoMatchKeepsPage(t *testing.T) {
	ai := &fakeCompleter{resp: `[]`}
	page := `<html><body><p>LOT-77</p></body></html>`

	if _, err := NewPipeline(ai).Listings(context.Background(), "copart", nil, Hints{ContentSelector: "#missing"}, page); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ai.prompts[0], "LOT-77") {
		t.Error("unmatched selector dropped the page")
	}
}

func TestMarkdownHint(t *testing.T) {
	ai := &fakeCompleter{resp: `[]`}
	page := `<html><body><h2>2019 Honda Accord</h2><p>Lot <strong>123</strong></p></body></html>`

	if _, err := NewPipeline(ai).Listings(context.Background(), "copart", nil, Hints{Markdown: true}, page); err != nil {
		t.Fatal(err)
	}
	prompt := ai.prompts[0]
	if !strings.Contains(prompt, "## 2019 Honda Accord") {
		t.Errorf("prompt not converted to markdown:\n%s", prompt)
	}
	if strings.Contains(prompt, "<h2>") {
		t.Error("prompt still contains html tags")
	}
}

func TestFallbackTruncatesToBudget(t *testing.T) {
	ai := &fakeCompleter{resp: `[]`}
	p := NewPipeline(ai)
	p.ListingBudget = 2000

	page := "<div>" + strings.Repeat("<p>row</p>", 1000) + "</div>"
	if _, err := p.Listings(context.Background(), "copart", nil, Hints{}, page); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ai.prompts[0], "content truncated") {
		t.Error("long content not truncated")
	}
}
