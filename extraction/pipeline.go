package extraction

import (
	"context"
	"log"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"

	"auction_scraper/models"
)

const (
	listingMaxTokens = 4096
	detailMaxTokens  = 2048
)

// Completer is the external AI service: one prompt in, raw text out.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Pipeline resolves records from page content: the adapter's extractor
// first, the AI fallback when it defers.
type Pipeline struct {
	ai            Completer
	md            *converter.Converter
	ListingBudget int
	DetailBudget  int
}

// NewPipeline accepts a nil Completer; the fallback then yields no records.
func NewPipeline(ai Completer) *Pipeline {
	return &Pipeline{
		ai: ai,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal)),
			),
		),
		ListingBudget: ListingBudget,
		DetailBudget:  DetailBudget,
	}
}

// Listings returns the page's raw listing records. An empty result is a
// valid answer; only a Failed extractor outcome is returned as an error.
func (p *Pipeline) Listings(ctx context.Context, site string, extract Extractor, hints Hints, content string) ([]models.RawRecord, error) {
	res := Defer()
	if extract != nil {
		res = extract(content)
	}

	switch res.Outcome {
	case Resolved:
		return res.Records, nil
	case Failed:
		return nil, &ExtractError{Kind: "listing", Reason: res.Reason}
	}

	raw, ok := p.fallback(ctx, site, true, hints, content)
	if !ok {
		return nil, nil
	}
	records := parseListings(raw)
	if records == nil {
		log.Printf("[warn] %s: AI listing response was not a JSON array", site)
	}
	return records, nil
}

// Detail returns the page's detail record; false means no result.
func (p *Pipeline) Detail(ctx context.Context, site string, extract Extractor, hints Hints, content string) (models.RawRecord, bool, error) {
	res := Defer()
	if extract != nil {
		res = extract(content)
	}

	switch res.Outcome {
	case Resolved:
		if len(res.Records) == 0 {
			return nil, false, nil
		}
		return res.Records[0], true, nil
	case Failed:
		return nil, false, &ExtractError{Kind: "detail", Reason: res.Reason}
	}

	raw, ok := p.fallback(ctx, site, false, hints, content)
	if !ok {
		return nil, false, nil
	}
	rec, ok := parseDetail(raw)
	if !ok {
		log.Printf("[warn] %s: AI detail response was not a JSON object", site)
	}
	return rec, ok, nil
}

func (p *Pipeline) fallback(ctx context.Context, site string, many bool, hints Hints, content string) (string, bool) {
	if p.ai == nil {
		log.Printf("[warn] %s: no AI extractor configured, skipping fallback", site)
		return "", false
	}

	budget, maxTokens := p.DetailBudget, detailMaxTokens
	if many {
		budget, maxTokens = p.ListingBudget, listingMaxTokens
	}

	prepared := Truncate(p.prepare(site, hints, content), budget, hints.ContentMarkers...)
	prompt, err := buildPrompt(site, many, hints, prepared)
	if err != nil {
		log.Printf("[error] %s: build prompt: %v", site, err)
		return "", false
	}

	resp, err := p.ai.Complete(ctx, prompt, maxTokens)
	if err != nil {
		log.Printf("[error] %s: AI extraction failed: %v", site, err)
		return "", false
	}
	return resp, true
}

// prepare narrows content to hints.ContentSelector and optionally converts it
// to Markdown. Any failure falls back to the unmodified content.
func (p *Pipeline) prepare(site string, hints Hints, content string) string {
	out := content
	if hints.ContentSelector != "" {
		if narrowed := narrow(content, hints.ContentSelector); narrowed != "" {
			out = narrowed
		}
	}
	if hints.Markdown && p.md != nil {
		var opts []converter.ConvertOptionFunc
		if hints.BaseURL != "" {
			opts = append(opts, converter.WithDomain(hints.BaseURL))
		}
		md, err := p.md.ConvertString(out, opts...)
		if err != nil {
			log.Printf("[warn] %s: markdown conversion failed: %v", site, err)
		} else if strings.TrimSpace(md) != "" {
			out = md
		}
	}
	return out
}

func narrow(content, selector string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	var b strings.Builder
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			b.WriteString(html)
			b.WriteByte('\n')
		}
	})
	return b.String()
}
