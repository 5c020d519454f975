package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"auction_scraper/models"
)

type pendingSource interface {
	GetListingsWithoutDetails(ctx context.Context, limit int, site string) ([]models.Listing, error)
}

type detailFetcher interface {
	Sites() []string
	FetchDetails(ctx context.Context, siteID string, listings []models.Listing) (*models.DetailStats, error)
}

// DetailWorker fills in detail pages for listings that only have search-row
// data, one site at a time.
type DetailWorker struct {
	store     pendingSource
	fetcher   detailFetcher
	logFn     LogFunc
	triggerCh chan struct{}
}

func NewDetailWorker(store pendingSource, fetcher detailFetcher, logFn LogFunc) *DetailWorker {
	if logFn == nil {
		logFn = NoOpLogger
	}
	return &DetailWorker{
		store:     store,
		fetcher:   fetcher,
		logFn:     logFn,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run immediately
func (w *DetailWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *DetailWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Detail worker stopping")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx, batchSize)
		case <-w.triggerCh:
			log.Println("Detail worker triggered")
			w.ProcessBatch(ctx, batchSize)
		}
	}
}

// ProcessBatch fetches up to batchSize pending details per site and returns
// the number fetched successfully.
func (w *DetailWorker) ProcessBatch(ctx context.Context, batchSize int) int {
	var total int
	for _, site := range w.fetcher.Sites() {
		if ctx.Err() != nil {
			return total
		}
		pending, err := w.store.GetListingsWithoutDetails(ctx, batchSize, site)
		if err != nil {
			log.Printf("[error] %s: pending details: %v", site, err)
			continue
		}
		if len(pending) == 0 {
			continue
		}

		stats, err := w.fetcher.FetchDetails(ctx, site, pending)
		if err != nil {
			msg := fmt.Sprintf("detail batch failed: %v", err)
			log.Printf("[error] %s: %s", site, msg)
			w.logFn(models.LogLevelError, site, msg)
		}
		if stats != nil {
			total += stats.Success
			w.logFn(models.LogLevelInfo, site, fmt.Sprintf("details: %d processed, %d fetched, %d errors",
				stats.Processed, stats.Success, stats.Errors))
		}
	}
	return total
}
