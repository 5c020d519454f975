package workers

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"auction_scraper/models"
)

// LogFunc records a worker event in the scrape_logs table.
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}

type logStore interface {
	Log(ctx context.Context, runID *uuid.UUID, level models.LogLevel, message, site string) error
}

// StoreLogger writes worker events to the store without a run id.
func StoreLogger(store logStore) LogFunc {
	return func(level models.LogLevel, source, message string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Log(ctx, nil, level, message, source); err != nil {
			log.Printf("[warn] %s: log not stored: %v", source, err)
		}
	}
}
