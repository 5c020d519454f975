package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"auction_scraper/models"
)

// Store is the read side of storage the API serves from.
type Store interface {
	GetStatsBySite(ctx context.Context) ([]models.SiteStats, error)
	ListListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error)
	GetListing(ctx context.Context, site, id string) (*models.Listing, error)
	GetDetail(ctx context.Context, site, id string) (*models.Detail, error)
	GetListingsWithoutDetails(ctx context.Context, limit int, site string) ([]models.Listing, error)
	RecentRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error)
}

// NewRouter builds the read-only API. mode is a gin mode ("release", "debug", "test").
func NewRouter(store Store, mode string, startTime time.Time) *gin.Engine {
	gin.SetMode(mode)

	r := gin.New()
	r.Use(gin.Recovery())
	if mode != gin.TestMode {
		r.Use(gin.Logger())
	}

	v1 := r.Group("/api/v1")
	v1.GET("/health", health(startTime))
	v1.GET("/stats", stats(store))
	v1.GET("/listings", listListings(store))
	v1.GET("/listings/pending-details", pendingDetails(store))
	v1.GET("/listings/:site/:id", getListing(store))
	v1.GET("/runs", recentRuns(store))

	return r
}
