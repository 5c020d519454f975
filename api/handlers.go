package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"auction_scraper/models"
)

const maxLimit = 500

type errorResponse struct {
	Error string `json:"error"`
}

func fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Printf("[error] api: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		err = errors.New("internal error")
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

// queryInt reads an optional integer parameter. A missing value returns nil.
func queryInt(c *gin.Context, name string) (*int, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return &v, nil
}

func limitParam(c *gin.Context, def int) (int, error) {
	v, err := queryInt(c, "limit")
	if err != nil {
		return 0, err
	}
	if v == nil || *v == 0 {
		return def, nil
	}
	return min(*v, maxLimit), nil
}

func health(startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(startTime).Round(time.Second).String(),
		})
	}
}

func stats(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := store.GetStatsBySite(c.Request.Context())
		if err != nil {
			fail(c, http.StatusInternalServerError, err)
			return
		}
		if st == nil {
			st = []models.SiteStats{}
		}
		c.JSON(http.StatusOK, gin.H{"sites": st})
	}
}

func listListings(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := models.ListingFilter{
			Site:  c.Query("site"),
			Make:  c.Query("make"),
			Model: c.Query("model"),
		}
		var err error
		if f.YearMin, err = queryInt(c, "year_min"); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
		if f.YearMax, err = queryInt(c, "year_max"); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
		if f.Limit, err = limitParam(c, 100); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
		offset, err := queryInt(c, "offset")
		if err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
		if offset != nil {
			f.Offset = *offset
		}

		listings, err := store.ListListings(c.Request.Context(), f)
		if err != nil {
			fail(c, http.StatusInternalServerError, err)
			return
		}
		if listings == nil {
			listings = []models.Listing{}
		}
		c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
	}
}

func pendingDetails(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := limitParam(c, 50)
		if err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
		listings, err := store.GetListingsWithoutDetails(c.Request.Context(), limit, c.Query("site"))
		if err != nil {
			fail(c, http.StatusInternalServerError, err)
			return
		}
		if listings == nil {
			listings = []models.Listing{}
		}
		c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
	}
}

// getListing returns the detail record when one exists, otherwise the bare listing.
func getListing(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		site, id := c.Param("site"), c.Param("id")
		ctx := c.Request.Context()

		d, err := store.GetDetail(ctx, site, id)
		if err != nil {
			fail(c, http.StatusInternalServerError, err)
			return
		}
		if d != nil {
			c.JSON(http.StatusOK, gin.H{"listing": d, "has_detail": true})
			return
		}

		l, err := store.GetListing(ctx, site, id)
		if err != nil {
			fail(c, http.StatusInternalServerError, err)
			return
		}
		if l == nil {
			fail(c, http.StatusNotFound, fmt.Errorf("listing %s/%s not found", site, id))
			return
		}
		c.JSON(http.StatusOK, gin.H{"listing": l, "has_detail": false})
	}
}

func recentRuns(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := limitParam(c, 20)
		if err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
		runs, err := store.RecentRuns(c.Request.Context(), limit)
		if err != nil {
			fail(c, http.StatusInternalServerError, err)
			return
		}
		if runs == nil {
			runs = []models.ScrapeRun{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}
