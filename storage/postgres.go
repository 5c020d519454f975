package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"auction_scraper/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE SCHEMA IF NOT EXISTS scraper;

	CREATE TABLE IF NOT EXISTS scraper.listings (
		source_site TEXT NOT NULL,
		id TEXT NOT NULL,
		url TEXT,
		year INTEGER,
		make TEXT,
		model TEXT,
		trim TEXT,
		miles INTEGER,
		current_bid INTEGER,
		buy_now_price INTEGER,
		condition TEXT,
		damage_type TEXT,
		secondary_damage TEXT,
		location TEXT,
		sale_date TIMESTAMPTZ,
		thumbnail_url TEXT,
		scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (source_site, id)
	);

	CREATE TABLE IF NOT EXISTS scraper.details (
		source_site TEXT NOT NULL,
		id TEXT NOT NULL,
		vin TEXT,
		engine TEXT,
		transmission TEXT,
		drive_type TEXT,
		fuel_type TEXT,
		color TEXT,
		interior_color TEXT,
		keys TEXT,
		airbags TEXT,
		seller TEXT,
		title_type TEXT,
		images TEXT[],
		description TEXT,
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (source_site, id),
		FOREIGN KEY (source_site, id) REFERENCES scraper.listings (source_site, id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS scraper.detail_attempts (
		source_site TEXT NOT NULL,
		id TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		last_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (source_site, id),
		FOREIGN KEY (source_site, id) REFERENCES scraper.listings (source_site, id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS scraper.runs (
		id UUID PRIMARY KEY,
		site TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'search',
		criteria JSONB,
		status TEXT NOT NULL,
		listings_found INTEGER NOT NULL DEFAULT 0,
		details_fetched INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS scraper.scrape_logs (
		id BIGSERIAL PRIMARY KEY,
		run_id UUID,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		site TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_listings_make ON scraper.listings(make);
	CREATE INDEX IF NOT EXISTS idx_listings_model ON scraper.listings(model);
	CREATE INDEX IF NOT EXISTS idx_listings_year ON scraper.listings(year);
	CREATE INDEX IF NOT EXISTS idx_listings_current_bid ON scraper.listings(current_bid);
	CREATE INDEX IF NOT EXISTS idx_listings_scraped_at ON scraper.listings(scraped_at);
	CREATE INDEX IF NOT EXISTS idx_listings_sale_date ON scraper.listings(sale_date);
	CREATE INDEX IF NOT EXISTS idx_details_vin ON scraper.details(vin);
	CREATE INDEX IF NOT EXISTS idx_runs_site_started ON scraper.runs(site, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scraper.runs(status);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scraper.scrape_logs(run_id);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// =============================================================================
// Listings
// =============================================================================

var (
	pgUpsertListing = fmt.Sprintf(`
		INSERT INTO scraper.listings (%s)
		VALUES (%s)
		ON CONFLICT (source_site, id) DO UPDATE SET
			%s`,
		joinCols(listingColumns()), placeholders(len(listingColumns()), true), mergeSet("listings", listingFields))

	pgUpsertDetail = fmt.Sprintf(`
		INSERT INTO scraper.details (%s)
		VALUES (%s)
		ON CONFLICT (source_site, id) DO UPDATE SET
			%s`,
		joinCols(detailColumns()), placeholders(len(detailColumns()), true), mergeSet("details", detailFields))
)

func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	_, err := s.pool.Exec(ctx, pgUpsertListing, listingArgs(l)...)
	if err != nil {
		return fmt.Errorf("upsert listing %s/%s: %w", l.SourceSite, l.ID, err)
	}
	return nil
}

// UpsertListings writes the batch in one transaction and returns how many rows
// were written.
func (s *PostgresStore) UpsertListings(ctx context.Context, listings []models.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range listings {
		batch.Queue(pgUpsertListing, listingArgs(&listings[i])...)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range listings {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("upsert listing %s/%s: %w", listings[i].SourceSite, listings[i].ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(listings), nil
}

// UpsertDetail writes the listing part first so the foreign key holds, then
// the detail columns, in one transaction.
func (s *PostgresStore) UpsertDetail(ctx context.Context, d *models.Detail) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, pgUpsertListing, listingArgs(&d.Listing)...); err != nil {
		return fmt.Errorf("upsert listing %s/%s: %w", d.SourceSite, d.ID, err)
	}
	_, err = tx.Exec(ctx, pgUpsertDetail,
		d.SourceSite, d.ID,
		d.VIN, d.Engine, d.Transmission, d.DriveType, d.FuelType, d.Color, d.InteriorColor,
		d.Keys, d.Airbags, d.Seller, d.TitleType, d.Images, d.Description,
		d.UpdatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert detail %s/%s: %w", d.SourceSite, d.ID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetListing(ctx context.Context, site, id string) (*models.Listing, error) {
	query := fmt.Sprintf(`SELECT %s FROM scraper.listings WHERE source_site = $1 AND id = $2`,
		joinCols(listingColumns()))

	var l models.Listing
	err := s.pool.QueryRow(ctx, query, site, id).Scan(listingDest(&l)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) GetDetail(ctx context.Context, site, id string) (*models.Detail, error) {
	query := fmt.Sprintf(`
		SELECT %s, d.vin, d.engine, d.transmission, d.drive_type, d.fuel_type, d.color,
			d.interior_color, d.keys, d.airbags, d.seller, d.title_type, d.images, d.description
		FROM scraper.listings l
		JOIN scraper.details d ON d.source_site = l.source_site AND d.id = l.id
		WHERE l.source_site = $1 AND l.id = $2`, qualify("l", listingColumns()))

	var d models.Detail
	dest := append(listingDest(&d.Listing),
		&d.VIN, &d.Engine, &d.Transmission, &d.DriveType, &d.FuelType, &d.Color,
		&d.InteriorColor, &d.Keys, &d.Airbags, &d.Seller, &d.TitleType, &d.Images, &d.Description)
	err := s.pool.QueryRow(ctx, query, site, id).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetListingsWithoutDetails returns the newest listings that have no detail
// row yet. An empty site matches every site.
func (s *PostgresStore) GetListingsWithoutDetails(ctx context.Context, limit int, site string) ([]models.Listing, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM scraper.listings l
		LEFT JOIN scraper.details d ON d.source_site = l.source_site AND d.id = l.id
		LEFT JOIN scraper.detail_attempts a ON a.source_site = l.source_site AND a.id = l.id
		WHERE d.id IS NULL AND ($1 = '' OR l.source_site = $1)
			AND (a.attempts IS NULL OR a.attempts < $2)
		ORDER BY a.last_attempt_at ASC NULLS FIRST, l.scraped_at DESC
		LIMIT $3`, qualify("l", listingColumns()))

	rows, err := s.pool.Query(ctx, query, site, MaxDetailAttempts, normalizeLimit(limit, 50))
	if err != nil {
		return nil, err
	}
	return collectListings(rows)
}

// RecordDetailFailure counts a failed detail fetch against the listing.
func (s *PostgresStore) RecordDetailFailure(ctx context.Context, site, id, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraper.detail_attempts (source_site, id, attempts, last_error, last_attempt_at)
		VALUES ($1, $2, 1, $3, NOW())
		ON CONFLICT (source_site, id) DO UPDATE SET
			attempts = scraper.detail_attempts.attempts + 1,
			last_error = EXCLUDED.last_error,
			last_attempt_at = EXCLUDED.last_attempt_at`,
		site, id, reason)
	return err
}

func (s *PostgresStore) ListListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scraper.listings
		WHERE ($1 = '' OR source_site = $1)
			AND ($2 = '' OR make ILIKE '%%' || $2 || '%%')
			AND ($3 = '' OR model ILIKE '%%' || $3 || '%%')
			AND ($4::int IS NULL OR year >= $4)
			AND ($5::int IS NULL OR year <= $5)
		ORDER BY scraped_at DESC, id
		LIMIT $6 OFFSET $7`, joinCols(listingColumns()))

	rows, err := s.pool.Query(ctx, query, f.Site, f.Make, f.Model, f.YearMin, f.YearMax,
		normalizeLimit(f.Limit, 100), f.Offset)
	if err != nil {
		return nil, err
	}
	return collectListings(rows)
}

func collectListings(rows pgx.Rows) ([]models.Listing, error) {
	defer rows.Close()
	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(listingDest(&l)...); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// =============================================================================
// Runs & Logs
// =============================================================================

func (s *PostgresStore) StartRun(ctx context.Context, run *models.ScrapeRun) error {
	criteria, err := marshalCriteria(run.Criteria)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scraper.runs (id, site, kind, criteria, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Site, run.Kind, criteria, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scraper.runs SET status = $2, listings_found = $3, details_fetched = $4,
			errors = $5, error_message = $6, completed_at = $7
		WHERE id = $1`,
		run.ID, run.Status, run.ListingsFound, run.DetailsFetched, run.Errors, run.ErrorMessage, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, site, kind, criteria, status, listings_found, details_fetched,
			errors, error_message, started_at, completed_at
		FROM scraper.runs
		ORDER BY started_at DESC
		LIMIT $1`, normalizeLimit(limit, 20))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var r models.ScrapeRun
		var criteria []byte
		if err := rows.Scan(&r.ID, &r.Site, &r.Kind, &criteria, &r.Status, &r.ListingsFound,
			&r.DetailsFetched, &r.Errors, &r.ErrorMessage, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		if r.Criteria, err = unmarshalCriteria(criteria); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ReconcileStaleRuns marks runs still "running" after olderThan as abandoned.
func (s *PostgresStore) ReconcileStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scraper.runs SET status = $1, error_message = $2, completed_at = NOW()
		WHERE status = $3 AND started_at < $4`,
		models.RunStatusFailed, models.RunAbandoned, models.RunStatusRunning, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("reconcile runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Log(ctx context.Context, runID *uuid.UUID, level models.LogLevel, message, site string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraper.scrape_logs (run_id, timestamp, level, message, site)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, time.Now().UTC(), level, message, site)
	return err
}

// =============================================================================
// Stats
// =============================================================================

func (s *PostgresStore) GetStatsBySite(ctx context.Context) ([]models.SiteStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.source_site,
			COUNT(*),
			COUNT(d.id),
			COUNT(DISTINCT l.make),
			COUNT(DISTINCT l.model),
			COUNT(DISTINCT d.vin),
			MIN(l.scraped_at),
			MAX(l.updated_at),
			(SELECT started_at FROM scraper.runs r WHERE r.site = l.source_site ORDER BY started_at DESC LIMIT 1),
			(SELECT status FROM scraper.runs r WHERE r.site = l.source_site ORDER BY started_at DESC LIMIT 1)
		FROM scraper.listings l
		LEFT JOIN scraper.details d ON d.source_site = l.source_site AND d.id = l.id
		GROUP BY l.source_site
		ORDER BY l.source_site`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.SiteStats
	for rows.Next() {
		var st models.SiteStats
		if err := rows.Scan(&st.Site, &st.TotalListings, &st.DetailsFetched, &st.UniqueMakes,
			&st.UniqueModels, &st.UniqueVINs, &st.FirstScraped, &st.LastScraped,
			&st.LastRunAt, &st.LastRunStatus); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
