package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"auction_scraper/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate is run on open; it is exposed so both backends share the init-db path.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return s.migrate()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
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
		sale_date DATETIME,
		thumbnail_url TEXT,
		scraped_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (source_site, id)
	);

	CREATE TABLE IF NOT EXISTS details (
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
		images TEXT,
		description TEXT,
		fetched_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (source_site, id),
		FOREIGN KEY (source_site, id) REFERENCES listings (source_site, id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS detail_attempts (
		source_site TEXT NOT NULL,
		id TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		last_attempt_at DATETIME NOT NULL,
		PRIMARY KEY (source_site, id),
		FOREIGN KEY (source_site, id) REFERENCES listings (source_site, id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		site TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'search',
		criteria TEXT,
		status TEXT NOT NULL,
		listings_found INTEGER NOT NULL DEFAULT 0,
		details_fetched INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		site TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_listings_make ON listings(make);
	CREATE INDEX IF NOT EXISTS idx_listings_model ON listings(model);
	CREATE INDEX IF NOT EXISTS idx_listings_year ON listings(year);
	CREATE INDEX IF NOT EXISTS idx_listings_current_bid ON listings(current_bid);
	CREATE INDEX IF NOT EXISTS idx_listings_scraped_at ON listings(scraped_at);
	CREATE INDEX IF NOT EXISTS idx_listings_sale_date ON listings(sale_date);
	CREATE INDEX IF NOT EXISTS idx_details_vin ON details(vin);
	CREATE INDEX IF NOT EXISTS idx_runs_site_started ON runs(site, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

var (
	liteUpsertListing = fmt.Sprintf(`
		INSERT INTO listings (%s)
		VALUES (%s)
		ON CONFLICT (source_site, id) DO UPDATE SET
			%s`,
		joinCols(listingColumns()), placeholders(len(listingColumns()), false), mergeSet("listings", listingFields))

	liteUpsertDetail = fmt.Sprintf(`
		INSERT INTO details (%s)
		VALUES (%s)
		ON CONFLICT (source_site, id) DO UPDATE SET
			%s`,
		joinCols(detailColumns()), placeholders(len(detailColumns()), false), mergeSet("details", detailFields))
)

func (s *SQLiteStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	if _, err := s.db.ExecContext(ctx, liteUpsertListing, listingArgs(l)...); err != nil {
		return fmt.Errorf("upsert listing %s/%s: %w", l.SourceSite, l.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertListings(ctx context.Context, listings []models.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, liteUpsertListing)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range listings {
		if _, err := stmt.ExecContext(ctx, listingArgs(&listings[i])...); err != nil {
			return 0, fmt.Errorf("upsert listing %s/%s: %w", listings[i].SourceSite, listings[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(listings), nil
}

func (s *SQLiteStore) UpsertDetail(ctx context.Context, d *models.Detail) error {
	var images any
	if d.Images != nil {
		raw, err := json.Marshal(d.Images)
		if err != nil {
			return fmt.Errorf("encode images: %w", err)
		}
		images = string(raw)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, liteUpsertListing, listingArgs(&d.Listing)...); err != nil {
		return fmt.Errorf("upsert listing %s/%s: %w", d.SourceSite, d.ID, err)
	}
	_, err = tx.ExecContext(ctx, liteUpsertDetail,
		d.SourceSite, d.ID,
		d.VIN, d.Engine, d.Transmission, d.DriveType, d.FuelType, d.Color, d.InteriorColor,
		d.Keys, d.Airbags, d.Seller, d.TitleType, images, d.Description,
		d.UpdatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert detail %s/%s: %w", d.SourceSite, d.ID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetListing(ctx context.Context, site, id string) (*models.Listing, error) {
	query := fmt.Sprintf(`SELECT %s FROM listings WHERE source_site = ? AND id = ?`, joinCols(listingColumns()))

	var l models.Listing
	err := s.db.QueryRowContext(ctx, query, site, id).Scan(listingDest(&l)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLiteStore) GetDetail(ctx context.Context, site, id string) (*models.Detail, error) {
	query := fmt.Sprintf(`
		SELECT %s, d.vin, d.engine, d.transmission, d.drive_type, d.fuel_type, d.color,
			d.interior_color, d.keys, d.airbags, d.seller, d.title_type, d.images, d.description
		FROM listings l
		JOIN details d ON d.source_site = l.source_site AND d.id = l.id
		WHERE l.source_site = ? AND l.id = ?`, qualify("l", listingColumns()))

	var d models.Detail
	var images sql.NullString
	dest := append(listingDest(&d.Listing),
		&d.VIN, &d.Engine, &d.Transmission, &d.DriveType, &d.FuelType, &d.Color,
		&d.InteriorColor, &d.Keys, &d.Airbags, &d.Seller, &d.TitleType, &images, &d.Description)
	err := s.db.QueryRowContext(ctx, query, site, id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if images.Valid {
		if err := json.Unmarshal([]byte(images.String), &d.Images); err != nil {
			return nil, fmt.Errorf("decode images: %w", err)
		}
	}
	return &d, nil
}

func (s *SQLiteStore) GetListingsWithoutDetails(ctx context.Context, limit int, site string) ([]models.Listing, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM listings l
		LEFT JOIN details d ON d.source_site = l.source_site AND d.id = l.id
		LEFT JOIN detail_attempts a ON a.source_site = l.source_site AND a.id = l.id
		WHERE d.id IS NULL AND (? = '' OR l.source_site = ?)
			AND (a.attempts IS NULL OR a.attempts < ?)
		ORDER BY a.last_attempt_at IS NOT NULL, a.last_attempt_at, l.scraped_at DESC
		LIMIT ?`, qualify("l", listingColumns()))

	rows, err := s.db.QueryContext(ctx, query, site, site, MaxDetailAttempts, normalizeLimit(limit, 50))
	if err != nil {
		return nil, err
	}
	return scanListings(rows)
}

// RecordDetailFailure counts a failed detail fetch. Listings that are never
// tried come before failed ones, and MaxDetailAttempts failures retire a
// listing from the pending queue.
func (s *SQLiteStore) RecordDetailFailure(ctx context.Context, site, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detail_attempts (source_site, id, attempts, last_error, last_attempt_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(source_site, id) DO UPDATE SET
			attempts = detail_attempts.attempts + 1,
			last_error = excluded.last_error,
			last_attempt_at = excluded.last_attempt_at`,
		site, id, reason, time.Now().UTC())
	return err
}

func (s *SQLiteStore) ListListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error) {
	var where []string
	var args []any
	if f.Site != "" {
		where = append(where, "source_site = ?")
		args = append(args, f.Site)
	}
	if f.Make != "" {
		where = append(where, "LOWER(make) LIKE '%' || LOWER(?) || '%'")
		args = append(args, f.Make)
	}
	if f.Model != "" {
		where = append(where, "LOWER(model) LIKE '%' || LOWER(?) || '%'")
		args = append(args, f.Model)
	}
	if f.YearMin != nil {
		where = append(where, "year >= ?")
		args = append(args, *f.YearMin)
	}
	if f.YearMax != nil {
		where = append(where, "year <= ?")
		args = append(args, *f.YearMax)
	}

	query := fmt.Sprintf(`SELECT %s FROM listings`, joinCols(listingColumns()))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scraped_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, normalizeLimit(f.Limit, 100), f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanListings(rows)
}

func scanListings(rows *sql.Rows) ([]models.Listing, error) {
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

func (s *SQLiteStore) StartRun(ctx context.Context, run *models.ScrapeRun) error {
	criteria, err := marshalCriteria(run.Criteria)
	if err != nil {
		return err
	}
	var criteriaArg any
	if criteria != nil {
		criteriaArg = string(criteria)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, site, kind, criteria, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Site, string(run.Kind), criteriaArg, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, listings_found = ?, details_fetched = ?,
			errors = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		string(run.Status), run.ListingsFound, run.DetailsFetched, run.Errors, run.ErrorMessage,
		run.CompletedAt, run.ID.String())
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site, kind, criteria, status, listings_found, details_fetched,
			errors, error_message, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, normalizeLimit(limit, 20))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var r models.ScrapeRun
		var id, kind, status string
		var criteria sql.NullString
		if err := rows.Scan(&id, &r.Site, &kind, &criteria, &status, &r.ListingsFound,
			&r.DetailsFetched, &r.Errors, &r.ErrorMessage, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		r.Kind = models.RunKind(kind)
		r.Status = models.RunStatus(status)
		if r.Criteria, err = unmarshalCriteria([]byte(criteria.String)); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) ReconcileStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error_message = ?, completed_at = ?
		WHERE status = ? AND started_at < ?`,
		string(models.RunStatusFailed), models.RunAbandoned, time.Now().UTC(),
		string(models.RunStatusRunning), time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("reconcile runs: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) Log(ctx context.Context, runID *uuid.UUID, level models.LogLevel, message, site string) error {
	var run any
	if runID != nil {
		run = runID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_logs (run_id, timestamp, level, message, site)
		VALUES (?, ?, ?, ?, ?)`,
		run, time.Now().UTC(), string(level), message, site)
	return err
}

func (s *SQLiteStore) GetStatsBySite(ctx context.Context) ([]models.SiteStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.source_site,
			COUNT(*),
			COUNT(d.id),
			COUNT(DISTINCT l.make),
			COUNT(DISTINCT l.model),
			COUNT(DISTINCT d.vin),
			MIN(l.scraped_at),
			MAX(l.updated_at),
			(SELECT started_at FROM runs r WHERE r.site = l.source_site ORDER BY started_at DESC LIMIT 1),
			(SELECT status FROM runs r WHERE r.site = l.source_site ORDER BY started_at DESC LIMIT 1)
		FROM listings l
		LEFT JOIN details d ON d.source_site = l.source_site AND d.id = l.id
		GROUP BY l.source_site
		ORDER BY l.source_site`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.SiteStats
	for rows.Next() {
		var st models.SiteStats
		var first, last, lastRun sql.NullString
		if err := rows.Scan(&st.Site, &st.TotalListings, &st.DetailsFetched, &st.UniqueMakes,
			&st.UniqueModels, &st.UniqueVINs, &first, &last, &lastRun, &st.LastRunStatus); err != nil {
			return nil, err
		}
		st.FirstScraped = parseTimestamp(first)
		st.LastScraped = parseTimestamp(last)
		st.LastRunAt = parseTimestamp(lastRun)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// parseTimestamp reads a DATETIME that came back as text, which happens for
// aggregates and subqueries where SQLite drops the declared column type.
func parseTimestamp(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	s := strings.TrimSuffix(v.String, "Z")
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
