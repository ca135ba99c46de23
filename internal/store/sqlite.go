// Package store caches fetched wiki pages in SQLite so resumed enrichment
// runs do not refetch documents for stations that still need extraction.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// PageCache stores fetched source documents keyed by station ID.
type PageCache struct {
	db *sql.DB
}

// CachedPage is one cached document.
type CachedPage struct {
	ID        string
	StationID string
	URL       string
	HTML      string
	FetchedAt time.Time
	ExpiresAt time.Time
}

// NewPageCache opens a SQLite database at the given path and configures
// WAL mode.
func NewPageCache(dsn string) (*PageCache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "pagecache: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "pagecache: exec %s", pragma)
		}
	}
	return &PageCache{db: db}, nil
}

const pageCacheMigration = `
CREATE TABLE IF NOT EXISTS page_cache (
	id         TEXT PRIMARY KEY,
	station_id TEXT NOT NULL,
	url        TEXT NOT NULL,
	html       TEXT NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_page_cache_station_id ON page_cache(station_id);
CREATE INDEX IF NOT EXISTS idx_page_cache_expires_at ON page_cache(expires_at);
`

// Migrate creates the cache schema if needed.
func (c *PageCache) Migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, pageCacheMigration)
	return eris.Wrap(err, "pagecache: migrate")
}

// Close closes the underlying database.
func (c *PageCache) Close() error {
	return c.db.Close()
}

// Get returns the freshest unexpired cached page for the station, or nil
// if none exists.
func (c *PageCache) Get(ctx context.Context, stationID string) (*CachedPage, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, station_id, url, html, fetched_at, expires_at FROM page_cache
		 WHERE station_id = ? AND expires_at > datetime('now')
		 ORDER BY fetched_at DESC LIMIT 1`,
		stationID,
	)

	var p CachedPage
	err := row.Scan(&p.ID, &p.StationID, &p.URL, &p.HTML, &p.FetchedAt, &p.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "pagecache: get")
	}
	return &p, nil
}

// Put stores a fetched page with the given TTL.
func (c *PageCache) Put(ctx context.Context, stationID, url, html string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO page_cache (id, station_id, url, html, fetched_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), stationID, url, html, now, now.Add(ttl),
	)
	return eris.Wrap(err, "pagecache: put")
}

// DeleteExpired removes expired rows and returns how many were deleted.
func (c *PageCache) DeleteExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM page_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "pagecache: delete expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "pagecache: rows affected")
}
