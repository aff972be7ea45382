package cache

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 database/sql driver
)

// SQLiteCache is an alternate TileCache backend adapted from
// sfomuseum-go-tilepacks/tilepack/mbtiles_outputter.go: that file's
// "images(tile_id TEXT, tile_data BLOB)" table is already exactly the shape
// a content-addressed cache needs, so this keeps that schema verbatim and
// drops the companion "map" table, which existed there only to index tiles
// by (zoom, column, row) — a slippy-map concept this pipeline has no use
// for, since a TileReference's key is its URL, not a tile coordinate.
//
// Useful when many small cache files would be unkind to the filesystem
// (thousands of tiny tiles on a networked volume); FileCache remains the
// default.
type SQLiteCache struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteCache opens (creating if needed) a sqlite3 database at path and
// ensures the images table exists.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite tile cache %s: %w", path, err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS images (
			tile_id   TEXT NOT NULL,
			tile_data BLOB NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS images_id ON images (tile_id);
		PRAGMA synchronous=OFF;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising sqlite tile cache schema: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Get(url string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	row := c.db.QueryRow("SELECT tile_data FROM images WHERE tile_id = ? LIMIT 1", hashURL(url))
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (c *SQLiteCache) Put(url string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO images (tile_id, tile_data) VALUES (?, ?)",
		hashURL(url), data,
	)
	return err
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
