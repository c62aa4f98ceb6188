package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrPermissionDenied marks writes rejected by row-level security. The
// session keeps detecting when this happens; only persistence is lost.
var ErrPermissionDenied = errors.New("database: permission denied")

// Database represents the database connection and operations
type Database struct {
	DB *sql.DB
}

// New creates a new Database instance
func New(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// Verify connection
	if err = db.Ping(); err != nil {
		return nil, err
	}

	return &Database{DB: db}, nil
}

// Init creates the required tables if they don't exist
func (d *Database) Init() error {
	createTables := `
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS cameras (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL REFERENCES locations(id),
		source_type TEXT NOT NULL,
		source_url TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'offline',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (source_type, source_url)
	);

	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		camera_id TEXT NOT NULL REFERENCES cameras(id),
		location_id TEXT NOT NULL REFERENCES locations(id),
		confidence INTEGER NOT NULL,
		model_used TEXT NOT NULL,
		thumbnail_url TEXT NOT NULL DEFAULT '',
		video_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := d.DB.Exec(createTables)
	return wrapPQ(err)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// wrapPQ converts a row-level-security rejection into ErrPermissionDenied
// so callers can show the persistent notice instead of retrying.
func wrapPQ(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42501" {
		return errors.Join(ErrPermissionDenied, err)
	}
	return err
}
