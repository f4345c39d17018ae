package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Client wraps a SQLite database used by the local deployment target
type Client struct {
	db *sql.DB
}

// NewClient opens the database file read-only unless readWrite is set.
// Use ":memory:" for an in-process database.
func NewClient(path string, readWrite bool) (*Client, error) {
	dsn := path
	if path != ":memory:" {
		mode := "ro"
		if readWrite {
			mode = "rwc"
		}
		dsn = fmt.Sprintf("file:%s?mode=%s&_pragma=busy_timeout(5000)", path, mode)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent across queries
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	log.Info().Str("path", path).Bool("read_write", readWrite).Msg("opened SQLite reference database")
	return &Client{db: db}, nil
}

// DB returns the underlying database connection
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the database
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping verifies the connection to the database
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
