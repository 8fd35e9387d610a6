// Package sqlite implements the broker stores on a local SQLite file using
// the pure-Go driver. All writes serialize through a single connection; reads
// go through a small separate pool.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// DBFileName is the database file inside the data directory.
const DBFileName = "broker.db"

// DB wraps the writer and reader pools for one database file.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	path   string
}

// Open opens (creating if needed) the broker database under dataDir and
// applies embedded migrations. Synchronous commits stay on so every state
// transition observable by a client is durable before it is acknowledged.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, DBFileName)
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer connection eliminates SQLITE_BUSY between concurrent writers.
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	db := &DB{writer: writer, reader: reader, path: path}
	if err := db.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return db, nil
}

// Close closes both pools.
func (d *DB) Close() error {
	rerr := d.reader.Close()
	werr := d.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Writer exposes the single-connection write pool.
func (d *DB) Writer() *sql.DB { return d.writer }

// Reader exposes the read pool.
func (d *DB) Reader() *sql.DB { return d.reader }

// execWrite runs a statement on the writer pool.
func (d *DB) execWrite(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.writer.ExecContext(ctx, query, args...)
}

// Timestamps are stored as RFC3339Nano UTC strings.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
