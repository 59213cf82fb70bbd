// Package store is the Analytical Store adapter: an embedded, single-writer
// DuckDB database file holding the bronze fact tables, the progress
// ledger, and the daily/weekly aggregate tables (spec.md §4.2). It is
// modeled after the teacher's database/database.go connection-setup shape,
// but the underlying engine is DuckDB (via the go-duckdb database/sql
// driver, grounded on rudderlabs-rudder-server's blank import of the same
// driver in its DuckDB-backed reporting tests) rather than Postgres — this
// process owns exactly one writable handle to the file, per spec.md §5.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/marcboeker/go-duckdb"
)

// Store wraps the single writable DuckDB connection for this process.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or attaches to) the DuckDB file at path, takes the
// process-wide advisory lock sidecar, and idempotently initialises the
// bronze/gold schemas and their tables (spec.md §4.2: "CREATE IF NOT
// EXISTS for schemas, tables, and indexes at startup").
func Open(path string) (*Store, error) {
	if err := acquireFileLock(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		releaseFileLock(path)
		return nil, fmt.Errorf("failed to open analytical store %s: %w", path, err)
	}

	// DuckDB is a single-writer engine; this process holds the one handle.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		releaseFileLock(path)
		return nil, fmt.Errorf("failed to initialise analytical store schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS bronze`,
		`CREATE SCHEMA IF NOT EXISTS gold`,
		`CREATE SEQUENCE IF NOT EXISTS bronze.load_progress_id_seq`,
		`CREATE TABLE IF NOT EXISTS bronze.load_progress (
			id BIGINT PRIMARY KEY DEFAULT nextval('bronze.load_progress_id_seq'),
			exchange VARCHAR NOT NULL,
			data_date DATE NOT NULL,
			file_path VARCHAR NOT NULL,
			file_size_bytes BIGINT,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			status VARCHAR NOT NULL,
			records_loaded BIGINT,
			error_message TEXT,
			created_at TIMESTAMP DEFAULT NOW(),
			UNIQUE(exchange, data_date)
		)`,
		`CREATE TABLE IF NOT EXISTS bronze.schema_columns (
			exchange VARCHAR NOT NULL,
			column_name VARCHAR NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (exchange, column_name)
		)`,
		`CREATE SEQUENCE IF NOT EXISTS gold.daily_load_stats_id_seq`,
		`CREATE TABLE IF NOT EXISTS gold.daily_load_stats (
			id BIGINT PRIMARY KEY DEFAULT nextval('gold.daily_load_stats_id_seq'),
			stats_date DATE NOT NULL,
			exchange VARCHAR NOT NULL,
			total_files INTEGER DEFAULT 0,
			successful_files INTEGER DEFAULT 0,
			failed_files INTEGER DEFAULT 0,
			total_records BIGINT DEFAULT 0,
			avg_records_per_file DECIMAL(24,2),
			total_processing_time_seconds DECIMAL(18,2),
			total_file_size_bytes BIGINT,
			avg_file_size_bytes DECIMAL(24,2),
			created_at TIMESTAMP DEFAULT NOW(),
			UNIQUE(stats_date, exchange)
		)`,
		`CREATE SEQUENCE IF NOT EXISTS gold.weekly_load_stats_id_seq`,
		`CREATE TABLE IF NOT EXISTS gold.weekly_load_stats (
			id BIGINT PRIMARY KEY DEFAULT nextval('gold.weekly_load_stats_id_seq'),
			week_ending DATE NOT NULL,
			exchange VARCHAR NOT NULL,
			avg_daily_files DECIMAL(18,2),
			avg_daily_records DECIMAL(24,2),
			total_files INTEGER DEFAULT 0,
			total_records BIGINT DEFAULT 0,
			avg_processing_time_seconds DECIMAL(18,2),
			created_at TIMESTAMP DEFAULT NOW(),
			UNIQUE(week_ending, exchange)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema init statement failed (%s): %w", stmt, err)
		}
	}
	return nil
}

// Exec runs a non-query statement outside of any explicit transaction.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// Query runs a query outside of any explicit transaction.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query outside of any explicit transaction.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Begin opens a new Tx for a single ingestion job.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// TxHandle exposes the underlying *sql.Tx for callers that need to run
// additional statements inside the same transaction as a bulk load. The
// worker's post-load record count does not use it: that count runs after
// the commit.
func (t *Tx) TxHandle() *sql.Tx { return t.tx }

// Close releases the DuckDB handle and the advisory file lock.
func (s *Store) Close() error {
	err := s.db.Close()
	releaseFileLock(s.path)
	return err
}

// acquireFileLock/releaseFileLock implement the defensive single-writer
// assertion described in SPEC_FULL.md §5: a sidecar ".lock" file created
// exclusively at Open time and removed at Close, so two processes never
// silently share one DuckDB file. This does not replace DuckDB's own
// locking; it fails fast with a clear error instead of DuckDB's opaque one.
func acquireFileLock(path string) error {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("analytical store %s is already locked by another process (found %s); each process must own a disjoint database file", path, lockPath)
		}
		return err
	}
	return f.Close()
}

func releaseFileLock(path string) {
	_ = os.Remove(path + ".lock")
}
