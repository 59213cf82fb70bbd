package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/viktsys/marketdata-lake/domain"
)

// metadataColumns are appended to every bronze row, in this fixed order,
// per spec.md §3/§6.
var metadataColumns = []string{"data_date", "exchange", "source_file", "ingestion_timestamp"}

// EnsureTable pins the bronze table's schema on first use for this
// exchange (spec.md §6: "non-metadata columns are pinned to the union of
// columns observed in the first successful ingestion"), or widens it with
// nullable columns for any names never seen before (union-by-name).
func (s *Store) EnsureTable(ctx context.Context, exchange domain.Exchange, header []string) error {
	table := exchange.TableName()

	existing, err := s.pinnedColumns(ctx, exchange)
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		return s.createTable(ctx, exchange, table, header)
	}

	return s.widenTable(ctx, exchange, table, existing, header)
}

func (s *Store) pinnedColumns(ctx context.Context, exchange domain.Exchange) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name FROM bronze.schema_columns WHERE exchange = ?`, string(exchange))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func (s *Store) createTable(ctx context.Context, exchange domain.Exchange, table string, header []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	colDefs := make([]string, 0, len(header)+len(metadataColumns))
	for _, col := range header {
		colDefs = append(colDefs, fmt.Sprintf("%q VARCHAR", col))
	}
	colDefs = append(colDefs,
		`data_date DATE`,
		`exchange TEXT`,
		`source_file TEXT`,
		`ingestion_timestamp TIMESTAMP`,
	)

	createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, joinComma(colDefs))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create bronze table %s: %w", table, err)
	}

	for i, col := range header {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bronze.schema_columns (exchange, column_name, position) VALUES (?, ?, ?)
			 ON CONFLICT (exchange, column_name) DO NOTHING`,
			string(exchange), col, i); err != nil {
			return fmt.Errorf("failed to pin schema column %s for %s: %w", col, exchange, err)
		}
	}

	return tx.Commit()
}

func (s *Store) widenTable(ctx context.Context, exchange domain.Exchange, table string, existing map[string]bool, header []string) error {
	var newCols []string
	for _, col := range header {
		if !existing[col] {
			newCols = append(newCols, col)
		}
	}
	if len(newCols) == 0 {
		return nil
	}
	sort.Strings(newCols)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for i, col := range newCols {
		alterSQL := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %q VARCHAR", table, col)
		if _, err := tx.ExecContext(ctx, alterSQL); err != nil {
			return fmt.Errorf("failed to widen bronze table %s with column %s: %w", table, col, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bronze.schema_columns (exchange, column_name, position) VALUES (?, ?, ?)
			 ON CONFLICT (exchange, column_name) DO NOTHING`,
			string(exchange), col, len(existing)+i); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// PinnedColumnOrder returns the column names pinned for exchange, in the
// order they were first observed (columns first seen in the same widening
// are ordered by name), for building INSERT statements.
func (s *Store) PinnedColumnOrder(ctx context.Context, exchange domain.Exchange) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name FROM bronze.schema_columns WHERE exchange = ? ORDER BY position`, string(exchange))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
