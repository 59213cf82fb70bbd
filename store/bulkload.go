package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/ierr"
	"github.com/viktsys/marketdata-lake/objectstore"
)

// Tx wraps a single Analytical Store transaction. Every bulk_load call
// within it either fully commits or fully rolls back (spec.md §4.2).
type Tx struct {
	tx *sql.Tx
}

// Augmentations are the four literal metadata columns appended to every
// row on bulk_load (spec.md §4.2, §6).
type Augmentations struct {
	DataDate           time.Time
	Exchange           domain.Exchange
	SourceFile         string
	IngestionTimestamp time.Time
}

// BulkLoad inserts every record from stream into table, appending the
// augmentation columns to each row. The stream is consumed record-by-record
// (constant memory) through a single prepared statement reused for every
// row of this transaction; any decode or insert error aborts the whole
// call so the caller can roll back (spec.md §4.5 step 5).
func (t *Tx) BulkLoad(ctx context.Context, store *Store, exchange domain.Exchange, stream *objectstore.RecordStream, aug Augmentations) (int64, error) {
	table := exchange.TableName()

	// The pinned column list is read through this transaction: it already
	// holds the store's only connection (see Open), so a query on the pool
	// would wait forever.
	var columns []string
	rows, err := t.tx.QueryContext(ctx,
		`SELECT column_name FROM bronze.schema_columns WHERE exchange = ? ORDER BY position`, string(exchange))
	if err == nil {
		for err == nil && rows.Next() {
			var name string
			if err = rows.Scan(&name); err == nil {
				columns = append(columns, name)
			}
		}
		if err == nil {
			err = rows.Err()
		}
		rows.Close()
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load pinned schema for %s: %w", exchange, err)
	}
	if len(columns) == 0 {
		columns = stream.Header()
	}

	insertSQL := buildInsertSQL(table, columns)
	stmt, err := t.tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare bulk insert for %s: %w", table, err)
	}
	defer stmt.Close()

	var total int64
	for stream.Next() {
		rec := stream.Record()
		row := make([]any, 0, len(columns)+4)
		for _, col := range columns {
			if v, ok := rec[col]; ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		row = append(row, aug.DataDate, string(aug.Exchange), aug.SourceFile, aug.IngestionTimestamp)

		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return total, &ierr.DataMalformed{Context: fmt.Sprintf("row %d of %s", total+1, aug.SourceFile), Err: err}
		}
		total++
	}
	if stream.Err() != nil {
		return total, &ierr.DataMalformed{Context: aug.SourceFile, Err: stream.Err()}
	}

	return total, nil
}

func buildInsertSQL(table string, columns []string) string {
	cols := make([]string, 0, len(columns)+4)
	placeholders := make([]string, 0, len(columns)+4)
	for _, c := range columns {
		cols = append(cols, fmt.Sprintf("%q", c))
		placeholders = append(placeholders, "?")
	}
	cols = append(cols, "data_date", "exchange", "source_file", "ingestion_timestamp")
	placeholders = append(placeholders, "?", "?", "?", "?")

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinComma(cols), joinComma(placeholders))
}

// Commit finalizes the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction. Callers that defer Rollback after a
// successful Commit will get sql.ErrTxDone back, which is safe to ignore.
func (t *Tx) Rollback() error { return t.tx.Rollback() }
