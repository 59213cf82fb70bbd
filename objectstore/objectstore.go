// Package objectstore reads the daily gzipped CSV trade file for a single
// (exchange, date) pair, producing bit-exact paths (spec.md §4.1, §6) and a
// streaming, constant-memory decoded record source.
package objectstore

import (
	"context"
	"encoding/csv"
	"io"
	"time"

	"github.com/viktsys/marketdata-lake/domain"
)

// ObjectMeta describes the blob addressed by (exchange, date).
type ObjectMeta struct {
	Path      string
	SizeBytes int64
}

// ObjectStore is satisfied by the S3-backed client and, for tests and local
// runs, by the filesystem-backed LocalObjectStore.
type ObjectStore interface {
	// Head resolves the path and size for (exchange, date), or returns
	// *ierr.NotFound when no blob exists for that combination.
	Head(ctx context.Context, exchange domain.Exchange, dataDate time.Time) (ObjectMeta, error)

	// Open returns a streaming reader over the decompressed CSV bytes.
	// Callers are responsible for closing it.
	Open(ctx context.Context, exchange domain.Exchange, dataDate time.Time) (io.ReadCloser, error)
}

// RecordStream wraps a decompressed CSV body: Next() yields one header-keyed
// row at a time so callers never buffer the whole file in memory.
type RecordStream struct {
	reader  io.ReadCloser
	csv     *csv.Reader
	header  []string
	current map[string]string
	err     error
}

// NewRecordStream wraps an already-decompressed CSV body. The first row is
// consumed immediately as the header.
func NewRecordStream(r io.ReadCloser) (*RecordStream, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err == io.EOF {
		return &RecordStream{reader: r, csv: cr, header: []string{}}, nil
	}
	if err != nil {
		r.Close()
		return nil, err
	}
	// header comes from a reused-buffer reader; copy it so it survives
	// subsequent Read() calls.
	headerCopy := make([]string, len(header))
	copy(headerCopy, header)
	return &RecordStream{reader: r, csv: cr, header: headerCopy}, nil
}

// Header returns the pinned column names discovered from the first row.
func (s *RecordStream) Header() []string { return s.header }

// Next advances to the next row, returning false at EOF or on error (check
// Err() to distinguish). The returned map is only valid until the next
// call to Next.
func (s *RecordStream) Next() bool {
	row, err := s.csv.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		s.err = err
		return false
	}
	rec := make(map[string]string, len(s.header))
	for i, col := range s.header {
		if i < len(row) {
			rec[col] = row[i]
		}
	}
	s.current = rec
	return true
}

// Record returns the row produced by the last successful Next() call.
func (s *RecordStream) Record() map[string]string { return s.current }

// Err reports the first non-EOF error encountered during iteration.
func (s *RecordStream) Err() error { return s.err }

// Close releases the underlying reader.
func (s *RecordStream) Close() error { return s.reader.Close() }
