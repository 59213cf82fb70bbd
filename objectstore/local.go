package objectstore

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/ierr"
)

// LocalObjectStore reads gzipped CSV files from a local directory laid out
// with the same key structure S3 would use. It exists purely for tests and
// local/dev runs without live object-store credentials, generalizing the
// teacher's filesystem-rooted ProcessDirectory input model
// (ingest/processor.go) to the ObjectStore interface.
type LocalObjectStore struct {
	Root string
}

func NewLocalObjectStore(root string) *LocalObjectStore {
	return &LocalObjectStore{Root: root}
}

func (l *LocalObjectStore) Head(_ context.Context, exchange domain.Exchange, dataDate time.Time) (ObjectMeta, error) {
	key := BuildKey(exchange, dataDate, "Data")
	full := filepath.Join(l.Root, key)
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return ObjectMeta{}, &ierr.NotFound{Path: key}
	}
	if err != nil {
		return ObjectMeta{}, &ierr.TransientIO{Op: "stat", Err: err}
	}
	return ObjectMeta{Path: key, SizeBytes: info.Size()}, nil
}

func (l *LocalObjectStore) Open(_ context.Context, exchange domain.Exchange, dataDate time.Time) (io.ReadCloser, error) {
	key := BuildKey(exchange, dataDate, "Data")
	full := filepath.Join(l.Root, key)
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, &ierr.NotFound{Path: key}
	}
	if err != nil {
		return nil, &ierr.TransientIO{Op: "open", Err: err}
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, &ierr.DataMalformed{Context: key, Err: err}
	}
	return &gzipReadCloser{gz: gz, body: f}, nil
}
