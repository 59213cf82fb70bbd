package worker

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/ierr"
	"github.com/viktsys/marketdata-lake/ledger"
	"github.com/viktsys/marketdata-lake/objectstore"
	"github.com/viktsys/marketdata-lake/store"
)

type stringReadCloser struct{ io.Reader }

func (stringReadCloser) Close() error { return nil }

// fakeObjectStore lets each test control Head/Open independently of the
// bit-exact path convention exercised in objectstore's own tests.
type fakeObjectStore struct {
	meta    objectstore.ObjectMeta
	headErr error
	body    string
	openErr error
}

func (f *fakeObjectStore) Head(ctx context.Context, exchange domain.Exchange, dataDate time.Time) (objectstore.ObjectMeta, error) {
	if f.headErr != nil {
		return objectstore.ObjectMeta{}, f.headErr
	}
	return f.meta, nil
}

func (f *fakeObjectStore) Open(ctx context.Context, exchange domain.Exchange, dataDate time.Time) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return stringReadCloser{Reader: strings.NewReader(f.body)}, nil
}

func newTestWorker(t *testing.T, objs objectstore.ObjectStore) (*Worker, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.duckdb")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	l := ledger.New(s, nil, 2*time.Hour)
	return New(objs, s, l), s
}

func TestRunCompletesAndLoadsRows(t *testing.T) {
	objs := &fakeObjectStore{
		meta: objectstore.ObjectMeta{Path: "LSEG/TRTH/LSE/ingestion/2025-01-15/data/merged/f.csv.gz", SizeBytes: 100},
		body: "ticker,price\nAAA,1.1\nBBB,2.2\n",
	}
	w, _ := newTestWorker(t, objs)

	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	res := w.Run(context.Background(), Job{Exchange: domain.LSE, Date: d})

	require.NoError(t, res.Err)
	require.Equal(t, domain.StatusCompleted, res.Status)
	require.Equal(t, int64(2), res.Records)
}

func TestRunSkipsOnNotFound(t *testing.T) {
	objs := &fakeObjectStore{headErr: &ierr.NotFound{Path: "missing"}}
	w, _ := newTestWorker(t, objs)

	res := w.Run(context.Background(), Job{Exchange: domain.CME, Date: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)})
	require.Equal(t, domain.StatusSkipped, res.Status)
	require.Equal(t, "no source file", res.Reason)
}

func TestRunSkipsOnPreClaimCancellation(t *testing.T) {
	objs := &fakeObjectStore{meta: objectstore.ObjectMeta{Path: "p", SizeBytes: 1}}
	w, _ := newTestWorker(t, objs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := w.Run(ctx, Job{Exchange: domain.NYQ, Date: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)})
	require.Equal(t, domain.StatusSkipped, res.Status)
	require.Equal(t, "shutdown", res.Reason)
}

func TestRunReportsAlreadyDoneAsSkipped(t *testing.T) {
	objs := &fakeObjectStore{
		meta: objectstore.ObjectMeta{Path: "p", SizeBytes: 1},
		body: "ticker,price\nAAA,1.1\n",
	}
	w, _ := newTestWorker(t, objs)
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	first := w.Run(context.Background(), Job{Exchange: domain.LSE, Date: d})
	require.Equal(t, domain.StatusCompleted, first.Status)

	second := w.Run(context.Background(), Job{Exchange: domain.LSE, Date: d})
	require.Equal(t, domain.StatusSkipped, second.Status)
	require.Equal(t, "idempotent: already completed", second.Reason)
}

func TestRunFailsOnConflict(t *testing.T) {
	objs := &fakeObjectStore{meta: objectstore.ObjectMeta{Path: "p", SizeBytes: 1}}
	w, s := newTestWorker(t, objs)
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	// Simulate another worker already holding a fresh "started" claim.
	_, err := s.Exec(context.Background(), `INSERT INTO bronze.load_progress (exchange, data_date, file_path, start_time, status) VALUES (?, ?, ?, ?, ?)`,
		string(domain.CME), d, "other", time.Now().UTC(), string(domain.StatusStarted))
	require.NoError(t, err)

	res := w.Run(context.Background(), Job{Exchange: domain.CME, Date: d})
	require.Equal(t, domain.StatusFailed, res.Status)
	require.Equal(t, "already in progress elsewhere", res.Reason)
}
