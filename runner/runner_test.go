package runner

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/ierr"
	"github.com/viktsys/marketdata-lake/ledger"
	"github.com/viktsys/marketdata-lake/objectstore"
	"github.com/viktsys/marketdata-lake/store"
	"github.com/viktsys/marketdata-lake/worker"
)

type stringReadCloser struct{ io.Reader }

func (stringReadCloser) Close() error { return nil }

// perExchangeObjectStore lets a test control whether each exchange has data.
type perExchangeObjectStore struct {
	bodies map[domain.Exchange]string
}

func (p *perExchangeObjectStore) Head(ctx context.Context, exchange domain.Exchange, dataDate time.Time) (objectstore.ObjectMeta, error) {
	if _, ok := p.bodies[exchange]; !ok {
		return objectstore.ObjectMeta{}, &ierr.NotFound{Path: string(exchange)}
	}
	return objectstore.ObjectMeta{Path: string(exchange) + "-file", SizeBytes: 10}, nil
}

func (p *perExchangeObjectStore) Open(ctx context.Context, exchange domain.Exchange, dataDate time.Time) (io.ReadCloser, error) {
	return stringReadCloser{Reader: strings.NewReader(p.bodies[exchange])}, nil
}

func newTestRunner(t *testing.T, objs objectstore.ObjectStore) *Runner {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.duckdb")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	l := ledger.New(s, nil, 2*time.Hour)
	w := worker.New(objs, s, l)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(w, s, log)
}

func TestRunDispatchesInDeterministicOrderAndExitsZeroOnSuccess(t *testing.T) {
	objs := &perExchangeObjectStore{bodies: map[domain.Exchange]string{
		domain.LSE: "ticker,price\nAAA,1\n",
		domain.CME: "ticker,price\nBBB,2\n",
		domain.NYQ: "ticker,price\nCCC,3\n",
	}}
	r := newTestRunner(t, objs)
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	summary := r.Run(context.Background(), d, []domain.Exchange{domain.NYQ, domain.LSE, domain.CME}, false)

	require.Equal(t, 0, summary.ExitCode)
	require.Len(t, summary.Results, 3)
	for _, ex := range domain.Order {
		require.Equal(t, domain.StatusCompleted, summary.Results[ex].Status)
	}

	// Each claim inserts its progress record with the next sequence id, so
	// ordering by id gives the order in which the workers were dispatched.
	rows, err := r.analytical.Query(context.Background(), `SELECT exchange FROM bronze.load_progress ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var dispatched []domain.Exchange
	for rows.Next() {
		var ex string
		require.NoError(t, rows.Scan(&ex))
		dispatched = append(dispatched, domain.Exchange(ex))
	}
	require.NoError(t, rows.Err())
	require.Equal(t, domain.Order, dispatched)
}

func TestRunExitsNonZeroOnAnyFailure(t *testing.T) {
	objs := &perExchangeObjectStore{bodies: map[domain.Exchange]string{
		domain.LSE: "ticker,price\nAAA,1\n",
		domain.CME: "ticker,price\nBBB,2\n",
	}}
	r := newTestRunner(t, objs)
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	// Simulate CME already claimed by another live worker (fresh, non-stale).
	_, err := r.analytical.Exec(context.Background(), `INSERT INTO bronze.load_progress (exchange, data_date, file_path, start_time, status) VALUES (?, ?, ?, ?, ?)`,
		string(domain.CME), d, "other", time.Now().UTC(), string(domain.StatusStarted))
	require.NoError(t, err)

	summary := r.Run(context.Background(), d, []domain.Exchange{domain.LSE, domain.CME}, false)

	require.Equal(t, 1, summary.ExitCode)
	require.Equal(t, domain.StatusCompleted, summary.Results[domain.LSE].Status)
	require.Equal(t, domain.StatusFailed, summary.Results[domain.CME].Status)
}
