package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.duckdb")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, nil, 2*time.Hour), s
}

func TestClaimInsertsStartedOnFirstCall(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	outcome, err := l.Claim(ctx, domain.LSE, d, "some/path.csv.gz", 1024, false)
	require.NoError(t, err)
	require.Equal(t, Proceed, outcome)
}

func TestClaimAlreadyDoneAfterComplete(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	outcome, err := l.Claim(ctx, domain.LSE, d, "some/path.csv.gz", 1024, false)
	require.NoError(t, err)
	require.Equal(t, Proceed, outcome)

	require.NoError(t, l.Complete(ctx, domain.LSE, d, 42))

	outcome, err = l.Claim(ctx, domain.LSE, d, "some/path.csv.gz", 1024, false)
	require.NoError(t, err)
	require.Equal(t, AlreadyDone, outcome, "idempotent resume must not re-run a completed job")
}

func TestClaimConflictOnFreshStarted(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	outcome, err := l.Claim(ctx, domain.LSE, d, "some/path.csv.gz", 1024, false)
	require.NoError(t, err)
	require.Equal(t, Proceed, outcome)

	// Second claim while the first is still "started" and not stale.
	outcome, err = l.Claim(ctx, domain.LSE, d, "some/path.csv.gz", 1024, false)
	require.NoError(t, err)
	require.Equal(t, Conflict, outcome)
}

func TestClaimRetriesFailedUnderIdempotentMode(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	_, err := l.Claim(ctx, domain.CME, d, "p", 10, false)
	require.NoError(t, err)
	require.NoError(t, l.Fail(ctx, domain.CME, d, "boom"))

	outcome, err := l.Claim(ctx, domain.CME, d, "p", 10, true)
	require.NoError(t, err)
	require.Equal(t, Proceed, outcome, "idempotent mode must allow a retry of a failed job")
}

func TestClaimRejectsFailedRetryWithoutIdempotentMode(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	_, err := l.Claim(ctx, domain.NYQ, d, "p", 10, false)
	require.NoError(t, err)
	require.NoError(t, l.Fail(ctx, domain.NYQ, d, "boom"))

	outcome, err := l.Claim(ctx, domain.NYQ, d, "p", 10, false)
	require.NoError(t, err)
	require.Equal(t, Conflict, outcome)
}

func TestAggregatesDerivableFromProgressRecords(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	d := time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC) // a Monday

	_, err := l.Claim(ctx, domain.LSE, d, "p1", 100, false)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, domain.LSE, d, 1000))

	var totalFiles, successfulFiles int
	var totalRecords int64
	row := s.QueryRow(ctx, `SELECT total_files, successful_files, total_records FROM gold.daily_load_stats WHERE stats_date = ? AND exchange = ?`, d, string(domain.LSE))
	require.NoError(t, row.Scan(&totalFiles, &successfulFiles, &totalRecords))
	require.Equal(t, 1, totalFiles)
	require.Equal(t, 1, successfulFiles)
	require.Equal(t, int64(1000), totalRecords)

	weekEnding := WeekEndingFor(d)
	var weeklyTotalFiles int
	var weeklyTotalRecords int64
	row = s.QueryRow(ctx, `SELECT total_files, total_records FROM gold.weekly_load_stats WHERE week_ending = ? AND exchange = ?`, weekEnding, string(domain.LSE))
	require.NoError(t, row.Scan(&weeklyTotalFiles, &weeklyTotalRecords))
	require.Equal(t, 1, weeklyTotalFiles)
	require.Equal(t, int64(1000), weeklyTotalRecords)
}

func TestWeekEndingForIsMostRecentSunday(t *testing.T) {
	monday := time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC)
	sunday := time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)
	require.Equal(t, sunday, WeekEndingFor(monday))
	require.Equal(t, sunday, WeekEndingFor(sunday))
}
