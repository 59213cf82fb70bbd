package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/ledger"
	"github.com/viktsys/marketdata-lake/shutdown"
	"github.com/viktsys/marketdata-lake/store"
)

func newTestService(t *testing.T) (*Service, *store.Store, *shutdown.Coordinator) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.duckdb")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	coord := shutdown.New(filepath.Join(t.TempDir(), "flag"), 50*time.Millisecond, log)
	return New(s, nil, coord, log), s, coord
}

func TestHealthEndpoint(t *testing.T) {
	svc, _, _ := newTestService(t)
	r := svc.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOverviewReadsLocalStoreWithoutBlocking(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	l := ledger.New(s, nil, 2*time.Hour)
	_, err := l.Claim(ctx, domain.LSE, d, "p", 10, false)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, domain.LSE, d, 5))

	// Left claimed but not completed, so it is still "started" and recent
	// enough for is_running to pick it up.
	_, err = l.Claim(ctx, domain.NYQ, d, "q", 10, false)
	require.NoError(t, err)

	r := svc.Router()
	req := httptest.NewRequest(http.MethodGet, "/api/overview", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "local", body["source"])
	require.Equal(t, float64(5), body["total_records"])
	require.Equal(t, true, body["is_running"])
	require.Contains(t, body, "shutdown_requested")
}

func TestShutdownAndResumeControlEndpoints(t *testing.T) {
	svc, _, coord := newTestService(t)
	r := svc.Router()

	req := httptest.NewRequest(http.MethodPost, "/control/shutdown", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, coord.Requested())

	req = httptest.NewRequest(http.MethodPost, "/control/resume", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, coord.Requested())
}

func TestStatisticsEndpointReturnsDailyAggregates(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	l := ledger.New(s, nil, 2*time.Hour)
	_, err := l.Claim(ctx, domain.CME, d, "p", 10, false)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, domain.CME, d, 99))

	r := svc.Router()
	req := httptest.NewRequest(http.MethodGet, "/api/statistics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "99")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "daily_statistics")
	weekly, ok := body["weekly_statistics"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, weekly)
}

func TestProgressDetailReadsDailyAggregates(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	l := ledger.New(s, nil, 2*time.Hour)
	_, err := l.Claim(ctx, domain.LSE, d, "p", 10, false)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, domain.LSE, d, 5))

	r := svc.Router()
	req := httptest.NewRequest(http.MethodGet, "/api/progress_detail?exchange=LSE", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	progress, ok := body["progress"].([]any)
	require.True(t, ok)
	require.Len(t, progress, 1)
	row := progress[0].(map[string]any)
	require.Equal(t, float64(5), row["total_records"])
}

func TestErrorsEndpointHonorsLimitParam(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	l := ledger.New(s, nil, 2*time.Hour)
	for i, ex := range domain.Order {
		d := time.Date(2025, 1, 10+i, 0, 0, 0, 0, time.UTC)
		_, err := l.Claim(ctx, ex, d, "p", 10, false)
		require.NoError(t, err)
		require.NoError(t, l.Fail(ctx, ex, d, "boom"))
	}

	r := svc.Router()
	req := httptest.NewRequest(http.MethodGet, "/api/errors?limit=1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errs, ok := body["errors"].([]any)
	require.True(t, ok)
	require.Len(t, errs, 1)
}
