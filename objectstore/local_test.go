package objectstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/ierr"
)

func writeGzipCSV(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(contents))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestBuildKeyIsBitExact(t *testing.T) {
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	got := BuildKey(domain.LSE, d, "Data")
	want := "LSEG/TRTH/LSE/ingestion/2025-01-15/data/merged/LSE-2025-01-15-NORMALIZEDMP-Data-1-of-1.csv.gz"
	require.Equal(t, want, got)
}

func TestLocalObjectStoreHeadAndOpen(t *testing.T) {
	dir := t.TempDir()
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	key := BuildKey(domain.LSE, d, "Data")
	writeGzipCSV(t, filepath.Join(dir, key), "ticker,price\nAAA,1.5\n")

	store := NewLocalObjectStore(dir)

	meta, err := store.Head(context.Background(), domain.LSE, d)
	require.NoError(t, err)
	require.Equal(t, key, meta.Path)
	require.Greater(t, meta.SizeBytes, int64(0))

	rc, err := store.Open(context.Background(), domain.LSE, d)
	require.NoError(t, err)
	defer rc.Close()

	stream, err := NewRecordStream(rc)
	require.NoError(t, err)
	require.Equal(t, []string{"ticker", "price"}, stream.Header())

	require.True(t, stream.Next())
	require.Equal(t, "AAA", stream.Record()["ticker"])
	require.False(t, stream.Next())
	require.NoError(t, stream.Err())
}

func TestLocalObjectStoreNotFound(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalObjectStore(dir)
	d := time.Date(2025, 2, 29, 0, 0, 0, 0, time.UTC)

	_, err := store.Head(context.Background(), domain.CME, d)
	require.Error(t, err)

	var nf *ierr.NotFound
	require.ErrorAs(t, err, &nf)
}

func TestRecordStreamEmptyBody(t *testing.T) {
	dir := t.TempDir()
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	key := BuildKey(domain.NYQ, d, "Data")
	writeGzipCSV(t, filepath.Join(dir, key), "ticker,price\n")

	store := NewLocalObjectStore(dir)
	rc, err := store.Open(context.Background(), domain.NYQ, d)
	require.NoError(t, err)
	defer rc.Close()

	stream, err := NewRecordStream(rc)
	require.NoError(t, err)
	require.False(t, stream.Next())
	require.NoError(t, stream.Err())
}
