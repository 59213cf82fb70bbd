package store

import (
	"io"
	"strings"
	"testing"
)

type stringReadCloser struct {
	io.Reader
}

func (stringReadCloser) Close() error { return nil }

func mustCSVReader(t *testing.T, contents string) io.ReadCloser {
	t.Helper()
	return stringReadCloser{Reader: strings.NewReader(contents)}
}
