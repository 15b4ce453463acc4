package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/amlookup/internal/amerr"
)

const payload = "CHROM\tPOS\tREF\tALT\nchr1\t69094\tG\tT\n"

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// newServer serves payload at /AlphaMissense_hg38.tsv.gz and counts hits.
func newServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/AlphaMissense_hg38.tsv.gz" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchDownloadsAndWritesMeta(t *testing.T) {
	srv, hits := newServer(t)
	dir := t.TempDir()
	f := New(dir)

	src := srv.URL + "/AlphaMissense_hg38.tsv.gz"
	res, err := f.Fetch(context.Background(), src, "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "AlphaMissense_hg38.tsv.gz"), res.Path)
	assert.Equal(t, sum(payload), res.Fingerprint)
	assert.Equal(t, int64(len(payload)), res.Size)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(1), hits.Load())

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	m, err := readMeta(res.Path)
	require.NoError(t, err)
	assert.Equal(t, src, m.Source)
	assert.Equal(t, int64(len(payload)), m.Size)
	assert.Equal(t, sum(payload), m.SHA256)

	_, err = os.Stat(res.Path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be gone")
}

func TestFetchReusesValidCache(t *testing.T) {
	srv, hits := newServer(t)
	f := New(t.TempDir())
	src := srv.URL + "/AlphaMissense_hg38.tsv.gz"

	_, err := f.Fetch(context.Background(), src, "")
	require.NoError(t, err)

	res, err := f.Fetch(context.Background(), src, sum(payload))
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRefetchesCorruptedCache(t *testing.T) {
	srv, hits := newServer(t)
	f := New(t.TempDir())
	src := srv.URL + "/AlphaMissense_hg38.tsv.gz"

	res, err := f.Fetch(context.Background(), src, "")
	require.NoError(t, err)

	// Same size, different content.
	corrupt := []byte(payload)
	corrupt[0] = 'X'
	require.NoError(t, os.WriteFile(res.Path, corrupt, 0644))

	res, err = f.Fetch(context.Background(), src, "")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(2), hits.Load())

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestFetchRefetchesTruncatedCache(t *testing.T) {
	srv, hits := newServer(t)
	f := New(t.TempDir())
	src := srv.URL + "/AlphaMissense_hg38.tsv.gz"

	res, err := f.Fetch(context.Background(), src, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(res.Path, []byte(payload[:5]), 0644))

	res, err = f.Fetch(context.Background(), src, "")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchChecksumMismatch(t *testing.T) {
	srv, _ := newServer(t)
	dir := t.TempDir()
	f := New(dir)

	_, err := f.Fetch(context.Background(), srv.URL+"/AlphaMissense_hg38.tsv.gz", sum("something else"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, amerr.ErrSourceUnavailable))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a rejected download must leave nothing behind")
}

func TestFetchHTTPError(t *testing.T) {
	srv, _ := newServer(t)
	f := New(t.TempDir())

	_, err := f.Fetch(context.Background(), srv.URL+"/missing.tsv.gz", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, amerr.ErrSourceUnavailable))
	assert.Contains(t, err.Error(), "404")
}

func TestFetchLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.tsv")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))
	f := New(t.TempDir())

	res, err := f.Fetch(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	assert.Equal(t, int64(len(payload)), res.Size)
	assert.Equal(t, sum(payload), res.Fingerprint)

	res, err = f.Fetch(context.Background(), path, sum(payload))
	require.NoError(t, err)
	assert.Equal(t, sum(payload), res.Fingerprint)

	_, err = f.Fetch(context.Background(), path, sum("other"))
	assert.True(t, errors.Is(err, amerr.ErrSourceUnavailable))

	_, err = f.Fetch(context.Background(), filepath.Join(t.TempDir(), "nope.tsv"), "")
	assert.True(t, errors.Is(err, amerr.ErrSourceUnavailable))
}

func TestFetchLocalFingerprintIgnoresModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.tsv")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))
	f := New(t.TempDir())

	before, err := f.Fetch(context.Background(), path, "")
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	after, err := f.Fetch(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, before.Fingerprint, after.Fingerprint)

	copied := filepath.Join(dir, "copy.tsv")
	require.NoError(t, os.WriteFile(copied, []byte(payload), 0600))
	res, err := f.Fetch(context.Background(), copied, "")
	require.NoError(t, err)
	assert.Equal(t, before.Fingerprint, res.Fingerprint)

	require.NoError(t, os.WriteFile(path, []byte(payload+"x"), 0644))
	res, err = f.Fetch(context.Background(), path, "")
	require.NoError(t, err)
	assert.NotEqual(t, before.Fingerprint, res.Fingerprint)
}

func TestFetchInvalidGCSPath(t *testing.T) {
	f := New(t.TempDir())
	_, err := f.Fetch(context.Background(), "gs://bucket-only", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, amerr.ErrSourceUnavailable))
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatSize(tt.bytes))
	}
}
