// Package fetch retrieves pipeline inputs from HTTP(S), Google Cloud Storage
// or the local filesystem into a validated on-disk cache.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/inodb/amlookup/internal/amerr"
)

// Result describes a fetched input.
type Result struct {
	// Path is the local file to read.
	Path string
	// Fingerprint is the hex SHA-256 of the content.
	Fingerprint string
	Size        int64
	// Cached is true when a previously fetched copy was reused.
	Cached bool
}

// Fetcher downloads remote inputs into a cache directory. A cached file is
// reused only while its .meta sidecar matches the file's size and SHA-256.
type Fetcher struct {
	dir    string
	client *http.Client
	logger *zap.Logger

	gcsOnce sync.Once
	gcs     *storage.Client
	gcsErr  error
	ownGCS  bool
}

// New creates a Fetcher that stores downloads in dir.
func New(dir string) *Fetcher {
	return &Fetcher{
		dir: dir,
		client: &http.Client{
			Timeout: 30 * time.Minute,
		},
		logger: zap.NewNop(),
	}
}

// SetLogger sets the logger for download progress.
func (f *Fetcher) SetLogger(l *zap.Logger) {
	f.logger = l
}

// SetHTTPClient replaces the HTTP client.
func (f *Fetcher) SetHTTPClient(c *http.Client) {
	f.client = c
}

// SetStorageClient sets the client used for gs:// sources. Without one, a
// client with default credentials is created on first use.
func (f *Fetcher) SetStorageClient(c *storage.Client) {
	f.gcsOnce.Do(func() {})
	f.gcs = c
}

// Close releases the storage client if the Fetcher created one.
func (f *Fetcher) Close() error {
	if f.ownGCS && f.gcs != nil {
		return f.gcs.Close()
	}
	return nil
}

// Fetch makes src available locally. src may be an http(s):// URL, a
// gs://bucket/object path or a local file. If expectedSHA256 is non-empty
// the content must match it. Failures wrap amerr.ErrSourceUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, src, expectedSHA256 string) (*Result, error) {
	expectedSHA256 = strings.ToLower(strings.TrimSpace(expectedSHA256))

	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		u, err := url.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", amerr.ErrSourceUnavailable, src, err)
		}
		return f.fetchRemote(ctx, src, path.Base(u.Path), expectedSHA256, f.openHTTP)
	case strings.HasPrefix(src, "gs://"):
		return f.fetchRemote(ctx, src, path.Base(src), expectedSHA256, f.openGCS)
	default:
		return f.local(src, expectedSHA256)
	}
}

func (f *Fetcher) local(p, expected string) (*Result, error) {
	fp, err := StatFile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", amerr.ErrSourceUnavailable, p, err)
	}
	// Copies and touched files keep their identity; only content counts.
	sum, err := FileSHA256(p)
	if err != nil {
		return nil, fmt.Errorf("%w: hash %s: %v", amerr.ErrSourceUnavailable, p, err)
	}
	if expected != "" && sum != expected {
		return nil, fmt.Errorf("%w: %s has sha256 %s, want %s", amerr.ErrSourceUnavailable, p, sum, expected)
	}
	return &Result{Path: p, Fingerprint: sum, Size: fp.Size, Cached: true}, nil
}

// opener returns the content stream of a remote source and its length, or
// -1 when unknown.
type opener func(ctx context.Context, src string) (io.ReadCloser, int64, error)

func (f *Fetcher) fetchRemote(ctx context.Context, src, name, expected string, open opener) (*Result, error) {
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: cannot derive a file name from %s", amerr.ErrSourceUnavailable, src)
	}
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %v", amerr.ErrSourceUnavailable, err)
	}
	dest := filepath.Join(f.dir, name)

	if res, ok := f.cached(dest, src, expected); ok {
		f.logger.Info("using cached file",
			zap.String("file", name),
			zap.String("size", FormatSize(res.Size)))
		return res, nil
	}

	f.logger.Info("downloading", zap.String("source", src), zap.String("dest", dest))

	body, total, err := open(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", amerr.ErrSourceUnavailable, err)
	}
	defer body.Close()

	tmpPath := dest + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: create file: %v", amerr.ErrSourceUnavailable, err)
	}

	h := sha256.New()
	pw := &progressWriter{
		name:      name,
		total:     total,
		interval:  5 * time.Second,
		lastPrint: time.Now(),
		logger:    f.logger,
	}
	n, err := io.Copy(io.MultiWriter(out, h, pw), body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: download %s: %v", amerr.ErrSourceUnavailable, src, err)
	}
	if total >= 0 && n != total {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: download %s: got %d of %d bytes", amerr.ErrSourceUnavailable, src, n, total)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if expected != "" && sum != expected {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: %s has sha256 %s, want %s", amerr.ErrSourceUnavailable, src, sum, expected)
	}

	// Drop the old sidecar first so a crash between rename and writeMeta
	// leaves an unvalidated file that is fetched again.
	os.Remove(metaPath(dest))
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: rename file: %v", amerr.ErrSourceUnavailable, err)
	}
	if err := writeMeta(dest, sidecar{Source: src, Size: n, SHA256: sum, FetchedAt: time.Now()}); err != nil {
		return nil, fmt.Errorf("%w: write metadata: %v", amerr.ErrSourceUnavailable, err)
	}

	f.logger.Info("download complete", zap.String("file", name), zap.String("size", FormatSize(n)))
	return &Result{Path: dest, Fingerprint: sum, Size: n}, nil
}

// cached reports whether dest holds a complete earlier download of src.
func (f *Fetcher) cached(dest, src, expected string) (*Result, bool) {
	m, err := readMeta(dest)
	if err != nil {
		return nil, false
	}
	if m.Source != src || m.SHA256 == "" {
		return nil, false
	}
	if expected != "" && m.SHA256 != expected {
		return nil, false
	}

	fp, err := StatFile(dest)
	if err != nil || fp.Size != m.Size {
		f.logger.Warn("cached file does not match metadata, fetching again", zap.String("file", dest))
		return nil, false
	}
	sum, err := FileSHA256(dest)
	if err != nil || sum != m.SHA256 {
		f.logger.Warn("cached file checksum mismatch, fetching again", zap.String("file", dest))
		return nil, false
	}
	return &Result{Path: dest, Fingerprint: sum, Size: fp.Size, Cached: true}, true
}

func (f *Fetcher) openHTTP(ctx context.Context, src string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("HTTP error: %s", resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

func (f *Fetcher) openGCS(ctx context.Context, src string) (io.ReadCloser, int64, error) {
	bucket, object, ok := strings.Cut(strings.TrimPrefix(src, "gs://"), "/")
	if !ok || bucket == "" || object == "" {
		return nil, 0, fmt.Errorf("invalid google storage path %q, want gs://bucket/object", src)
	}

	f.gcsOnce.Do(func() {
		f.gcs, f.gcsErr = storage.NewClient(context.WithoutCancel(ctx))
		f.ownGCS = f.gcsErr == nil
	})
	if f.gcsErr != nil {
		return nil, 0, fmt.Errorf("create storage client: %w", f.gcsErr)
	}

	r, err := f.gcs.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", src, err)
	}
	return r, r.Attrs.Size, nil
}
