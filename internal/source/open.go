package source

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/inodb/amlookup/internal/amerr"
)

var gzipMagic = []byte{0x1f, 0x8b}

// fileReader closes both the decompressor and the underlying file.
type fileReader struct {
	io.Reader
	closers []io.Closer
}

func (r *fileReader) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenFile opens a local file for reading. Gzip input is detected by its
// magic bytes and decompressed transparently, so a .gz suffix is not
// required. Failures wrap amerr.ErrSourceUnavailable.
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", amerr.ErrSourceUnavailable, path, err)
	}

	br := bufio.NewReaderSize(f, 1<<20)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("%w: read %s: %v", amerr.ErrSourceUnavailable, path, err)
	}

	if len(magic) == 2 && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: open gzip reader for %s: %v", amerr.ErrSourceUnavailable, path, err)
		}
		return &fileReader{Reader: gz, closers: []io.Closer{f, gz}}, nil
	}

	return &fileReader{Reader: br, closers: []io.Closer{f}}, nil
}

// SkipLines discards the first n lines of br.
func SkipLines(br *bufio.Reader, n int) error {
	for i := 0; i < n; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if err == io.EOF {
				return fmt.Errorf("%w: input ended after %d of %d skipped lines", amerr.ErrSchemaMismatch, i, n)
			}
			return fmt.Errorf("%w: skip line %d: %v", amerr.ErrSourceUnavailable, i+1, err)
		}
	}
	return nil
}
