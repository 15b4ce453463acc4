// Package export writes the annotated table as tab-delimited text.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/inodb/amlookup/internal/join"
)

// TabWriter writes annotated rows in join.Columns order. Null fields are
// written empty.
type TabWriter struct {
	w *bufio.Writer
}

// NewTabWriter creates a new tab-delimited writer.
func NewTabWriter(w io.Writer) *TabWriter {
	return &TabWriter{w: bufio.NewWriter(w)}
}

// WriteHeader writes the header line.
func (tw *TabWriter) WriteHeader() error {
	_, err := tw.w.WriteString(strings.Join(join.Columns, "\t") + "\n")
	return err
}

// Write writes a single row.
func (tw *TabWriter) Write(a *join.AnnotatedVariant) error {
	values := make([]string, 0, len(join.Columns))
	for _, v := range a.Values() {
		values = append(values, formatValue(v))
	}
	_, err := tw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// Flush flushes any buffered data.
func (tw *TabWriter) Flush() error {
	return tw.w.Flush()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

// writeChunkRows is how many rows WriteFile materializes at a time.
const writeChunkRows = 10000

// WriteFile writes rows with a header to path, gzip-compressed when path
// ends in ".gz". The file is written under a temporary name and renamed into
// place when complete.
func WriteFile(path string, rows join.Rows) (err error) {
	tmpPath := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	var out io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		out = gz
	}

	tw := NewTabWriter(out)
	if err := tw.WriteHeader(); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if rows != nil {
		n := rows.Len()
		for lo := 0; lo < n; lo += writeChunkRows {
			chunk := rows.Slice(lo, min(lo+writeChunkRows, n))
			for i := range chunk {
				if err := tw.Write(&chunk[i]); err != nil {
					return fmt.Errorf("write row %d: %w", lo+i+1, err)
				}
			}
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("close gzip writer: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}
