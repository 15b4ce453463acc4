package source

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/inodb/amlookup/internal/amerr"
)

// Reader streams VariantRecords from an AlphaMissense TSV.
type Reader struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	header  []string
	idx     map[string]int
	lineNum int
}

// Open opens a variant table, skips the leading comment lines and reads the
// header row. A header column with a leading '#' (the published file uses
// "#CHROM") is renamed without it.
func Open(path string, skip int) (*Reader, error) {
	rc, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(rc, skip)
	if err != nil {
		rc.Close()
		return nil, err
	}
	r.rc = rc
	return r, nil
}

// NewReader reads a variant table from r. The caller owns r.
func NewReader(r io.Reader, skip int) (*Reader, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 1<<20)
	}
	if err := SkipLines(br, skip); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(br)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("%w: read header: %v", amerr.ErrSourceUnavailable, err)
		}
		return nil, fmt.Errorf("%w: missing header row", amerr.ErrSchemaMismatch)
	}

	header := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
	idx := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if strings.HasPrefix(col, "#") {
			col = strings.TrimLeft(col, "#")
		}
		header[i] = col
		idx[col] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", amerr.ErrSchemaMismatch, strings.Join(missing, ", "))
	}

	return &Reader{
		scanner: scanner,
		header:  header,
		idx:     idx,
		lineNum: skip + 1,
	}, nil
}

// Header returns the normalized column names.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next record, or nil at end of input.
func (r *Reader) Next() (*VariantRecord, error) {
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			continue
		}
		return r.parseLine(line)
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: line %d: %v", amerr.ErrSourceUnavailable, r.lineNum+1, err)
	}
	return nil, nil
}

func (r *Reader) parseLine(line string) (*VariantRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < len(r.header) {
		return nil, fmt.Errorf("%w: line %d: expected %d fields, got %d",
			amerr.ErrSchemaMismatch, r.lineNum, len(r.header), len(fields))
	}
	get := func(col string) string {
		return fields[r.idx[col]]
	}

	pos, err := strconv.ParseInt(get(ColPos), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: line %d: parse POS %q", amerr.ErrSchemaMismatch, r.lineNum, get(ColPos))
	}

	ref, alt := get(ColRef), get(ColAlt)
	if len(ref) != 1 || len(alt) != 1 {
		return nil, fmt.Errorf("%w: line %d: REF and ALT must be single bases, got %q>%q",
			amerr.ErrSchemaMismatch, r.lineNum, ref, alt)
	}

	score, err := strconv.ParseFloat(get(ColAMPathogenicity), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: line %d: parse am_pathogenicity %q",
			amerr.ErrSchemaMismatch, r.lineNum, get(ColAMPathogenicity))
	}

	return &VariantRecord{
		Chrom:           NormalizeChrom(get(ColChrom)),
		Pos:             pos,
		Ref:             ref,
		Alt:             alt,
		Genome:          get(ColGenome),
		UniprotID:       get(ColUniprotID),
		TranscriptID:    get(ColTranscriptID),
		ProteinVariant:  get(ColProteinVariant),
		AMPathogenicity: score,
		AMClass:         get(ColAMClass),
	}, nil
}

// Close closes the underlying file, if the Reader opened one.
func (r *Reader) Close() error {
	if r.rc == nil {
		return nil
	}
	return r.rc.Close()
}

// ReadAll loads the whole variant table into memory. The returned slice is
// not modified by later pipeline stages.
func ReadAll(path string, skip int) ([]VariantRecord, error) {
	r, err := Open(path, skip)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records []VariantRecord
	for {
		v, err := r.Next()
		if err != nil {
			return nil, err
		}
		if v == nil {
			return records, nil
		}
		records = append(records, *v)
	}
}
