// Package genescore loads the AlphaMissense gene-level table of mean
// pathogenicity per transcript.
package genescore

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/inodb/amlookup/internal/amerr"
	"github.com/inodb/amlookup/internal/gtf"
	"github.com/inodb/amlookup/internal/source"
)

const (
	colTranscriptID = "transcript_id"
	colMean         = "mean_am_pathogenicity"
)

// Record is a gene-level score for one transcript.
type Record struct {
	TranscriptID        string // version-stripped
	MeanAMPathogenicity float64
}

type row struct {
	TranscriptID string `csv:"transcript_id"`
	Mean         string `csv:"mean_am_pathogenicity"`
}

// Table maps normalized transcript IDs to their mean pathogenicity. The first
// row for a key wins.
type Table struct {
	byID map[string]Record

	// Duplicates counts rows dropped because their key was already present.
	Duplicates int
}

// Lookup returns the mean score for a transcript ID; the ID is normalized
// before lookup.
func (t *Table) Lookup(transcriptID string) (float64, bool) {
	r, ok := t.byID[gtf.NormalizeTranscriptID(transcriptID)]
	return r.MeanAMPathogenicity, ok
}

// DuplicateKeys returns the number of rows dropped as duplicates.
func (t *Table) DuplicateKeys() int {
	return t.Duplicates
}

// Len returns the number of transcripts in the table.
func (t *Table) Len() int {
	return len(t.byID)
}

// Load reads a gene-score file, gzipped or plain, skipping the given number
// of leading comment lines before the header row.
func Load(path string, skip int, logger *zap.Logger) (*Table, error) {
	rc, err := source.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	t, err := Read(rc, skip, logger)
	if err != nil {
		return nil, fmt.Errorf("load gene scores %s: %w", path, err)
	}
	return t, nil
}

// Read parses gene-score content from r.
func Read(r io.Reader, skip int, logger *zap.Logger) (*Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	br := bufio.NewReader(r)
	if err := source.SkipLines(br, skip); err != nil {
		return nil, err
	}

	cr := csv.NewReader(br)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	var rows []row
	if err := gocsv.UnmarshalCSV(&headerCheck{Reader: cr}, &rows); err != nil {
		if errors.Is(err, amerr.ErrSchemaMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: decode gene scores: %v", amerr.ErrSourceUnavailable, err)
	}

	t := &Table{byID: make(map[string]Record, len(rows))}
	for i, r := range rows {
		id := gtf.NormalizeTranscriptID(strings.TrimSpace(r.TranscriptID))
		if id == "" {
			continue
		}
		mean, err := strconv.ParseFloat(strings.TrimSpace(r.Mean), 64)
		if err != nil {
			// skip lines + header row + 1-based
			return nil, fmt.Errorf("%w: line %d: parse %s %q", amerr.ErrSchemaMismatch, skip+i+2, colMean, r.Mean)
		}
		if _, seen := t.byID[id]; seen {
			t.Duplicates++
			continue
		}
		t.byID[id] = Record{TranscriptID: id, MeanAMPathogenicity: mean}
	}

	if t.Duplicates > 0 {
		logger.Warn("duplicate transcript keys in gene scores, kept first occurrence",
			zap.Int("duplicates", t.Duplicates),
			zap.Int("transcripts", len(t.byID)))
	}
	return t, nil
}

// headerCheck normalizes the header row ("#transcript_id" -> "transcript_id")
// and fails with ErrSchemaMismatch if a required column is absent.
type headerCheck struct {
	*csv.Reader
}

func (h *headerCheck) ReadAll() ([][]string, error) {
	records, err := h.Reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing header row", amerr.ErrSchemaMismatch)
	}

	present := make(map[string]bool, len(records[0]))
	for i, col := range records[0] {
		col = strings.TrimLeft(strings.TrimSpace(col), "#")
		records[0][i] = col
		present[col] = true
	}
	for _, col := range []string{colTranscriptID, colMean} {
		if !present[col] {
			return nil, fmt.Errorf("%w: missing column %s", amerr.ErrSchemaMismatch, col)
		}
	}
	return records, nil
}
