// Package gtf builds a transcript annotation index from GENCODE/Ensembl GTF
// files.
package gtf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"

	"github.com/inodb/amlookup/internal/amerr"
	"github.com/inodb/amlookup/internal/source"
)

// TranscriptAnnotation is the gene/transcript metadata attached to variants.
type TranscriptAnnotation struct {
	TranscriptID   string // version-stripped
	GeneID         null.String
	GeneName       null.String
	TranscriptName null.String
	Start          null.Int
	End            null.Int
}

// Index maps normalized transcript IDs to their annotation. At most one
// annotation is kept per key: the first transcript row encountered.
type Index struct {
	byID map[string]*TranscriptAnnotation

	// Duplicates counts transcript rows dropped because their key was
	// already indexed.
	Duplicates int
}

// Lookup returns the annotation for a transcript ID. The ID is normalized
// before lookup, so versioned IDs match.
func (idx *Index) Lookup(transcriptID string) (*TranscriptAnnotation, bool) {
	a, ok := idx.byID[NormalizeTranscriptID(transcriptID)]
	return a, ok
}

// DuplicateKeys returns the number of transcript rows dropped as duplicates.
func (idx *Index) DuplicateKeys() int {
	return idx.Duplicates
}

// Len returns the number of indexed transcripts.
func (idx *Index) Len() int {
	return len(idx.byID)
}

// Indexer parses GTF input into an Index.
type Indexer struct {
	logger *zap.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer() *Indexer {
	return &Indexer{logger: zap.NewNop()}
}

// SetLogger sets the logger for duplicate-key warnings.
func (ix *Indexer) SetLogger(l *zap.Logger) {
	ix.logger = l
}

// LoadFile indexes a GTF file, gzipped or plain.
func (ix *Indexer) LoadFile(path string) (*Index, error) {
	rc, err := source.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	idx, err := ix.Index(rc)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	return idx, nil
}

// Index parses GTF content and returns the transcript index.
func (ix *Indexer) Index(r io.Reader) (*Index, error) {
	scanner := bufio.NewScanner(r)
	// Attribute columns can be long
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	idx := &Index{byID: make(map[string]*TranscriptAnnotation)}

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 9 {
			continue
		}

		if !strings.Contains(fields[2], "transcript") {
			continue
		}

		attrs := ParseAttributes(fields[8])
		rawID := attrs["transcript_id"]
		if rawID == "" {
			continue
		}
		id := NormalizeTranscriptID(rawID)

		if _, seen := idx.byID[id]; seen {
			idx.Duplicates++
			ix.logger.Debug("duplicate transcript row ignored",
				zap.String("transcript_id", rawID),
				zap.Int("line", lineNum))
			continue
		}

		idx.byID[id] = &TranscriptAnnotation{
			TranscriptID:   id,
			GeneID:         nullString(attrs["gene_id"]),
			GeneName:       nullString(attrs["gene_name"]),
			TranscriptName: nullString(attrs["transcript_name"]),
			Start:          parseCoord(fields[3]),
			End:            parseCoord(fields[4]),
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan GTF line %d: %v", amerr.ErrSourceUnavailable, lineNum+1, err)
	}

	if idx.Duplicates > 0 {
		ix.logger.Warn("duplicate transcript keys in annotation source, kept first occurrence",
			zap.Int("duplicates", idx.Duplicates),
			zap.Int("transcripts", len(idx.byID)))
	}

	return idx, nil
}

// ParseAttributes parses a GTF attribute column.
// Format: key "value"; key "value"; ...
// Entries without a key/value separator are ignored.
func ParseAttributes(attrStr string) map[string]string {
	attrs := make(map[string]string)

	for _, part := range strings.Split(attrStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, ok := strings.Cut(part, " ")
		if !ok || key == "" {
			continue
		}

		attrs[key] = strings.Trim(strings.TrimSpace(value), "\"")
	}

	return attrs
}

// NormalizeTranscriptID truncates an Ensembl ID at its first '.', dropping
// the version suffix. "ENST00000335137.4" -> "ENST00000335137".
func NormalizeTranscriptID(id string) string {
	if i := strings.IndexByte(id, '.'); i != -1 {
		return id[:i]
	}
	return id
}

func parseCoord(s string) null.Int {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return null.Int{}
	}
	return null.IntFrom(n)
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}
