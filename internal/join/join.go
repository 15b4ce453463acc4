// Package join attaches transcript annotations and gene-level scores to
// AlphaMissense variant records.
package join

import (
	"gopkg.in/guregu/null.v3"

	"github.com/inodb/amlookup/internal/gtf"
	"github.com/inodb/amlookup/internal/source"
)

// Columns is the fixed output column order of the annotated table.
var Columns = []string{
	"CHROM", "POS", "REF", "ALT", "genome",
	"am_pathogenicity", "am_class", "mean_am_pathogenicity",
	"gene_name", "gene_id", "uniprot_id", "transcript_id",
	"protein_variant", "transcript_name", "start", "end",
}

// AnnotatedVariant is a variant record with its annotation columns. Columns
// with no match in an annotation source are null.
type AnnotatedVariant struct {
	Chrom               string      `db:"CHROM" json:"CHROM"`
	Pos                 int64       `db:"POS" json:"POS"`
	Ref                 string      `db:"REF" json:"REF"`
	Alt                 string      `db:"ALT" json:"ALT"`
	Genome              string      `db:"genome" json:"genome"`
	AMPathogenicity     float64     `db:"am_pathogenicity" json:"am_pathogenicity"`
	AMClass             string      `db:"am_class" json:"am_class"`
	MeanAMPathogenicity null.Float  `db:"mean_am_pathogenicity" json:"mean_am_pathogenicity"`
	GeneName            null.String `db:"gene_name" json:"gene_name"`
	GeneID              null.String `db:"gene_id" json:"gene_id"`
	UniprotID           string      `db:"uniprot_id" json:"uniprot_id"`
	TranscriptID        string      `db:"transcript_id" json:"transcript_id"`
	ProteinVariant      string      `db:"protein_variant" json:"protein_variant"`
	TranscriptName      null.String `db:"transcript_name" json:"transcript_name"`
	Start               null.Int    `db:"start" json:"start"`
	End                 null.Int    `db:"end" json:"end"`
}

// Values returns the row in Columns order, with nulls as nil.
func (a *AnnotatedVariant) Values() []any {
	return []any{
		a.Chrom, a.Pos, a.Ref, a.Alt, a.Genome,
		a.AMPathogenicity, a.AMClass, nullable(a.MeanAMPathogenicity.Valid, a.MeanAMPathogenicity.Float64),
		nullable(a.GeneName.Valid, a.GeneName.String), nullable(a.GeneID.Valid, a.GeneID.String),
		a.UniprotID, a.TranscriptID,
		a.ProteinVariant, nullable(a.TranscriptName.Valid, a.TranscriptName.String),
		nullable(a.Start.Valid, a.Start.Int64), nullable(a.End.Valid, a.End.Int64),
	}
}

func nullable[T any](valid bool, v T) any {
	if !valid {
		return nil
	}
	return v
}

// TranscriptLookup resolves transcript annotations. *gtf.Index implements it.
type TranscriptLookup interface {
	Lookup(transcriptID string) (*gtf.TranscriptAnnotation, bool)
}

// ScoreLookup resolves gene-level mean scores. *genescore.Table implements it.
type ScoreLookup interface {
	Lookup(transcriptID string) (float64, bool)
}

// duplicateCounter is implemented by sources that dropped duplicate keys
// while loading.
type duplicateCounter interface {
	DuplicateKeys() int
}

// Collisions reports duplicate keys dropped from each annotation source
// before the join.
type Collisions struct {
	Transcripts int
	GeneScores  int
}

// Rows is an ordered set of annotated rows that can be materialized one
// range at a time.
type Rows interface {
	Len() int
	// Slice returns rows [lo, hi).
	Slice(lo, hi int) []AnnotatedVariant
}

// RowSlice adapts already materialized rows to Rows.
type RowSlice []AnnotatedVariant

func (s RowSlice) Len() int { return len(s) }

func (s RowSlice) Slice(lo, hi int) []AnnotatedVariant { return s[lo:hi] }

// Result is the output of Join.
type Result struct {
	Rows []AnnotatedVariant

	// Unannotated counts rows with no transcript annotation match.
	Unannotated int
	// Unscored counts rows with no gene-level score match.
	Unscored   int
	Collisions Collisions
}

// Plan is a join whose rows are built on demand. Only the variant records
// stay resident; a consumer materializes one batch of output rows at a time
// through Slice.
type Plan struct {
	variants    []source.VariantRecord
	transcripts TranscriptLookup
	scores      ScoreLookup

	// Unannotated counts rows with no transcript annotation match.
	Unannotated int
	// Unscored counts rows with no gene-level score match.
	Unscored   int
	Collisions Collisions
}

var _ Rows = (*Plan)(nil)

// Prepare plans a hash left outer join of variants against the transcript
// index and then the gene-score table, both keyed by version-stripped
// transcript ID. The match counts are computed up front; rows are not.
func Prepare(variants []source.VariantRecord, transcripts TranscriptLookup, scores ScoreLookup) *Plan {
	p := &Plan{variants: variants, transcripts: transcripts, scores: scores}
	if dc, ok := transcripts.(duplicateCounter); ok {
		p.Collisions.Transcripts = dc.DuplicateKeys()
	}
	if dc, ok := scores.(duplicateCounter); ok {
		p.Collisions.GeneScores = dc.DuplicateKeys()
	}
	for i := range variants {
		key := gtf.NormalizeTranscriptID(variants[i].TranscriptID)
		if transcripts == nil {
			p.Unannotated++
		} else if _, ok := transcripts.Lookup(key); !ok {
			p.Unannotated++
		}
		if scores == nil {
			p.Unscored++
		} else if _, ok := scores.Lookup(key); !ok {
			p.Unscored++
		}
	}
	return p
}

// Len returns the number of output rows, always one per variant.
func (p *Plan) Len() int { return len(p.variants) }

// Slice builds output rows [lo, hi) in input order.
func (p *Plan) Slice(lo, hi int) []AnnotatedVariant {
	out := make([]AnnotatedVariant, hi-lo)
	for i := lo; i < hi; i++ {
		out[i-lo] = p.row(&p.variants[i])
	}
	return out
}

func (p *Plan) row(v *source.VariantRecord) AnnotatedVariant {
	key := gtf.NormalizeTranscriptID(v.TranscriptID)
	out := AnnotatedVariant{
		Chrom:           v.Chrom,
		Pos:             v.Pos,
		Ref:             v.Ref,
		Alt:             v.Alt,
		Genome:          v.Genome,
		AMPathogenicity: v.AMPathogenicity,
		AMClass:         v.AMClass,
		UniprotID:       v.UniprotID,
		TranscriptID:    key,
		ProteinVariant:  v.ProteinVariant,
	}
	if p.transcripts != nil {
		if t, ok := p.transcripts.Lookup(key); ok {
			out.GeneName = t.GeneName
			out.GeneID = t.GeneID
			out.TranscriptName = t.TranscriptName
			out.Start = t.Start
			out.End = t.End
		}
	}
	if p.scores != nil {
		if mean, ok := p.scores.Lookup(key); ok {
			out.MeanAMPathogenicity = null.FloatFrom(mean)
		}
	}
	return out
}

// Join materializes every row of the planned join. Every variant yields
// exactly one row, in input order. Both lookups hold at most one entry per
// key, so the join cannot multiply rows.
func Join(variants []source.VariantRecord, transcripts TranscriptLookup, scores ScoreLookup) *Result {
	p := Prepare(variants, transcripts, scores)
	return &Result{
		Rows:        p.Slice(0, p.Len()),
		Unannotated: p.Unannotated,
		Unscored:    p.Unscored,
		Collisions:  p.Collisions,
	}
}

// Total returns the number of dropped duplicate keys across both sources.
func (c Collisions) Total() int {
	return c.Transcripts + c.GeneScores
}
