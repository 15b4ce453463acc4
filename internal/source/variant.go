// Package source reads the AlphaMissense per-variant table.
package source

import "strings"

// Column names of the variant table after the header has been normalized.
const (
	ColChrom           = "CHROM"
	ColPos             = "POS"
	ColRef             = "REF"
	ColAlt             = "ALT"
	ColGenome          = "genome"
	ColUniprotID       = "uniprot_id"
	ColTranscriptID    = "transcript_id"
	ColProteinVariant  = "protein_variant"
	ColAMPathogenicity = "am_pathogenicity"
	ColAMClass         = "am_class"
)

// RequiredColumns lists the columns a variant table must carry.
var RequiredColumns = []string{
	ColChrom, ColPos, ColRef, ColAlt, ColGenome, ColUniprotID,
	ColTranscriptID, ColProteinVariant, ColAMPathogenicity, ColAMClass,
}

// DefaultSkipLines is the number of copyright/comment lines preceding the
// header row in the published AlphaMissense files.
const DefaultSkipLines = 3

// Pathogenicity classes used by AlphaMissense.
const (
	ClassLikelyBenign     = "likely_benign"
	ClassAmbiguous        = "ambiguous"
	ClassLikelyPathogenic = "likely_pathogenic"
)

// VariantRecord is one variant/transcript row of the AlphaMissense table.
type VariantRecord struct {
	// Chrom is normalized to chrN, chrX, chrY or chrM.
	Chrom string
	// Pos is 1-based.
	Pos    int64
	Ref    string
	Alt    string
	Genome string
	// TranscriptID is kept as published and may carry a version suffix.
	TranscriptID    string
	UniprotID       string
	ProteinVariant  string
	AMPathogenicity float64
	AMClass         string
}

// NormalizeChrom returns the chromosome in "chrN" form.
// "1" -> "chr1", "MT" -> "chrM", "chrMT" -> "chrM".
func NormalizeChrom(chrom string) string {
	c := strings.TrimPrefix(chrom, "chr")
	if c == "MT" {
		c = "M"
	}
	if c == "" {
		return chrom
	}
	return "chr" + c
}
