package lookup

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/amlookup/internal/amerr"
	"github.com/inodb/amlookup/internal/store"
)

func TestNormalizeGenotype(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"GT", []string{"G", "T"}},
		{"gt", []string{"G", "T"}},
		{"Gt", []string{"G", "T"}},
		{"GG", []string{"G"}},
		{"a", []string{"A"}},
		{" TC ", []string{"T", "C"}},
	}
	for _, tt := range tests {
		got, err := NormalizeGenotype(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.expected, got, tt.input)
	}
}

func TestNormalizeGenotypeInvalid(t *testing.T) {
	for _, g := range []string{"", "GTA", "G1", "--", "é"} {
		_, err := NormalizeGenotype(g)
		require.Error(t, err, g)
		assert.True(t, errors.Is(err, amerr.ErrInvalidGenotype), g)
	}
}

func TestBuildVariantQuery(t *testing.T) {
	q, args, err := BuildVariantQuery(store.DuckDB, "alpha_missense_data", "chr1", 69094, []string{"G", "T"})
	require.NoError(t, err)
	assert.Contains(t, q, `FROM "alpha_missense_data"`)
	assert.Contains(t, q, `"CHROM" = ? AND "POS" = ? AND "ALT" IN (?, ?)`)
	assert.Contains(t, q, `ORDER BY "ALT", "transcript_id"`)
	assert.Equal(t, []any{"chr1", int64(69094), "G", "T"}, args)

	q, args, err = BuildVariantQuery(store.Postgres, "t", "chrX", 5, []string{"A"})
	require.NoError(t, err)
	assert.Contains(t, q, `"CHROM" = $1 AND "POS" = $2 AND "ALT" IN ($3)`)
	assert.Len(t, args, 3)
}

func TestBuildVariantQueryRejects(t *testing.T) {
	_, _, err := BuildVariantQuery(store.DuckDB, "t; DROP TABLE t", "chr1", 1, []string{"A"})
	assert.Error(t, err)

	_, _, err = BuildVariantQuery(store.DuckDB, "t", "chr1", 1, nil)
	assert.True(t, errors.Is(err, amerr.ErrInvalidGenotype))
}

func TestSortChromosomes(t *testing.T) {
	labels := []string{"chr2", "chr10", "chrX", "chr1"}
	SortChromosomes(labels)
	assert.Equal(t, []string{"chr1", "chr2", "chr10", "chrX"}, labels)

	labels = []string{"chrUn_KI270742v1", "chrM", "chrY", "chr22", "chr3", "chr1_KI270706v1_random", "chrX"}
	SortChromosomes(labels)
	assert.Equal(t, []string{"chr3", "chr22", "chrX", "chrY", "chrM", "chr1_KI270706v1_random", "chrUn_KI270742v1"}, labels)
}
