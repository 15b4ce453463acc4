package export

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/inodb/amlookup/internal/join"
)

func testRows() []join.AnnotatedVariant {
	return []join.AnnotatedVariant{
		{Chrom: "chr1", Pos: 69094, Ref: "G", Alt: "T", Genome: "hg38", AMPathogenicity: 0.2937, AMClass: "likely_benign",
			MeanAMPathogenicity: null.FloatFrom(0.4183), GeneName: null.StringFrom("OR4F5"), GeneID: null.StringFrom("ENSG00000186092"),
			UniprotID: "Q8NH21", TranscriptID: "ENST00000335137", ProteinVariant: "V2L",
			TranscriptName: null.StringFrom("OR4F5-202"), Start: null.IntFrom(69055), End: null.IntFrom(70108)},
		{Chrom: "chr7", Pos: 100, Ref: "A", Alt: "C", Genome: "hg38", AMPathogenicity: 0.5, AMClass: "ambiguous",
			UniprotID: "P99999", TranscriptID: "ENST00000000404", ProteinVariant: "M1L"},
	}
}

func TestTabWriter(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTabWriter(&buf)
	require.NoError(t, tw.WriteHeader())
	rows := testRows()
	for i := range rows {
		require.NoError(t, tw.Write(&rows[i]))
	}
	require.NoError(t, tw.Flush())

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(join.Columns, "\t"), lines[0])
	assert.Equal(t,
		"chr1\t69094\tG\tT\thg38\t0.2937\tlikely_benign\t0.4183\tOR4F5\tENSG00000186092\tQ8NH21\tENST00000335137\tV2L\tOR4F5-202\t69055\t70108",
		lines[1])

	fields := strings.Split(lines[2], "\t")
	require.Len(t, fields, len(join.Columns))
	for _, i := range []int{7, 8, 9, 13, 14, 15} {
		assert.Empty(t, fields[i], "null column %s should be empty", join.Columns[i])
	}
}

func TestWriteFileGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "annotated.tsv.gz")
	require.NoError(t, WriteFile(path, join.RowSlice(testRows())))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(data), "CHROM\tPOS\t"))
	assert.Equal(t, 3, strings.Count(string(data), "\n"))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFilePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotated.tsv")
	require.NoError(t, WriteFile(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(join.Columns, "\t")+"\n", string(data))
}

func TestWriteFileChunks(t *testing.T) {
	rows := make(join.RowSlice, writeChunkRows+3)
	for i := range rows {
		rows[i] = join.AnnotatedVariant{Chrom: "chr1", Pos: int64(i + 1), Ref: "A", Alt: "G"}
	}
	path := filepath.Join(t.TempDir(), "annotated.tsv")
	require.NoError(t, WriteFile(path, rows))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, len(rows)+1)
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "chr1\t10003\t"))
}
