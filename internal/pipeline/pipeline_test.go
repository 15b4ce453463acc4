package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/amlookup/internal/amerr"
	"github.com/inodb/amlookup/internal/bulkload"
	"github.com/inodb/amlookup/internal/fetch"
	"github.com/inodb/amlookup/internal/lookup"
	"github.com/inodb/amlookup/internal/store"
)

const variantsTSV = `# Copyright 2023 DeepMind Technologies Limited
#
# Licensed under CC BY-NC-SA 4.0 license
#CHROM	POS	REF	ALT	genome	uniprot_id	transcript_id	protein_variant	am_pathogenicity	am_class
chr1	69094	G	T	hg38	Q8NH21	ENST00000335137.4	V2L	0.2937	likely_benign
chr1	69094	G	C	hg38	Q8NH21	ENST00000335137.4	V2L	0.2937	likely_benign
chr1	69094	G	A	hg38	Q8NH21	ENST00000335137.4	V2M	0.3296	likely_benign
chr12	25245350	C	A	hg38	P01116	ENST00000256078.10	G12C	0.9876	likely_pathogenic
chr7	100	A	C	hg38	P99999	ENST00000000404.1	M1L	0.5	ambiguous
`

const annotationGTF = `#!genome-build GRCh38.p14
1	ensembl	transcript	69055	70108	.	+	.	gene_id "ENSG00000186092"; transcript_id "ENST00000335137"; gene_name "OR4F5"; transcript_name "OR4F5-202";
12	ensembl_havana	transcript	25205246	25250929	.	-	.	gene_id "ENSG00000133703"; transcript_id "ENST00000256078"; gene_name "KRAS"; transcript_name "KRAS-201";
`

const geneScoresTSV = `# Copyright 2023 DeepMind Technologies Limited
#
# Licensed under CC BY-NC-SA 4.0 license
transcript_id	mean_am_pathogenicity
ENST00000335137.4	0.4183
ENST00000256078.10	0.7312
`

func writeInputs(t *testing.T, gtf string) Inputs {
	t.Helper()
	dir := t.TempDir()
	write := func(name, data string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(data), 0644))
		return p
	}
	return Inputs{
		Variants:       write("AlphaMissense_hg38.tsv", variantsTSV),
		VariantsSkip:   3,
		GTF:            write("annotation.gtf", gtf),
		GeneScores:     write("AlphaMissense_gene_hg38.tsv", geneScoresTSV),
		GeneScoresSkip: 3,
	}
}

func TestAnnotate(t *testing.T) {
	p := New(fetch.New(t.TempDir()))
	rep, err := p.Annotate(context.Background(), writeInputs(t, annotationGTF), false)
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Variants)
	assert.Equal(t, 2, rep.Transcripts)
	assert.Equal(t, 2, rep.GeneScores)
	require.Equal(t, 5, rep.Join.Len())
	assert.Equal(t, 1, rep.Join.Unannotated)
	assert.Equal(t, "KRAS", rep.Join.Slice(3, 4)[0].GeneName.String)
	assert.NotEmpty(t, rep.Fingerprint)
}

func TestAnnotateWithoutGeneScores(t *testing.T) {
	in := writeInputs(t, annotationGTF)
	in.GeneScores = ""

	rep, err := New(fetch.New(t.TempDir())).Annotate(context.Background(), in, false)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Join.Unscored)
	assert.Equal(t, 0, rep.GeneScores)
}

func TestAnnotateCollisions(t *testing.T) {
	dup := annotationGTF +
		"1\tensembl\ttranscript\t1\t2\t.\t+\t.\tgene_id \"ENSGDUP\"; transcript_id \"ENST00000335137.9\"; gene_name \"DUP\";\n"
	in := writeInputs(t, dup)

	rep, err := New(fetch.New(t.TempDir())).Annotate(context.Background(), in, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Join.Collisions.Transcripts)
	assert.Equal(t, "OR4F5", rep.Join.Slice(0, 1)[0].GeneName.String, "first occurrence wins")

	_, err = New(fetch.New(t.TempDir())).Annotate(context.Background(), in, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, amerr.ErrJoinKeyCollision))
}

func TestAnnotateMissingSource(t *testing.T) {
	in := writeInputs(t, annotationGTF)
	in.GTF = filepath.Join(t.TempDir(), "missing.gtf")

	_, err := New(fetch.New(t.TempDir())).Annotate(context.Background(), in, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, amerr.ErrSourceUnavailable))
}

func TestRunLoadsAndServesLookups(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenDuckDB("")
	require.NoError(t, err)
	defer st.Close()

	var batches int
	opts := Options{
		Table:     store.DefaultTable,
		Mode:      bulkload.Replace,
		BatchSize: 2,
		Progress:  func(bulkload.Progress) { batches++ },
	}
	in := writeInputs(t, annotationGTF)

	rep, err := New(fetch.New(t.TempDir())).Run(ctx, st, in, opts)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Load.Rows)
	assert.Equal(t, 3, rep.Load.Batches)
	assert.Equal(t, 3, batches)

	n, err := st.Count(ctx, store.DefaultTable)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	svc, err := lookup.NewService(st, store.DefaultTable, 0)
	require.NoError(t, err)
	rows, err := svc.Lookup(ctx, "chr1", 69094, "gt")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "T", rows[0].Alt)
	assert.Equal(t, "OR4F5", rows[0].GeneName.String)
	assert.InDelta(t, 0.4183, rows[0].MeanAMPathogenicity.Float64, 1e-9)

	// Re-running in replace mode leaves the same row count.
	_, err = New(fetch.New(t.TempDir())).Run(ctx, st, in, opts)
	require.NoError(t, err)
	n, err = st.Count(ctx, store.DefaultTable)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	// Append with the same inputs is a no-op.
	opts.Mode = bulkload.Append
	rep, err = New(fetch.New(t.TempDir())).Run(ctx, st, in, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Load.Rows)
	n, err = st.Count(ctx, store.DefaultTable)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	// So is one after the inputs were touched and the batch size changed.
	later := time.Now().Add(time.Hour)
	for _, p := range []string{in.Variants, in.GTF, in.GeneScores} {
		require.NoError(t, os.Chtimes(p, later, later))
	}
	opts.BatchSize = 4
	rep, err = New(fetch.New(t.TempDir())).Run(ctx, st, in, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Load.Rows)
	assert.Equal(t, 2, rep.Load.BatchSize)
	n, err = st.Count(ctx, store.DefaultTable)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
