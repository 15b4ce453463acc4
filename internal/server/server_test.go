package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/inodb/amlookup/internal/join"
	"github.com/inodb/amlookup/internal/lookup"
	"github.com/inodb/amlookup/internal/store"
)

func newService(t *testing.T) *lookup.Service {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenDuckDB("")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rows := []join.AnnotatedVariant{
		{Chrom: "chr1", Pos: 69094, Ref: "G", Alt: "T", Genome: "hg38", AMPathogenicity: 0.2937, AMClass: "likely_benign",
			TranscriptID: "ENST00000335137", GeneName: null.StringFrom("OR4F5")},
		{Chrom: "chr1", Pos: 69094, Ref: "G", Alt: "A", Genome: "hg38", AMPathogenicity: 0.3296, AMClass: "likely_benign",
			TranscriptID: "ENST00000335137", GeneName: null.StringFrom("OR4F5")},
		{Chrom: "chr12", Pos: 25245350, Ref: "C", Alt: "A", Genome: "hg38", AMPathogenicity: 0.9876, AMClass: "likely_pathogenic",
			TranscriptID: "ENST00000256078"},
	}
	require.NoError(t, st.Reset(ctx, store.DefaultTable))
	require.NoError(t, st.WriteBatch(ctx, store.DefaultTable, "test", 0, rows))

	svc, err := lookup.NewService(st, store.DefaultTable, time.Minute)
	require.NoError(t, err)
	return svc
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s := New(lookup.NewGate(), Options{})
	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[statusResponse](t, rec).Status)
}

func TestReadyLifecycle(t *testing.T) {
	gate := lookup.NewGate()
	s := New(gate, Options{})

	rec := get(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "loading", decode[statusResponse](t, rec).Status)

	gate.Publish(newService(t))
	rec = get(t, s, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[statusResponse](t, rec).Status)
}

func TestReadyFailed(t *testing.T) {
	gate := lookup.NewGate()
	gate.Fail(errors.New("storage write failure: batch 3 of 9"))
	s := New(gate, Options{})

	rec := get(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[statusResponse](t, rec)
	assert.Equal(t, "failed", resp.Status)
	assert.Contains(t, resp.Error, "batch 3 of 9")

	rec = get(t, s, "/api/v1/variants?chrom=chr1&pos=69094&genotype=GT")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "failed", decode[statusResponse](t, rec).Status)
}

func TestVariantsBeforeReady(t *testing.T) {
	s := New(lookup.NewGate(), Options{ReadyTimeout: 10 * time.Millisecond})

	rec := get(t, s, "/api/v1/variants?chrom=chr1&pos=69094&genotype=GT")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "loading", decode[statusResponse](t, rec).Status)

	rec = get(t, s, "/api/v1/chromosomes")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVariantsBadRequest(t *testing.T) {
	// Validation happens before waiting on the gate, so an unopened gate
	// must not turn these into 503s.
	s := New(lookup.NewGate(), Options{ReadyTimeout: time.Second})

	for _, target := range []string{
		"/api/v1/variants?pos=69094&genotype=GT",
		"/api/v1/variants?chrom=chr1&pos=abc&genotype=GT",
		"/api/v1/variants?chrom=chr1&pos=0&genotype=GT",
		"/api/v1/variants?chrom=chr1&pos=69094&genotype=GTA",
		"/api/v1/variants?chrom=chr1&pos=69094",
	} {
		rec := get(t, s, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestVariants(t *testing.T) {
	gate := lookup.NewGate()
	gate.Publish(newService(t))
	s := New(gate, Options{})

	rec := get(t, s, "/api/v1/variants?chrom=chr1&pos=69094&genotype=at")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[variantsResponse](t, rec)
	require.Len(t, resp.Variants, 2)
	assert.Equal(t, "A", resp.Variants[0].Alt)
	assert.Equal(t, "T", resp.Variants[1].Alt)
	assert.Equal(t, "OR4F5", resp.Variants[1].GeneName.String)

	rec = get(t, s, "/api/v1/variants?chrom=chr12&pos=25245350&genotype=A")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"gene_name":null`)

	rec = get(t, s, "/api/v1/variants?chrom=chr2&pos=1&genotype=A")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"variants":[]}`, rec.Body.String())
}

func TestChromosomes(t *testing.T) {
	gate := lookup.NewGate()
	gate.Publish(newService(t))
	s := New(gate, Options{})

	rec := get(t, s, "/api/v1/chromosomes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"chr1", "chr12"}, decode[chromosomesResponse](t, rec).Chromosomes)
}

func TestRateLimit(t *testing.T) {
	gate := lookup.NewGate()
	gate.Publish(newService(t))
	s := New(gate, Options{RateLimit: 1})

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		codes[get(t, s, "/api/v1/chromosomes").Code]++
	}
	assert.Positive(t, codes[http.StatusOK])
	assert.Positive(t, codes[http.StatusTooManyRequests])

	// Health checks are not rate limited.
	assert.Equal(t, http.StatusOK, get(t, s, "/healthz").Code)
}
