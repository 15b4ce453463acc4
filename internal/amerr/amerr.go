// Package amerr defines the error taxonomy shared by the load pipeline and
// the lookup path. Callers wrap these sentinels with context using %w and
// test for them with errors.Is.
package amerr

import "errors"

var (
	// ErrSourceUnavailable means an input file could not be fetched, opened
	// or decompressed. Fatal to a pipeline run.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSchemaMismatch means parsed columns or values do not match what the
	// pipeline expects. Fatal to a pipeline run.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrJoinKeyCollision marks duplicate normalized transcript keys in an
	// annotation source. The pipeline keeps the first occurrence and reports
	// the count; it is only returned as an error if the join would change the
	// row count.
	ErrJoinKeyCollision = errors.New("join key collision")

	// ErrStorageWriteFailure means a batch could not be committed after
	// exhausting retries.
	ErrStorageWriteFailure = errors.New("storage write failure")

	// ErrInvalidGenotype is returned for genotypes that are not one or two
	// allele letters.
	ErrInvalidGenotype = errors.New("invalid genotype")

	// ErrNotReady is returned by the lookup path before the first snapshot
	// has been published.
	ErrNotReady = errors.New("data not ready")
)
