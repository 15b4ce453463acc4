// Package store persists the annotated AlphaMissense table in DuckDB or
// PostgreSQL and serves the lookup queries against it.
package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/inodb/amlookup/internal/join"
)

// LoadTable records each load and the batch size it was started with.
const LoadTable = "amlookup_loads"

// MarkerTable records committed load batches for idempotent re-runs.
const MarkerTable = "amlookup_load_batches"

// DefaultTable is the default destination relation.
const DefaultTable = "alpha_missense_data"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Dialect captures the SQL differences between the supported backends.
type Dialect int

const (
	DuckDB Dialect = iota
	Postgres
)

// Placeholder returns the bind parameter for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// QuoteIdent validates a table name and returns it double-quoted. Only
// [A-Za-z_][A-Za-z0-9_]* names are accepted.
func QuoteIdent(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return `"` + name + `"`, nil
}

// quotedColumns returns the output columns quoted and comma-joined.
// "end" is a reserved word in both dialects.
func quotedColumns() string {
	cols := make([]string, len(join.Columns))
	for i, c := range join.Columns {
		cols[i] = `"` + c + `"`
	}
	return strings.Join(cols, ", ")
}

// SelectList is the column list used by all variant queries.
var SelectList = quotedColumns()

func columnTypes(d Dialect) map[string]string {
	text, float := "VARCHAR", "DOUBLE"
	if d == Postgres {
		text, float = "TEXT", "DOUBLE PRECISION"
	}
	return map[string]string{
		"CHROM": text, "POS": "BIGINT", "REF": text, "ALT": text, "genome": text,
		"am_pathogenicity": float, "am_class": text, "mean_am_pathogenicity": float,
		"gene_name": text, "gene_id": text, "uniprot_id": text, "transcript_id": text,
		"protein_variant": text, "transcript_name": text, "start": "BIGINT", "end": "BIGINT",
	}
}

func createTableSQL(d Dialect, quoted string) string {
	types := columnTypes(d)
	defs := make([]string, len(join.Columns))
	for i, c := range join.Columns {
		defs[i] = fmt.Sprintf("\t\t%q %s", c, types[c])
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n\t)", quoted, strings.Join(defs, ",\n"))
}

func createIndexSQL(table, quoted string) string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_lookup" ON %s ("CHROM", "POS", "ALT")`, table, quoted)
}

func createLoadTableSQL(d Dialect) string {
	text := "VARCHAR"
	if d == Postgres {
		text = "TEXT"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		table_name %s,
		load_id %s,
		batch_size INTEGER,
		total_rows BIGINT,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (table_name, load_id)
	)`, LoadTable, text, text)
}

func createMarkerTableSQL(d Dialect) string {
	text := "VARCHAR"
	if d == Postgres {
		text = "TEXT"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		table_name %s,
		load_id %s,
		batch_index INTEGER,
		committed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (table_name, load_id, batch_index)
	)`, MarkerTable, text, text)
}
