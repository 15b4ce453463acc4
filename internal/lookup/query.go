// Package lookup answers variant queries against a loaded AlphaMissense
// table.
package lookup

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/inodb/amlookup/internal/amerr"
	"github.com/inodb/amlookup/internal/store"
)

// NormalizeGenotype upper-cases a one- or two-letter genotype and returns
// its distinct alleles in input order. "gt" -> [G T], "AA" -> [A].
func NormalizeGenotype(genotype string) ([]string, error) {
	g := strings.ToUpper(strings.TrimSpace(genotype))
	if len(g) < 1 || len(g) > 2 {
		return nil, fmt.Errorf("%w: %q must be 1 or 2 letters", amerr.ErrInvalidGenotype, genotype)
	}
	alts := make([]string, 0, 2)
	for _, c := range g {
		if c < 'A' || c > 'Z' {
			return nil, fmt.Errorf("%w: %q must be 1 or 2 letters", amerr.ErrInvalidGenotype, genotype)
		}
		a := string(c)
		if len(alts) == 0 || alts[0] != a {
			alts = append(alts, a)
		}
	}
	return alts, nil
}

// BuildVariantQuery returns the parameterized query selecting rows of table
// at (chrom, pos) whose ALT is any of alts. Only values are bound; the table
// name is validated and quoted.
func BuildVariantQuery(d store.Dialect, table, chrom string, pos int64, alts []string) (string, []any, error) {
	if len(alts) == 0 {
		return "", nil, fmt.Errorf("%w: no alleles", amerr.ErrInvalidGenotype)
	}
	quoted, err := store.QuoteIdent(table)
	if err != nil {
		return "", nil, err
	}

	args := []any{chrom, pos}
	in := make([]string, len(alts))
	for i, a := range alts {
		args = append(args, a)
		in[i] = d.Placeholder(len(args))
	}

	q := fmt.Sprintf(`SELECT %s FROM %s WHERE "CHROM" = %s AND "POS" = %s AND "ALT" IN (%s) ORDER BY "ALT", "transcript_id"`,
		store.SelectList, quoted, d.Placeholder(1), d.Placeholder(2), strings.Join(in, ", "))
	return q, args, nil
}

// chromRank orders chromosome labels: 1-22 numerically, then X, Y and M.
// Labels it does not recognize rank after all known ones.
func chromRank(label string) (int, bool) {
	s := strings.TrimPrefix(strings.TrimPrefix(label, "chr"), "Chr")
	switch strings.ToUpper(s) {
	case "X":
		return 23, true
	case "Y":
		return 24, true
	case "M", "MT":
		return 25, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// SortChromosomes sorts labels in natural order in place:
// chr1 < chr2 < chr10 < chrX < chrY < chrM, then unknown labels
// lexicographically.
func SortChromosomes(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool {
		ri, oki := chromRank(labels[i])
		rj, okj := chromRank(labels[j])
		switch {
		case oki && okj:
			if ri != rj {
				return ri < rj
			}
			return labels[i] < labels[j]
		case oki:
			return true
		case okj:
			return false
		}
		return labels[i] < labels[j]
	})
}
