package lookup

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/inodb/amlookup/internal/join"
	"github.com/inodb/amlookup/internal/source"
	"github.com/inodb/amlookup/internal/store"
)

// Querier is the read side of a store.
type Querier interface {
	Dialect() store.Dialect
	SelectVariants(ctx context.Context, query string, args ...any) ([]join.AnnotatedVariant, error)
	SelectStrings(ctx context.Context, query string, args ...any) ([]string, error)
}

// Service runs lookups against one table.
type Service struct {
	q      Querier
	table  string
	quoted string
	cache  *gocache.Cache
	logger *zap.Logger
}

// NewService creates a service over table. Results are cached for ttl;
// a ttl of zero or less disables caching.
func NewService(q Querier, table string, ttl time.Duration) (*Service, error) {
	quoted, err := store.QuoteIdent(table)
	if err != nil {
		return nil, err
	}
	s := &Service{q: q, table: table, quoted: quoted, logger: zap.NewNop()}
	if ttl > 0 {
		s.cache = gocache.New(ttl, 2*ttl)
	}
	return s, nil
}

// SetLogger sets the logger for query diagnostics.
func (s *Service) SetLogger(l *zap.Logger) {
	s.logger = l
}

// Table returns the queried table name.
func (s *Service) Table() string { return s.table }

// Lookup returns the rows at chrom:pos whose ALT matches any allele of
// genotype. Genotype matching is case-insensitive. The returned slice is
// shared with the cache and must not be modified.
func (s *Service) Lookup(ctx context.Context, chrom string, pos int64, genotype string) ([]join.AnnotatedVariant, error) {
	alts, err := NormalizeGenotype(genotype)
	if err != nil {
		return nil, err
	}
	chrom = source.NormalizeChrom(chrom)

	key := fmt.Sprintf("v|%s|%d|%s", chrom, pos, strings.Join(alts, ""))
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.([]join.AnnotatedVariant), nil
		}
	}

	q, args, err := BuildVariantQuery(s.q.Dialect(), s.table, chrom, pos, alts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.q.SelectVariants(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup %s:%d: %w", chrom, pos, err)
	}
	s.logger.Debug("variant lookup",
		zap.String("chrom", chrom),
		zap.Int64("pos", pos),
		zap.Strings("alts", alts),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)))

	if s.cache != nil {
		s.cache.SetDefault(key, rows)
	}
	return rows, nil
}

// Chromosomes returns the distinct chromosome labels in natural order.
func (s *Service) Chromosomes(ctx context.Context) ([]string, error) {
	const key = "chromosomes"
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.([]string), nil
		}
	}

	labels, err := s.q.SelectStrings(ctx, `SELECT DISTINCT "CHROM" FROM `+s.quoted)
	if err != nil {
		return nil, fmt.Errorf("list chromosomes: %w", err)
	}
	SortChromosomes(labels)

	if s.cache != nil {
		s.cache.SetDefault(key, labels)
	}
	return labels, nil
}

// Sample returns up to n rows in storage order.
func (s *Service) Sample(ctx context.Context, n int) ([]join.AnnotatedVariant, error) {
	if n <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf("SELECT %s FROM %s LIMIT %d", store.SelectList, s.quoted, n)
	rows, err := s.q.SelectVariants(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", s.table, err)
	}
	return rows, nil
}

// Flush drops all cached results.
func (s *Service) Flush() {
	if s.cache != nil {
		s.cache.Flush()
	}
}
