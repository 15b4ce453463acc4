package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/amlookup/internal/bulkload"
	"github.com/inodb/amlookup/internal/join"
)

// Store is a backend that accepts bulk loads and answers lookup queries.
type Store interface {
	bulkload.Sink

	Dialect() Dialect
	SelectVariants(ctx context.Context, query string, args ...any) ([]join.AnnotatedVariant, error)
	SelectStrings(ctx context.Context, query string, args ...any) ([]string, error)
	Count(ctx context.Context, table string) (int64, error)
	Close() error
}

var (
	_ Store = (*DuckDBStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Config selects and locates a backend.
type Config struct {
	Driver string // "duckdb" or "postgres"
	Path   string // DuckDB file, "" for in-memory
	URL    string // PostgreSQL connection URL
	Logger *zap.Logger
}

// Open opens the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "duckdb":
		return OpenDuckDB(cfg.Path)
	case "postgres", "postgresql", "pgx":
		if cfg.URL == "" {
			return nil, fmt.Errorf("postgres store requires a connection URL")
		}
		return OpenPostgres(ctx, cfg.URL, PostgresOptions{Logger: cfg.Logger})
	}
	return nil, fmt.Errorf("unknown store driver %q (want duckdb or postgres)", cfg.Driver)
}
