package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/inodb/amlookup/internal/bulkload"
	"github.com/inodb/amlookup/internal/join"
)

// PostgresOptions tunes the connection pool. Zero values keep the pgxpool
// defaults.
type PostgresOptions struct {
	MaxConns    int32
	MinConns    int32
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	Logger      *zap.Logger
}

// PostgresStore holds annotated tables in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// OpenPostgres connects to the database at url and creates the load and
// batch marker tables.
func OpenPostgres(ctx context.Context, url string, opts PostgresOptions) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}
	if opts.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxLifetime
	}
	if opts.MaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, q := range []string{createLoadTableSQL(Postgres), createMarkerTableSQL(Postgres)} {
		if _, err := pool.Exec(ctx, q); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("database connected",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("db", poolConfig.ConnConfig.Database))

	return &PostgresStore{pool: pool, log: log}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.log.Info("closing database connection pool")
	s.pool.Close()
	return nil
}

// Dialect reports Postgres.
func (s *PostgresStore) Dialect() Dialect { return Postgres }

// Reset drops and recreates table and clears its load records and batch
// markers.
func (s *PostgresStore) Reset(ctx context.Context, table string) error {
	quoted, err := QuoteIdent(table)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		stmts := []string{
			"DROP TABLE IF EXISTS " + quoted,
			createTableSQL(Postgres, quoted),
			createIndexSQL(table, quoted),
		}
		for _, q := range stmts {
			if _, err := tx.Exec(ctx, q); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		return clearLoadsTx(ctx, tx, table)
	})
}

// Ensure creates table if it does not exist.
func (s *PostgresStore) Ensure(ctx context.Context, table string) error {
	quoted, err := QuoteIdent(table)
	if err != nil {
		return err
	}
	for _, q := range []string{createTableSQL(Postgres, quoted), createIndexSQL(table, quoted)} {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// Truncate removes all rows of table and its load records and batch markers.
func (s *PostgresStore) Truncate(ctx context.Context, table string) error {
	quoted, err := QuoteIdent(table)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "TRUNCATE "+quoted); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
		return clearLoadsTx(ctx, tx, table)
	})
}

func clearLoadsTx(ctx context.Context, tx pgx.Tx, table string) error {
	for _, t := range []string{LoadTable, MarkerTable} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+t+" WHERE table_name = $1", table); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return nil
}

// RegisterLoad records rec for loadID unless the load is already known and
// returns the stored record.
func (s *PostgresStore) RegisterLoad(ctx context.Context, table, loadID string, rec bulkload.LoadRecord) (bulkload.LoadRecord, error) {
	if _, err := s.pool.Exec(ctx,
		"INSERT INTO "+LoadTable+" (table_name, load_id, batch_size, total_rows) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING",
		table, loadID, rec.BatchSize, rec.Rows); err != nil {
		return bulkload.LoadRecord{}, fmt.Errorf("record load: %w", err)
	}
	var stored bulkload.LoadRecord
	if err := s.pool.QueryRow(ctx,
		"SELECT batch_size, total_rows FROM "+LoadTable+" WHERE table_name = $1 AND load_id = $2",
		table, loadID).Scan(&stored.BatchSize, &stored.Rows); err != nil {
		return bulkload.LoadRecord{}, fmt.Errorf("read load record: %w", err)
	}
	return stored, nil
}

// CommittedBatches returns the batch indexes recorded for loadID.
func (s *PostgresStore) CommittedBatches(ctx context.Context, table, loadID string) (map[int]bool, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT batch_index FROM "+MarkerTable+" WHERE table_name = $1 AND load_id = $2",
		table, loadID)
	if err != nil {
		return nil, fmt.Errorf("query batch markers: %w", err)
	}
	indexes, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, fmt.Errorf("scan batch markers: %w", err)
	}
	committed := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		committed[int(i)] = true
	}
	return committed, nil
}

// WriteBatch copies rows into table and records the batch marker in one
// transaction.
func (s *PostgresStore) WriteBatch(ctx context.Context, table, loadID string, index int, rows []join.AnnotatedVariant) error {
	if _, err := QuoteIdent(table); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var done bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM "+MarkerTable+" WHERE table_name = $1 AND load_id = $2 AND batch_index = $3)",
			table, loadID, index).Scan(&done); err != nil {
			return fmt.Errorf("check batch marker: %w", err)
		}
		if done {
			return nil
		}

		n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, join.Columns,
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				return rows[i].Values(), nil
			}))
		if err != nil {
			return fmt.Errorf("copy rows: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("copy rows: wrote %d of %d", n, len(rows))
		}

		if _, err := tx.Exec(ctx,
			"INSERT INTO "+MarkerTable+" (table_name, load_id, batch_index) VALUES ($1, $2, $3)",
			table, loadID, index); err != nil {
			return fmt.Errorf("record batch marker: %w", err)
		}
		return nil
	})
}

// SelectVariants runs a variant query and maps rows by column name.
func (s *PostgresStore) SelectVariants(ctx context.Context, query string, args ...any) ([]join.AnnotatedVariant, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[join.AnnotatedVariant])
	if err != nil {
		return nil, fmt.Errorf("scan variants: %w", err)
	}
	return out, nil
}

// SelectStrings runs a single-column query.
func (s *PostgresStore) SelectStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return out, nil
}

// Count returns the number of rows in table.
func (s *PostgresStore) Count(ctx context.Context, table string) (int64, error) {
	quoted, err := QuoteIdent(table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", table, err)
	}
	return n, nil
}
