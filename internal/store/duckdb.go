package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/amlookup/internal/bulkload"
	"github.com/inodb/amlookup/internal/join"
)

// DuckDBStore is an embedded DuckDB database holding annotated tables.
type DuckDBStore struct {
	db *sqlx.DB
}

// OpenDuckDB opens or creates a DuckDB database at path. Use an empty string
// for an in-memory database.
func OpenDuckDB(path string) (*DuckDBStore, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &DuckDBStore{db: sqlx.NewDb(db, "duckdb")}
	for _, q := range []string{createLoadTableSQL(DuckDB), createMarkerTableSQL(DuckDB)} {
		if _, err := s.db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

// Dialect reports DuckDB.
func (s *DuckDBStore) Dialect() Dialect { return DuckDB }

// Reset drops and recreates table and clears its load records and batch
// markers.
func (s *DuckDBStore) Reset(ctx context.Context, table string) error {
	quoted, err := QuoteIdent(table)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		"DROP TABLE IF EXISTS " + quoted,
		createTableSQL(DuckDB, quoted),
		createIndexSQL(table, quoted),
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	if err := clearLoads(ctx, tx, table); err != nil {
		return err
	}
	return tx.Commit()
}

// Ensure creates table if it does not exist.
func (s *DuckDBStore) Ensure(ctx context.Context, table string) error {
	quoted, err := QuoteIdent(table)
	if err != nil {
		return err
	}
	for _, q := range []string{createTableSQL(DuckDB, quoted), createIndexSQL(table, quoted)} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// Truncate removes all rows of table and its load records and batch markers.
func (s *DuckDBStore) Truncate(ctx context.Context, table string) error {
	quoted, err := QuoteIdent(table)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoted); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	if err := clearLoads(ctx, tx, table); err != nil {
		return err
	}
	return tx.Commit()
}

// RegisterLoad records rec for loadID unless the load is already known and
// returns the stored record.
func (s *DuckDBStore) RegisterLoad(ctx context.Context, table, loadID string, rec bulkload.LoadRecord) (bulkload.LoadRecord, error) {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO "+LoadTable+" (table_name, load_id, batch_size, total_rows) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING",
		table, loadID, rec.BatchSize, rec.Rows); err != nil {
		return bulkload.LoadRecord{}, fmt.Errorf("record load: %w", err)
	}
	var stored bulkload.LoadRecord
	if err := s.db.GetContext(ctx, &stored,
		"SELECT batch_size, total_rows FROM "+LoadTable+" WHERE table_name = ? AND load_id = ?",
		table, loadID); err != nil {
		return bulkload.LoadRecord{}, fmt.Errorf("read load record: %w", err)
	}
	return stored, nil
}

// CommittedBatches returns the batch indexes recorded for loadID.
func (s *DuckDBStore) CommittedBatches(ctx context.Context, table, loadID string) (map[int]bool, error) {
	var indexes []int
	if err := s.db.SelectContext(ctx, &indexes,
		"SELECT batch_index FROM "+MarkerTable+" WHERE table_name = ? AND load_id = ?",
		table, loadID); err != nil {
		return nil, fmt.Errorf("query batch markers: %w", err)
	}
	committed := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		committed[i] = true
	}
	return committed, nil
}

// WriteBatch appends rows through the DuckDB Appender and records the batch
// marker, both inside one explicit transaction on a dedicated connection.
func (s *DuckDBStore) WriteBatch(ctx context.Context, table, loadID string, index int, rows []join.AnnotatedVariant) error {
	if _, err := QuoteIdent(table); err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()

	var done int
	if err := conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+MarkerTable+" WHERE table_name = ? AND load_id = ? AND batch_index = ?",
		table, loadID, index).Scan(&done); err != nil {
		return fmt.Errorf("check batch marker: %w", err)
	}
	if done > 0 {
		return nil
	}

	if err := appendRows(conn, table, rows); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx,
		"INSERT INTO "+MarkerTable+" (table_name, load_id, batch_index) VALUES (?, ?, ?)",
		table, loadID, index); err != nil {
		return fmt.Errorf("record batch marker: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// clearLoads deletes the load records and batch markers of table.
func clearLoads(ctx context.Context, tx *sql.Tx, table string) error {
	for _, t := range []string{LoadTable, MarkerTable} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t+" WHERE table_name = ?", table); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return nil
}

// appendRows writes rows to table with an Appender bound to conn. Close
// flushes into the open transaction.
func appendRows(conn *sql.Conn, table string, rows []join.AnnotatedVariant) error {
	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", table)
		return err
	}); err != nil {
		return fmt.Errorf("create appender: %w", err)
	}

	args := make([]driver.Value, len(join.Columns))
	for i := range rows {
		for j, v := range rows[i].Values() {
			args[j] = v
		}
		if err := appender.AppendRow(args...); err != nil {
			appender.Close()
			return fmt.Errorf("append row: %w", err)
		}
	}
	if err := appender.Close(); err != nil {
		return fmt.Errorf("flush appender: %w", err)
	}
	return nil
}

// SelectVariants runs a variant query and scans rows by column name.
func (s *DuckDBStore) SelectVariants(ctx context.Context, query string, args ...any) ([]join.AnnotatedVariant, error) {
	var out []join.AnnotatedVariant
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	return out, nil
}

// SelectStrings runs a single-column query.
func (s *DuckDBStore) SelectStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	var out []string
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return out, nil
}

// Count returns the number of rows in table.
func (s *DuckDBStore) Count(ctx context.Context, table string) (int64, error) {
	quoted, err := QuoteIdent(table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+quoted); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", table, err)
	}
	return n, nil
}
