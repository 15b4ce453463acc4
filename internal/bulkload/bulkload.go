// Package bulkload writes annotated variant rows into a relational store in
// fixed-size, individually committed batches.
package bulkload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inodb/amlookup/internal/amerr"
	"github.com/inodb/amlookup/internal/join"
)

// DefaultBatchSize is the number of rows committed per batch.
const DefaultBatchSize = 10000

// DefaultMaxRetries is the number of times a failed batch is retried.
const DefaultMaxRetries = 3

// loadNamespace seeds deterministic load IDs.
var loadNamespace = uuid.MustParse("6f1c8f8e-2b7a-4d59-9a7e-3c1d2f0b8a41")

// Mode selects how a load treats existing rows in the destination.
type Mode int

const (
	// Replace empties the destination before inserting.
	Replace Mode = iota
	// Append keeps existing rows and skips batches already committed by an
	// earlier run of the same load.
	Append
)

func (m Mode) String() string {
	switch m {
	case Replace:
		return "replace"
	case Append:
		return "append"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "replace" or "append".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replace", "":
		return Replace, nil
	case "append":
		return Append, nil
	}
	return 0, fmt.Errorf("unknown load mode %q (want replace or append)", s)
}

// Sink is a relational destination for annotated rows.
type Sink interface {
	// Reset drops and recreates the table and clears its load records and
	// batch markers.
	Reset(ctx context.Context, table string) error
	// Ensure creates the table and marker table if they do not exist.
	Ensure(ctx context.Context, table string) error
	// RegisterLoad records rec for loadID unless a record already exists,
	// and returns the stored record.
	RegisterLoad(ctx context.Context, table, loadID string, rec LoadRecord) (LoadRecord, error)
	// CommittedBatches returns the batch indexes committed under loadID.
	CommittedBatches(ctx context.Context, table, loadID string) (map[int]bool, error)
	// WriteBatch inserts rows and records the (loadID, index) marker in one
	// transaction. A batch whose marker already exists is not written again.
	WriteBatch(ctx context.Context, table, loadID string, index int, rows []join.AnnotatedVariant) error
	// Truncate removes all rows, load records and batch markers of the table.
	Truncate(ctx context.Context, table string) error
}

// LoadRecord is stored once per load, by the run that starts it. Batch
// boundaries depend on BatchSize, so every later run of the same load reuses
// the stored value.
type LoadRecord struct {
	BatchSize int `db:"batch_size"`
	Rows      int `db:"total_rows"`
}

// Progress describes one finished batch.
type Progress struct {
	Batch   int // 1-based
	Total   int
	Rows    int
	Skipped bool
	Elapsed time.Duration
}

// Stats summarizes a load.
type Stats struct {
	LoadID    string
	BatchSize int
	Rows      int
	Batches   int
	Skipped   int
	Elapsed   time.Duration
}

// Loader writes rows to a Sink.
type Loader struct {
	sink       Sink
	batchSize  int
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
	progress   func(Progress)
}

// NewLoader creates a loader with the default batch size and retry bound.
func NewLoader(sink Sink) *Loader {
	return &Loader{
		sink:       sink,
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		logger: zap.NewNop(),
	}
}

// SetBatchSize sets the rows per batch. Values below 1 keep the default.
func (l *Loader) SetBatchSize(n int) {
	if n > 0 {
		l.batchSize = n
	}
}

// SetMaxRetries sets how many times a failed batch is retried.
func (l *Loader) SetMaxRetries(n int) {
	if n >= 0 {
		l.maxRetries = n
	}
}

// SetBackOff sets the retry delay policy.
func (l *Loader) SetBackOff(fn func() backoff.BackOff) {
	l.newBackOff = fn
}

// SetLogger sets the logger for per-batch progress.
func (l *Loader) SetLogger(logger *zap.Logger) {
	l.logger = logger
}

// SetProgress registers a callback invoked after every batch.
func (l *Loader) SetProgress(fn func(Progress)) {
	l.progress = fn
}

// LoadID derives the idempotency key of a load from the table and the
// content fingerprint of its input, so an interrupted append can be re-run
// without duplicating committed batches.
func LoadID(table, fingerprint string) string {
	return uuid.NewSHA1(loadNamespace, []byte(table+"|"+fingerprint)).String()
}

// Load writes rows into table. fingerprint identifies the input content, for
// example the checksum of the source file, and feeds the load ID.
//
// On failure under Replace the table is left truncated. Under Append the
// batches committed so far remain and a re-run resumes after them, with the
// batch size of the first run.
func (l *Loader) Load(ctx context.Context, table string, rows join.Rows, mode Mode, fingerprint string) (Stats, error) {
	start := time.Now()
	n := rows.Len()
	stats := Stats{LoadID: LoadID(table, fingerprint), BatchSize: l.batchSize}

	switch mode {
	case Replace:
		if err := l.sink.Reset(ctx, table); err != nil {
			return stats, fmt.Errorf("%w: reset %s: %w", amerr.ErrStorageWriteFailure, table, err)
		}
	case Append:
		if err := l.sink.Ensure(ctx, table); err != nil {
			return stats, fmt.Errorf("%w: ensure %s: %w", amerr.ErrStorageWriteFailure, table, err)
		}
	default:
		return stats, fmt.Errorf("unknown load mode %v", mode)
	}

	rec, err := l.sink.RegisterLoad(ctx, table, stats.LoadID, LoadRecord{BatchSize: l.batchSize, Rows: n})
	if err != nil {
		return stats, l.fail(ctx, table, mode, fmt.Errorf("%w: register load: %w", amerr.ErrStorageWriteFailure, err))
	}
	if rec.Rows != n {
		return stats, l.fail(ctx, table, mode, fmt.Errorf("%w: load %s was started with %d rows, input has %d",
			amerr.ErrStorageWriteFailure, stats.LoadID, rec.Rows, n))
	}
	if rec.BatchSize < 1 {
		return stats, l.fail(ctx, table, mode, fmt.Errorf("%w: load %s has invalid batch size %d",
			amerr.ErrStorageWriteFailure, stats.LoadID, rec.BatchSize))
	}
	if rec.BatchSize != l.batchSize {
		l.logger.Info("keeping batch size of the interrupted load",
			zap.String("load_id", stats.LoadID),
			zap.Int("batch_size", rec.BatchSize),
			zap.Int("requested", l.batchSize))
	}
	batchSize := rec.BatchSize
	stats.BatchSize = batchSize

	var committed map[int]bool
	if mode == Append {
		committed, err = l.sink.CommittedBatches(ctx, table, stats.LoadID)
		if err != nil {
			return stats, fmt.Errorf("%w: read batch markers: %w", amerr.ErrStorageWriteFailure, err)
		}
		if len(committed) > 0 {
			l.logger.Info("resuming load",
				zap.String("table", table),
				zap.String("load_id", stats.LoadID),
				zap.Int("committed_batches", len(committed)))
		}
	}

	total := (n + batchSize - 1) / batchSize
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return stats, l.fail(ctx, table, mode, fmt.Errorf("load cancelled at batch %d of %d: %w", i+1, total, err))
		}

		lo := i * batchSize
		hi := min(lo+batchSize, n)

		skipped := committed[i]
		if !skipped {
			if err := l.writeBatch(ctx, table, stats.LoadID, i, rows.Slice(lo, hi)); err != nil {
				return stats, l.fail(ctx, table, mode,
					fmt.Errorf("%w: batch %d of %d: %w", amerr.ErrStorageWriteFailure, i+1, total, err))
			}
			stats.Rows += hi - lo
		} else {
			stats.Skipped++
		}
		stats.Batches++

		p := Progress{Batch: i + 1, Total: total, Rows: hi - lo, Skipped: skipped, Elapsed: time.Since(start)}
		l.logger.Info("inserted batch",
			zap.String("table", table),
			zap.Int("batch", p.Batch),
			zap.Int("total", p.Total),
			zap.Bool("skipped", p.Skipped),
			zap.Duration("elapsed", p.Elapsed))
		if l.progress != nil {
			l.progress(p)
		}
	}

	stats.Elapsed = time.Since(start)
	l.logger.Info("load complete",
		zap.String("table", table),
		zap.String("mode", mode.String()),
		zap.Int("rows", stats.Rows),
		zap.Int("batches", stats.Batches),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

func (l *Loader) writeBatch(ctx context.Context, table, loadID string, index int, batch []join.AnnotatedVariant) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := l.sink.WriteBatch(ctx, table, loadID, index, batch)
		if err != nil && errors.Is(err, context.Canceled) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(l.newBackOff()),
		backoff.WithMaxTries(uint(l.maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			l.logger.Warn("batch write failed, retrying",
				zap.String("table", table),
				zap.Int("batch", index+1),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	return err
}

// fail cleans up after a failed load and returns err.
func (l *Loader) fail(ctx context.Context, table string, mode Mode, err error) error {
	l.logger.Error("load failed", zap.String("table", table), zap.Error(err))
	if mode != Replace {
		return err
	}
	if terr := l.sink.Truncate(context.WithoutCancel(ctx), table); terr != nil {
		return fmt.Errorf("%w (truncate after failure: %w)", err, terr)
	}
	return err
}
