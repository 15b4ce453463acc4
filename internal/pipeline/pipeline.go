// Package pipeline runs the fetch, annotate and load stages that build the
// AlphaMissense lookup table.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inodb/amlookup/internal/amerr"
	"github.com/inodb/amlookup/internal/bulkload"
	"github.com/inodb/amlookup/internal/fetch"
	"github.com/inodb/amlookup/internal/genescore"
	"github.com/inodb/amlookup/internal/gtf"
	"github.com/inodb/amlookup/internal/join"
	"github.com/inodb/amlookup/internal/source"
)

// Fetcher makes an input available as a local file. *fetch.Fetcher
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, src, expectedSHA256 string) (*fetch.Result, error)
}

// Inputs locates the three source files.
type Inputs struct {
	Variants       string
	VariantsSHA256 string
	VariantsSkip   int
	GTF            string
	// GeneScores may be empty, in which case mean_am_pathogenicity is null
	// for every row.
	GeneScores     string
	GeneScoresSkip int
}

// Options controls the load stage.
type Options struct {
	Table     string
	Mode      bulkload.Mode
	BatchSize int
	// MaxRetries bounds retries per failed batch; zero disables retrying.
	MaxRetries int
	// FailOnCollision turns duplicate annotation keys into an error instead
	// of keeping the first occurrence.
	FailOnCollision bool
	Progress        func(bulkload.Progress)
}

// Report summarizes a run.
type Report struct {
	// Fingerprint identifies the combined inputs.
	Fingerprint string
	Variants    int
	Transcripts int
	GeneScores  int
	// Join builds output rows on demand, so only the variant records stay
	// resident.
	Join    *join.Plan
	Load    bulkload.Stats
	Elapsed time.Duration
}

// Pipeline wires the stages together.
type Pipeline struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// New creates a pipeline that resolves inputs through f.
func New(f Fetcher) *Pipeline {
	return &Pipeline{fetcher: f, logger: zap.NewNop()}
}

// SetLogger sets the logger passed down to every stage.
func (p *Pipeline) SetLogger(l *zap.Logger) {
	p.logger = l
}

// Annotate fetches and parses the inputs and joins them. The annotation
// index and the gene-score table are built concurrently with the variant
// read.
func (p *Pipeline) Annotate(ctx context.Context, in Inputs, failOnCollision bool) (*Report, error) {
	start := time.Now()

	var (
		variants              []source.VariantRecord
		idx                   *gtf.Index
		scores                *genescore.Table
		fpVar, fpGTF, fpScore string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := p.fetcher.Fetch(gctx, in.Variants, in.VariantsSHA256)
		if err != nil {
			return fmt.Errorf("fetch variants: %w", err)
		}
		fpVar = res.Fingerprint
		variants, err = source.ReadAll(res.Path, in.VariantsSkip)
		if err != nil {
			return fmt.Errorf("read variants: %w", err)
		}
		p.logger.Info("read variants", zap.Int("rows", len(variants)))
		return nil
	})
	g.Go(func() error {
		res, err := p.fetcher.Fetch(gctx, in.GTF, "")
		if err != nil {
			return fmt.Errorf("fetch annotations: %w", err)
		}
		fpGTF = res.Fingerprint
		ix := gtf.NewIndexer()
		ix.SetLogger(p.logger)
		idx, err = ix.LoadFile(res.Path)
		if err != nil {
			return fmt.Errorf("index annotations: %w", err)
		}
		p.logger.Info("indexed transcripts",
			zap.Int("transcripts", idx.Len()),
			zap.Int("duplicates", idx.Duplicates))
		return nil
	})
	if in.GeneScores != "" {
		g.Go(func() error {
			res, err := p.fetcher.Fetch(gctx, in.GeneScores, "")
			if err != nil {
				return fmt.Errorf("fetch gene scores: %w", err)
			}
			fpScore = res.Fingerprint
			scores, err = genescore.Load(res.Path, in.GeneScoresSkip, p.logger)
			if err != nil {
				return fmt.Errorf("load gene scores: %w", err)
			}
			p.logger.Info("loaded gene scores",
				zap.Int("transcripts", scores.Len()),
				zap.Int("duplicates", scores.Duplicates))
			return nil
		})
	} else {
		p.logger.Warn("no gene score source configured, mean_am_pathogenicity will be null")
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A nil *genescore.Table must not reach Join as a non-nil interface.
	var scoreLookup join.ScoreLookup
	if scores != nil {
		scoreLookup = scores
	}
	res := join.Prepare(variants, idx, scoreLookup)
	if res.Len() != len(variants) {
		return nil, fmt.Errorf("%w: join produced %d rows from %d variants",
			amerr.ErrJoinKeyCollision, res.Len(), len(variants))
	}
	if n := res.Collisions.Total(); n > 0 {
		if failOnCollision {
			return nil, fmt.Errorf("%w: %d duplicate transcript keys, %d duplicate gene-score keys",
				amerr.ErrJoinKeyCollision, res.Collisions.Transcripts, res.Collisions.GeneScores)
		}
		p.logger.Warn("annotation key collisions, kept first occurrence",
			zap.Int("transcripts", res.Collisions.Transcripts),
			zap.Int("gene_scores", res.Collisions.GeneScores))
	}
	p.logger.Info("joined annotations",
		zap.Int("rows", res.Len()),
		zap.Int("unannotated", res.Unannotated),
		zap.Int("unscored", res.Unscored))

	rep := &Report{
		Fingerprint: strings.Join([]string{fpVar, fpGTF, fpScore}, "|"),
		Variants:    len(variants),
		Transcripts: idx.Len(),
		Join:        res,
		Elapsed:     time.Since(start),
	}
	if scores != nil {
		rep.GeneScores = scores.Len()
	}
	return rep, nil
}

// Run annotates the inputs and loads the joined rows into sink.
func (p *Pipeline) Run(ctx context.Context, sink bulkload.Sink, in Inputs, opts Options) (*Report, error) {
	start := time.Now()
	rep, err := p.Annotate(ctx, in, opts.FailOnCollision)
	if err != nil {
		return nil, err
	}

	loader := bulkload.NewLoader(sink)
	loader.SetBatchSize(opts.BatchSize)
	loader.SetMaxRetries(opts.MaxRetries)
	loader.SetLogger(p.logger)
	if opts.Progress != nil {
		loader.SetProgress(opts.Progress)
	}

	rep.Load, err = loader.Load(ctx, opts.Table, rep.Join, opts.Mode, rep.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.Table, err)
	}
	rep.Elapsed = time.Since(start)
	return rep, nil
}
