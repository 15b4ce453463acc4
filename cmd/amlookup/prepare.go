package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/amlookup/internal/export"
	"github.com/inodb/amlookup/internal/pipeline"
)

func newPrepareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Fetch, annotate and load the AlphaMissense table",
		Long: `Fetch the inputs, index the GTF transcripts, join gene and transcript
annotations and gene-level mean scores onto every variant, then bulk-load
the result into the configured store in committed batches.

In replace mode the table is recreated. In append mode batches already
committed by an earlier run over the same inputs are skipped, so an
interrupted load can be re-run.`,
		Example: `  amlookup prepare
  amlookup prepare --mode append --batch-size 50000
  amlookup prepare --store-driver postgres --store-url postgres://localhost/am`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrepare(cmd)
		},
	}
	addInputFlags(cmd)
	addLoadFlags(cmd)
	return cmd
}

func runPrepare(cmd *cobra.Command) error {
	ctx := cmd.Context()
	opts, err := loadOptionsFromConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return usagef("%v", err)
	}
	defer logger.Sync()

	st, err := storeFromConfig(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	f := fetcherFromConfig(logger)
	defer f.Close()

	p := pipeline.New(f)
	p.SetLogger(logger)

	rep, err := p.Run(ctx, st, inputsFromConfig(), opts)
	if err != nil {
		return err
	}

	fmt.Printf("Loaded %d rows into %s (%s, %s mode)\n",
		rep.Load.Rows, opts.Table, describeStore(), opts.Mode)
	fmt.Printf("  variants:     %d\n", rep.Variants)
	fmt.Printf("  transcripts:  %d (%d duplicate keys)\n", rep.Transcripts, rep.Join.Collisions.Transcripts)
	fmt.Printf("  gene scores:  %d (%d duplicate keys)\n", rep.GeneScores, rep.Join.Collisions.GeneScores)
	fmt.Printf("  unannotated:  %d\n", rep.Join.Unannotated)
	fmt.Printf("  batches:      %d of %d rows (%d skipped)\n", rep.Load.Batches, rep.Load.BatchSize, rep.Load.Skipped)
	fmt.Printf("  elapsed:      %s\n", rep.Elapsed.Round(time.Millisecond))
	return nil
}

func newExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the annotated table as gzipped TSV",
		Long: `Fetch and annotate the inputs like prepare, but write the joined table to
a tab-separated file instead of loading it. Null annotation fields are
written empty.`,
		Example: `  amlookup export
  amlookup export -o AlphaMissense_hg38_annotated.tsv.gz`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = filepath.Join(viper.GetString("data_dir"), "AlphaMissense_hg38_annotated.tsv.gz")
			}
			return runExport(cmd, output)
		},
	}
	addInputFlags(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (.gz is compressed)")
	return cmd
}

func runExport(cmd *cobra.Command, output string) error {
	logger, err := newLogger()
	if err != nil {
		return usagef("%v", err)
	}
	defer logger.Sync()

	f := fetcherFromConfig(logger)
	defer f.Close()

	p := pipeline.New(f)
	p.SetLogger(logger)

	rep, err := p.Annotate(cmd.Context(), inputsFromConfig(), viper.GetBool("load.fail_on_collision"))
	if err != nil {
		return err
	}
	if err := export.WriteFile(output, rep.Join); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	logger.Info("export complete", zap.String("file", output), zap.Int("rows", rep.Join.Len()))
	fmt.Printf("Wrote %d rows to %s\n", rep.Join.Len(), output)
	return nil
}
