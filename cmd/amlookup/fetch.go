package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inodb/amlookup/internal/fetch"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the AlphaMissense and GTF inputs",
		Long: `Download the variant table, the gene-level score table and the GTF
annotation into the data directory. Files already present are reused only
when their size and SHA-256 match the recorded metadata.`,
		Example: `  amlookup fetch
  amlookup fetch --variants gs://my-bucket/AlphaMissense_hg38.tsv.gz`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd)
		},
	}
	addInputFlags(cmd)
	return cmd
}

// addInputFlags registers the source location flags shared by fetch,
// prepare, export and serve. Several commands define the same flags, so
// they are bound to config keys only when the command runs.
func addInputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("variants", "", "variant table URL, gs:// path or local file")
	f.String("variants-sha256", "", "expected SHA-256 of the variant table")
	f.String("gtf", "", "GTF annotation URL, gs:// path or local file")
	f.String("gene-scores", "", "gene-level score table URL, gs:// path or local file")
	chainPreRun(cmd, func() {
		bindFlags(f, map[string]string{
			"variants.url":    "variants",
			"variants.sha256": "variants-sha256",
			"gtf.url":         "gtf",
			"gene_scores.url": "gene-scores",
		})
	})
}

// addLoadFlags registers the bulk-load flags shared by prepare and serve.
func addLoadFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("mode", "", "load mode: replace or append")
	f.Int("batch-size", 0, "rows per committed batch")
	f.Int("max-retries", 0, "retries per failed batch")
	f.Bool("fail-on-collision", false, "fail instead of keeping the first of duplicate annotation keys")
	chainPreRun(cmd, func() {
		bindFlags(f, map[string]string{
			"load.mode":              "mode",
			"load.batch_size":        "batch-size",
			"load.max_retries":       "max-retries",
			"load.fail_on_collision": "fail-on-collision",
		})
	})
}

// chainPreRun appends fn to the command's PreRun hooks.
func chainPreRun(cmd *cobra.Command, fn func()) {
	prev := cmd.PreRun
	cmd.PreRun = func(c *cobra.Command, args []string) {
		if prev != nil {
			prev(c, args)
		}
		fn()
	}
}

func runFetch(cmd *cobra.Command) error {
	logger, err := newLogger()
	if err != nil {
		return usagef("%v", err)
	}
	defer logger.Sync()

	f := fetcherFromConfig(logger)
	defer f.Close()

	in := inputsFromConfig()
	sources := []struct {
		name, src, sha string
	}{
		{"variants", in.Variants, in.VariantsSHA256},
		{"gtf", in.GTF, ""},
		{"gene scores", in.GeneScores, ""},
	}

	fmt.Printf("Fetching inputs into %s\n", viper.GetString("data_dir"))
	for _, s := range sources {
		if s.src == "" {
			continue
		}
		res, err := f.Fetch(cmd.Context(), s.src, s.sha)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", s.name, err)
		}
		state := "downloaded"
		if res.Cached {
			state = "cached"
		}
		fmt.Printf("  %-12s %s (%s, %s)\n", s.name, res.Path, fetch.FormatSize(res.Size), state)
	}
	return nil
}
