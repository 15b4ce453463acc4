package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inodb/amlookup/internal/export"
	"github.com/inodb/amlookup/internal/join"
	"github.com/inodb/amlookup/internal/lookup"
)

func newLookupCmd() *cobra.Command {
	var (
		sample int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "lookup <chrom> <pos> <genotype>",
		Short: "Look up variants by position and genotype",
		Long: `Print the rows at chrom:pos whose ALT allele is one of the genotype letters.
A two-letter genotype such as GT returns the rows for both G and T. The
genotype is case-insensitive.

With --sample N, print the first N rows of the table instead.`,
		Example: `  amlookup lookup chr1 69094 GT
  amlookup lookup 12 25245350 a --json
  amlookup lookup --sample 10`,
		Args: usageArgs(func(cmd *cobra.Command, args []string) error {
			if sample > 0 {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(3)(cmd, args)
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			var rows []join.AnnotatedVariant
			if sample > 0 {
				rows, err = svc.Sample(cmd.Context(), sample)
			} else {
				pos, perr := strconv.ParseInt(args[1], 10, 64)
				if perr != nil || pos < 1 {
					return usagef("invalid position %q", args[1])
				}
				rows, err = svc.Lookup(cmd.Context(), args[0], pos, args[2])
			}
			if err != nil {
				return err
			}
			return printRows(rows, asJSON)
		},
	}
	cmd.Flags().IntVar(&sample, "sample", 0, "print the first N rows of the table")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print rows as JSON")
	return cmd
}

func newChromosomesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chromosomes",
		Short: "List the chromosomes present in the table",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			labels, err := svc.Chromosomes(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(labels, "\n"))
			return nil
		},
	}
}

// openService opens the configured store for reading.
func openService(cmd *cobra.Command) (*lookup.Service, func(), error) {
	table, err := tableFromConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, nil, usagef("%v", err)
	}

	st, err := storeFromConfig(cmd.Context(), logger)
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	// One-shot commands have nothing to reuse a cache for.
	svc, err := lookup.NewService(st, table, 0)
	if err != nil {
		st.Close()
		logger.Sync()
		return nil, nil, err
	}
	svc.SetLogger(logger)

	return svc, func() {
		st.Close()
		logger.Sync()
	}, nil
}

func printRows(rows []join.AnnotatedVariant, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []join.AnnotatedVariant{}
		}
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "No matching variants in", viper.GetString("store.table"))
		return nil
	}
	tw := export.NewTabWriter(os.Stdout)
	if err := tw.WriteHeader(); err != nil {
		return err
	}
	for i := range rows {
		if err := tw.Write(&rows[i]); err != nil {
			return err
		}
	}
	return tw.Flush()
}
