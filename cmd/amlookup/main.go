// Package main provides the amlookup command-line tool.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/amlookup/internal/amerr"
	"github.com/inodb/amlookup/internal/logging"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitUsage   = 2
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cfgFile string

// usageError marks errors caused by bad arguments rather than failed work.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// usageArgs marks positional argument errors from v as usage errors.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

func exitCode(err error) int {
	var ue *usageError
	if errors.As(err, &ue) || errors.Is(err, amerr.ErrInvalidGenotype) {
		return ExitUsage
	}
	return ExitError
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amlookup",
		Short: "AlphaMissense variant lookup",
		Long: `amlookup builds an annotated AlphaMissense table and answers variant lookups.

The prepare command fetches the AlphaMissense variant and gene-level tables
plus an Ensembl/GENCODE GTF, joins gene and transcript annotations onto every
variant and bulk-loads the result into DuckDB or PostgreSQL. The lookup and
serve commands query that table by chromosome, position and genotype.`,
		Example: `  amlookup prepare                          # fetch inputs and load the table
  amlookup lookup chr1 69094 GT             # rows with ALT G or T at chr1:69094
  amlookup chromosomes                      # list loaded chromosomes
  amlookup serve --addr :8080               # JSON API with background load`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		// Unmatched subcommand names land here instead of in cobra's own
		// unknown-command error, so they carry the usage exit code.
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			msg := fmt.Sprintf("unknown command %q for %q", args[0], cmd.CommandPath())
			if suggestions := cmd.SuggestionsFor(args[0]); len(suggestions) > 0 {
				msg += "\n\nDid you mean this?\n\t" + strings.Join(suggestions, "\n\t")
			}
			return &usageError{err: errors.New(msg)}
		},
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	cobra.OnInitialize(initConfig)

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.amlookup.yaml)")
	pf.String("data-dir", "", "directory for downloaded inputs")
	pf.String("store-driver", "duckdb", "store backend: duckdb or postgres")
	pf.String("store-path", "", "DuckDB database file")
	pf.String("store-url", "", "PostgreSQL connection URL")
	pf.String("table", "", "destination table name")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")
	bindFlags(pf, map[string]string{
		"data_dir":     "data-dir",
		"store.driver": "store-driver",
		"store.path":   "store-path",
		"store.url":    "store-url",
		"store.table":  "table",
		"log.level":    "log-level",
		"log.format":   "log-format",
	})

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newPrepareCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newLookupCmd())
	cmd.AddCommand(newChromosomesCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("amlookup version %s (%s) built %s\n", version, commit, date)
		},
	}
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".amlookup")
	}

	// AMLOOKUP_STORE_URL maps to store.url
	viper.SetEnvPrefix("AMLOOKUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", cfgFile, err)
		}
	}
}

func setDefaults() {
	dataDir := "amlookup-data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".amlookup", "data")
	}
	viper.SetDefault("data_dir", dataDir)
	viper.SetDefault("variants.url", defaultVariantsURL)
	viper.SetDefault("variants.skip", 3)
	viper.SetDefault("gtf.url", defaultGTFURL)
	viper.SetDefault("gene_scores.url", defaultGeneScoresURL)
	viper.SetDefault("gene_scores.skip", 3)
	viper.SetDefault("store.driver", "duckdb")
	viper.SetDefault("store.table", "alpha_missense_data")
	viper.SetDefault("load.batch_size", 10000)
	viper.SetDefault("load.max_retries", 3)
	viper.SetDefault("load.mode", "replace")
	viper.SetDefault("load.fail_on_collision", false)
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.ready_timeout", "2s")
	viper.SetDefault("server.rate_limit", 20.0)
	viper.SetDefault("cache.ttl", "10m")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
}

// bindFlags binds config keys to flags of fs.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		_ = viper.BindPFlag(key, fs.Lookup(flag))
	}
}

func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log.level"), viper.GetString("log.format"))
}
