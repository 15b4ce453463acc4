package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/amlookup/internal/bulkload"
	"github.com/inodb/amlookup/internal/fetch"
	"github.com/inodb/amlookup/internal/pipeline"
	"github.com/inodb/amlookup/internal/store"
)

// Published AlphaMissense tables and the Ensembl release they were joined
// against.
const (
	defaultVariantsURL   = "https://zenodo.org/record/8208688/files/AlphaMissense_hg38.tsv.gz"
	defaultGeneScoresURL = "https://zenodo.org/record/8208688/files/AlphaMissense_gene_hg38.tsv.gz"
	defaultGTFURL        = "https://ftp.ensembl.org/pub/release-110/gtf/homo_sapiens/Homo_sapiens.GRCh38.110.gtf.gz"
)

// storeFromConfig opens the configured store.
func storeFromConfig(ctx context.Context, logger *zap.Logger) (store.Store, error) {
	path := viper.GetString("store.path")
	if path == "" {
		path = filepath.Join(viper.GetString("data_dir"), "amlookup.duckdb")
	}
	return store.Open(ctx, store.Config{
		Driver: viper.GetString("store.driver"),
		Path:   path,
		URL:    viper.GetString("store.url"),
		Logger: logger,
	})
}

func fetcherFromConfig(logger *zap.Logger) *fetch.Fetcher {
	f := fetch.New(viper.GetString("data_dir"))
	f.SetLogger(logger)
	return f
}

func inputsFromConfig() pipeline.Inputs {
	return pipeline.Inputs{
		Variants:       viper.GetString("variants.url"),
		VariantsSHA256: viper.GetString("variants.sha256"),
		VariantsSkip:   viper.GetInt("variants.skip"),
		GTF:            viper.GetString("gtf.url"),
		GeneScores:     viper.GetString("gene_scores.url"),
		GeneScoresSkip: viper.GetInt("gene_scores.skip"),
	}
}

func loadOptionsFromConfig() (pipeline.Options, error) {
	mode, err := bulkload.ParseMode(viper.GetString("load.mode"))
	if err != nil {
		return pipeline.Options{}, usagef("%v", err)
	}
	table, err := tableFromConfig()
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Table:           table,
		Mode:            mode,
		BatchSize:       viper.GetInt("load.batch_size"),
		MaxRetries:      viper.GetInt("load.max_retries"),
		FailOnCollision: viper.GetBool("load.fail_on_collision"),
	}, nil
}

func tableFromConfig() (string, error) {
	table := viper.GetString("store.table")
	if _, err := store.QuoteIdent(table); err != nil {
		return "", usagef("%v", err)
	}
	return table, nil
}

func describeStore() string {
	if viper.GetString("store.driver") == "postgres" {
		return "postgres"
	}
	path := viper.GetString("store.path")
	if path == "" {
		path = filepath.Join(viper.GetString("data_dir"), "amlookup.duckdb")
	}
	return fmt.Sprintf("duckdb:%s", path)
}
