package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/amlookup/internal/bulkload"
	"github.com/inodb/amlookup/internal/lookup"
	"github.com/inodb/amlookup/internal/pipeline"
	"github.com/inodb/amlookup/internal/server"
)

func newServeCmd() *cobra.Command {
	var skipLoad bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve variant lookups over HTTP",
		Long: `Start the JSON lookup API. Unless --skip-load is given, the table is
prepared in the background first; until it is loaded, lookups answer
503 with {"status":"loading"} and /readyz reports not ready.

Endpoints:
  GET /healthz
  GET /readyz
  GET /api/v1/chromosomes
  GET /api/v1/variants?chrom=chr1&pos=69094&genotype=GT`,
		Example: `  amlookup serve
  amlookup serve --addr :9000 --skip-load`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, skipLoad)
		},
	}
	addInputFlags(cmd)
	addLoadFlags(cmd)
	f := cmd.Flags()
	f.String("addr", "", "listen address")
	f.BoolVar(&skipLoad, "skip-load", false, "serve the existing table without preparing it")
	chainPreRun(cmd, func() {
		bindFlags(f, map[string]string{"server.addr": "addr"})
	})
	return cmd
}

func runServe(cmd *cobra.Command, skipLoad bool) error {
	opts, err := loadOptionsFromConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return usagef("%v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := storeFromConfig(ctx, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	gate := lookup.NewGate()
	publish := func() error {
		svc, err := lookup.NewService(st, opts.Table, viper.GetDuration("cache.ttl"))
		if err != nil {
			return err
		}
		svc.SetLogger(logger)
		gate.Publish(svc)
		logger.Info("lookup service ready", zap.String("table", opts.Table))
		return nil
	}

	if skipLoad {
		if err := publish(); err != nil {
			return err
		}
	} else {
		go func() {
			if err := prepareInBackground(ctx, st, opts, logger); err != nil {
				logger.Error("background load failed", zap.Error(err))
				gate.Fail(err)
				return
			}
			if err := publish(); err != nil {
				gate.Fail(err)
			}
		}()
	}

	srv := server.New(gate, server.Options{
		ReadyTimeout: viper.GetDuration("server.ready_timeout"),
		RateLimit:    viper.GetFloat64("server.rate_limit"),
		Logger:       logger,
	})
	if err := srv.Start(ctx, viper.GetString("server.addr")); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func prepareInBackground(ctx context.Context, st bulkload.Sink, opts pipeline.Options, logger *zap.Logger) error {
	f := fetcherFromConfig(logger)
	defer f.Close()

	p := pipeline.New(f)
	p.SetLogger(logger)
	rep, err := p.Run(ctx, st, inputsFromConfig(), opts)
	if err != nil {
		return err
	}
	logger.Info("background load complete",
		zap.Int("rows", rep.Load.Rows),
		zap.Duration("elapsed", rep.Elapsed))
	return nil
}
