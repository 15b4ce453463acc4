package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/amlookup/internal/amerr"
	"github.com/inodb/amlookup/internal/bulkload"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"usage", usagef("bad position %q", "x"), ExitUsage},
		{"wrapped usage", fmt.Errorf("lookup: %w", usagef("bad")), ExitUsage},
		{"genotype", fmt.Errorf("%w: too long", amerr.ErrInvalidGenotype), ExitUsage},
		{"plain message", errors.New("unknown flag: --nope"), ExitError},
		{"runtime", fmt.Errorf("%w: boom", amerr.ErrStorageWriteFailure), ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestCommandLineErrorsExitWithUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing lookup args", []string{"lookup", "chr1"}},
		{"extra args", []string{"chromosomes", "chr1"}},
		{"unknown flag", []string{"lookup", "--nope"}},
		{"unknown root flag", []string{"--nope"}},
		{"unknown command", []string{"lookp", "chr1", "1", "G"}},
		{"config get without key", []string{"config", "get"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetArgs(tt.args)
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)

			err := root.Execute()
			require.Error(t, err)
			assert.Equal(t, ExitUsage, exitCode(err), err.Error())
		})
	}
}

func TestUnknownCommandSuggests(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"lookp"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "lookp" for "amlookup"`)
	assert.Contains(t, err.Error(), "lookup")
}

func TestRootWithoutArgsPrintsHelp(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetArgs([]string{})
	root.SetOut(&out)
	root.SetErr(io.Discard)

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Available Commands")
}

func TestParseConfigValue(t *testing.T) {
	assert.Equal(t, true, parseConfigValue("true"))
	assert.Equal(t, false, parseConfigValue("off"))
	assert.Equal(t, 10000, parseConfigValue("10000"))
	assert.Equal(t, 0.5, parseConfigValue("0.5"))
	assert.Equal(t, "append", parseConfigValue("append"))
}

func TestLoadOptionsFromConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaults()

	opts, err := loadOptionsFromConfig()
	require.NoError(t, err)
	assert.Equal(t, "alpha_missense_data", opts.Table)
	assert.Equal(t, bulkload.Replace, opts.Mode)
	assert.Equal(t, bulkload.DefaultBatchSize, opts.BatchSize)

	viper.Set("load.mode", "upsert")
	_, err = loadOptionsFromConfig()
	var ue *usageError
	assert.True(t, errors.As(err, &ue))

	viper.Set("load.mode", "append")
	viper.Set("store.table", "bad-name")
	_, err = loadOptionsFromConfig()
	assert.True(t, errors.As(err, &ue))
}
