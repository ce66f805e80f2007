package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gommd/domain/core"
	"gommd/internal/errors"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("MMD_BLOCKSIZE", "100")
	t.Setenv("MMD_NUM_BLOCKS_PER_BURST", "4")
	t.Setenv("MMD_NULL_METHOD", "gaussian")
	t.Setenv("MMD_SEED", "1234567890123")
	t.Setenv("MMD_ALPHA", "0.01")
	t.Setenv("MMD_BACKEND", "gpu")
	t.Setenv("MMD_COLUMNS", "x1,x2,x3")
	t.Setenv("MMD_NUM_WORKERS", "not-a-number")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, c.Compute.Blocksize)
	assert.Equal(t, 4, c.Compute.NumBlocksPerBurst)
	assert.Equal(t, "gaussian", c.Test.NullMethod)
	assert.Equal(t, int64(1234567890123), c.Test.Seed)
	assert.Equal(t, 0.01, c.Test.Alpha)
	assert.Equal(t, "gpu", c.Compute.Backend)
	assert.Equal(t, []string{"x1", "x2", "x3"}, c.Sources.Columns)
	assert.Equal(t, 0, c.Compute.NumWorkers, "unparsable values keep the default")
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
test:
  statistic: biased_full
  null_method: gamma
  num_null_samples: 500
compute:
  backend: cpu
sources:
  excel_file: samples.xlsx
`), 0o600))

	t.Setenv(EnvConfigFile, path)
	t.Setenv("MMD_NUM_NULL_SAMPLES", "1000")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "biased_full", c.Test.Statistic)
	assert.Equal(t, "gamma", c.Test.NullMethod)
	assert.Equal(t, 1000, c.Test.NumNullSamples)
	assert.Equal(t, "samples.xlsx", c.Sources.ExcelFile)
	assert.Equal(t, "P", c.Sources.ExcelSheetP, "unset fields keep their default")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeResourceError, errors.GetCode(err))
	assert.True(t, core.IsResourceError(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown statistic", func(c *Config) { c.Test.Statistic = "linear" }},
		{"unknown null", func(c *Config) { c.Test.NullMethod = "bootstrap" }},
		{"alpha out of range", func(c *Config) { c.Test.Alpha = 1 }},
		{"no null samples", func(c *Config) { c.Test.NumNullSamples = 0 }},
		{"negative blocksize", func(c *Config) { c.Compute.Blocksize = -1 }},
		{"unknown backend", func(c *Config) { c.Compute.Backend = "tpu" }},
		{"skip fraction", func(c *Config) { c.Compute.MaxSkippedFraction = 1.5 }},
		{"gamma with blocks", func(c *Config) {
			c.Test.NullMethod = "gamma"
			c.Test.Statistic = "biased_full"
			c.Compute.Blocksize = 10
		}},
		{"gamma unbiased", func(c *Config) { c.Test.NullMethod = "gamma" }},
		{"spectrum with blocks", func(c *Config) {
			c.Test.NullMethod = "spectrum"
			c.Compute.Blocksize = 10
		}},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, core.IsConfigurationError(err), "got %v", err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}
