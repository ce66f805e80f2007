package container

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"gommd/app"
	"gommd/internal/config"
	"gommd/internal/fetcher"
	"gommd/internal/testkit"
	"gommd/ports"
)

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Test.NumNullSamples = 0
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestContainer_RunsAndStoresTests(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.Test.NumNullSamples = 50

	c, err := New(cfg)
	require.NoError(t, err)
	assert.Nil(t, c.RunStore)

	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitWithDatabase(ctx, db))
	require.NotNil(t, c.RunStore)

	p, q := testkit.SamplePair(3, 12, 12, 1, 0)
	result, err := c.Service.RunTest(ctx, cfg, app.TestInput{
		P:       fetcher.NewMemory(p, c.Logger),
		Q:       fetcher.NewMemory(q, c.Logger),
		Kernels: []ports.Kernel{testkit.NewGaussianKernel(1)},
	})
	require.NoError(t, err)

	stored, err := c.RunStore.Get(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Verdict.Decision, stored.Verdict.Decision)
	assert.Equal(t, 1, testutil.CollectAndCount(c.Metrics.TestsTotal))

	require.NoError(t, c.Shutdown(ctx))
	assert.Error(t, db.PingContext(ctx))
}

func TestInitWithDatabase_NilDB(t *testing.T) {
	c, err := New(config.Default())
	require.NoError(t, err)
	assert.Error(t, c.InitWithDatabase(context.Background(), nil))
}
