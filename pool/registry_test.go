package pool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/warmbox/config"
	"github.com/isdmx/warmbox/sandbox/sandboxtest"
)

func testConfig() *config.Config {
	return &config.Config{
		Sandbox: config.SandboxConfig{ImagePrefix: "serverless"},
		Pool: config.PoolConfig{
			Size:              2,
			CreateConcurrency: 2,
			ResetTimeout:      time.Second,
			DrainTimeout:      time.Second,
		},
		Runtimes: map[string]config.RuntimeConfig{
			"python": {
				EntryFile: "function.py",
				Command:   []string{"python", "function.py"},
				Workdir:   "/app",
			},
			"javascript": {
				Image:     "custom-node:20",
				EntryFile: "function.js",
				Command:   []string{"node", "function.js"},
				Workdir:   "/app",
				PoolSize:  1,
			},
		},
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	rt := sandboxtest.New()
	reg, err := NewRegistry(zaptest.NewLogger(t), rt, testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, reg.Initialize(ctx))

	assert.Equal(t, []string{"javascript", "python"}, reg.Runtimes())
	assert.Equal(t, 3, reg.Capacity())
	assert.Equal(t, 3, rt.Live())

	stats := reg.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "javascript", stats[0].Runtime)
	assert.Equal(t, 1, stats[0].Available)
	assert.Equal(t, "python", stats[1].Runtime)
	assert.Equal(t, 2, stats[1].Available)

	py, err := reg.Get("python")
	require.NoError(t, err)
	assert.Equal(t, "python", py.Runtime())
	assert.Equal(t, "/app/function.py", py.Entry().Path())

	id, err := py.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "serverless-python:latest", rt.Image(id))
	py.Release(ctx, id)

	js, err := reg.Get("javascript")
	require.NoError(t, err)
	id, err = js.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "custom-node:20", rt.Image(id))
	js.Release(ctx, id)

	require.NoError(t, reg.Cleanup(ctx))
	assert.Equal(t, 0, rt.Live())
	assert.Equal(t, 0, reg.Capacity())

	_, err = py.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestRegistry_GetUnknownRuntime(t *testing.T) {
	reg, err := NewRegistry(zaptest.NewLogger(t), sandboxtest.New(), testConfig(), nil)
	require.NoError(t, err)

	_, err = reg.Get("ruby")
	assert.ErrorIs(t, err, ErrRuntimeNotFound)
	assert.Contains(t, err.Error(), "ruby")
}

func TestRegistry_RejectsUnsupportedRuntime(t *testing.T) {
	cfg := testConfig()
	cfg.Runtimes["ruby"] = config.RuntimeConfig{
		EntryFile: "function.rb",
		Command:   []string{"ruby", "function.rb"},
		Workdir:   "/app",
	}

	_, err := NewRegistry(zaptest.NewLogger(t), sandboxtest.New(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported runtime: ruby")
}

func TestRegistry_InitializeReportsDegradedPools(t *testing.T) {
	rt := sandboxtest.New()
	rt.CreateErr = func(attempt int) error {
		if attempt == 1 {
			return errors.New("out of disk")
		}
		return nil
	}

	reg, err := NewRegistry(zaptest.NewLogger(t), rt, testConfig(), nil)
	require.NoError(t, err)

	err = reg.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolDegraded)
	assert.Equal(t, 1, strings.Count(err.Error(), "out of disk"))

	// Every pool was still initialized.
	assert.Equal(t, 2, reg.Capacity())
	for _, s := range reg.Stats() {
		assert.False(t, s.Closed)
	}
}

func TestRegistry_CleanupContinuesAfterFailures(t *testing.T) {
	rt := sandboxtest.New()
	reg, err := NewRegistry(zaptest.NewLogger(t), rt, testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, reg.Initialize(context.Background()))

	rt.Configure(func(r *sandboxtest.Runtime) {
		r.RemoveErr = errors.New("daemon unavailable")
	})

	err = reg.Cleanup(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, strings.Count(err.Error(), "daemon unavailable"))

	for _, s := range reg.Stats() {
		assert.True(t, s.Closed)
		assert.Equal(t, 0, s.Available)
		assert.Equal(t, 0, s.InUse)
	}
}
