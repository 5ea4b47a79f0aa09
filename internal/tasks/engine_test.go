package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devenv-go/devenv/internal/activity"
)

func newTestEngine(t *testing.T, configs []TaskConfig) (*Engine, *Graph) {
	t.Helper()
	g, err := BuildGraph(configs)
	require.NoError(t, err)
	cache, err := OpenCache(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	bus := activity.New()
	return NewEngine(g, cache, NewLocalProvider(), nil, bus), g
}

func TestEngine_Run_SucceedsInDependencyOrder(t *testing.T) {
	configs := []TaskConfig{
		{Name: "build", Command: "true"},
		{Name: "test", Command: "true", After: []string{"build"}},
	}
	e, g := newTestEngine(t, configs)
	order, err := g.Schedule([]string{"test"}, RunAll)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := e.Run(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, results["build"].Outcome)
	assert.Equal(t, OutcomeSuccess, results["test"].Outcome)
}

func TestEngine_Run_DependencyFailurePropagates(t *testing.T) {
	configs := []TaskConfig{
		{Name: "build", Command: "false"},
		{Name: "test", Command: "true", After: []string{"build"}},
		{Name: "deploy", Command: "true", After: []string{"test"}},
	}
	e, g := newTestEngine(t, configs)
	order, err := g.Schedule([]string{"deploy"}, RunAll)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := e.Run(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, results["build"].Outcome)
	assert.Equal(t, OutcomeDependencyFailed, results["test"].Outcome)
	assert.Equal(t, OutcomeDependencyFailed, results["deploy"].Outcome)
}

func TestEngine_Run_ExecIfModifiedSkipsUnchangedInputs(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(input, []byte("v1"), 0o644))

	configs := []TaskConfig{
		{Name: "build", Command: "true", ExecIfModified: []string{input}},
	}
	e, g := newTestEngine(t, configs)
	order, err := g.Schedule([]string{"build"}, RunSingle)
	require.NoError(t, err)

	ctx := context.Background()
	results, err := e.Run(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, results["build"].Outcome)

	e2, g2 := newEngineSharedCache(t, configs, e)
	order2, err := g2.Schedule([]string{"build"}, RunSingle)
	require.NoError(t, err)
	results2, err := e2.Run(ctx, order2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedCached, results2["build"].Outcome)
}

func newEngineSharedCache(t *testing.T, configs []TaskConfig, prev *Engine) (*Engine, *Graph) {
	t.Helper()
	g, err := BuildGraph(configs)
	require.NoError(t, err)
	return NewEngine(g, prev.cache, NewLocalProvider(), nil, activity.New()), g
}
