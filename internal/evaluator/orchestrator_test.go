package evaluator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/devenv-go/devenv/internal/activity"
	"github.com/devenv-go/devenv/internal/evalcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T, attrs map[string]any) (*Orchestrator, *FakeEvaluator) {
	t.Helper()
	dir := t.TempDir()
	cache, err := evalcache.Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	fake := NewFakeEvaluator(attrs)
	handle := NewHandle(fake)
	orch := NewOrchestrator(handle, cache, activity.New())
	require.NoError(t, orch.Assemble(context.Background(), Settings{}, "canonical-args"))
	return orch, fake
}

func TestOrchestrator_CacheHitAvoidsReEvaluation(t *testing.T) {
	orch, fake := newTestOrchestrator(t, map[string]any{"devenv.shell": map[string]any{"ready": true}})

	_, err := orch.Eval(context.Background(), []string{"devenv.shell"})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.EvalCount("devenv.shell"))

	_, err = orch.Eval(context.Background(), []string{"devenv.shell"})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.EvalCount("devenv.shell"), "second eval should hit cache, not re-invoke evaluator")
}

func TestOrchestrator_EvalAndBuildDoNotCollide(t *testing.T) {
	orch, fake := newTestOrchestrator(t, map[string]any{"pkgs.hello": "hello-derivation"})

	_, err := orch.Eval(context.Background(), []string{"pkgs.hello"})
	require.NoError(t, err)
	_, err = orch.Build(context.Background(), []string{"pkgs.hello"}, "")
	require.NoError(t, err)

	// Both must have actually run the evaluator once each: an eval-variant
	// cache hit must never satisfy a build-variant lookup.
	assert.Equal(t, 2, fake.EvalCount("pkgs.hello"))
}

func TestOrchestrator_AttributeNotFoundSurfacesError(t *testing.T) {
	orch, _ := newTestOrchestrator(t, map[string]any{})
	_, err := orch.Eval(context.Background(), []string{"missing.attr"})
	assert.Error(t, err)
}

func TestOrchestrator_GCSkipsMissingPaths(t *testing.T) {
	orch, _ := newTestOrchestrator(t, map[string]any{})
	count, freed := orch.GC([]string{"/nonexistent/path/for/test"})
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), freed)
}
