package lock

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devenv-go/devenv/internal/config"
)

type fakeResolver struct{ calls []string }

func (f *fakeResolver) Resolve(ctx context.Context, name string, input config.Input) (Entry, error) {
	f.calls = append(f.calls, name)
	return Entry{URL: input.URL, Resolved: "resolved:" + name, NarHash: "sha256-" + name}, nil
}

func TestLoad_MissingFileReturnsEmpty(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "devenv.lock"))
	require.NoError(t, err)
	assert.Empty(t, l.Inputs)
}

func TestStale_DetectsMissingAndChangedEntries(t *testing.T) {
	l := &Lock{Inputs: map[string]Entry{"a": {URL: "github:a/a"}}}
	cfg := &config.Config{Inputs: map[string]config.Input{"a": {URL: "github:a/a"}}}
	assert.False(t, Stale(l, cfg))

	cfg.Inputs["b"] = config.Input{URL: "github:b/b"}
	assert.True(t, Stale(l, cfg))
}

func TestUpdate_ResolvesAllInputsAndWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devenv.lock")
	cfg := &config.Config{Inputs: map[string]config.Input{
		"a": {URL: "github:a/a"},
		"b": {URL: "github:b/b"},
	}}
	resolver := &fakeResolver{}

	l, err := Update(context.Background(), path, cfg, resolver, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, resolver.calls)
	assert.Equal(t, "resolved:a", l.Inputs["a"].Resolved)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, l.Inputs, reloaded.Inputs)
}

func TestUpdate_SingleInputOnlyResolvesThatOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devenv.lock")
	cfg := &config.Config{Inputs: map[string]config.Input{
		"a": {URL: "github:a/a"},
		"b": {URL: "github:b/b"},
	}}
	resolver := &fakeResolver{}

	_, err := Update(context.Background(), path, cfg, resolver, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, resolver.calls)
}

func TestUpdate_IsIdempotentOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devenv.lock")
	cfg := &config.Config{Inputs: map[string]config.Input{"a": {URL: "github:a/a"}}}
	resolver := &fakeResolver{}

	_, err := Update(context.Background(), path, cfg, resolver, "")
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = Update(context.Background(), path, cfg, resolver, "")
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUpdate_DetectsFollowsCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devenv.lock")
	cfg := &config.Config{Inputs: map[string]config.Input{
		"a": {Follows: "b"},
		"b": {Follows: "a"},
	}}
	_, err := Update(context.Background(), path, cfg, &fakeResolver{}, "")
	assert.Error(t, err)
}

func TestUpdate_DetectsUnresolvedFollows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devenv.lock")
	cfg := &config.Config{Inputs: map[string]config.Input{
		"a": {Follows: "missing"},
	}}
	_, err := Update(context.Background(), path, cfg, &fakeResolver{}, "")
	assert.Error(t, err)
}
