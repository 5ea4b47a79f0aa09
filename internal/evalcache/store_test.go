package evalcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	defer s.Close()

	key := CacheKey("args", "devenv.shell", VariantEval)
	rec := &Record{EvalID: "e1", JSONOutput: `{"ok":true}`, EnvInputs: map[string]string{"FOO": "bar"}}
	require.NoError(t, s.Put(key, rec))

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "e1", got.EvalID)
	assert.Equal(t, `{"ok":true}`, got.JSONOutput)
}

func TestStore_GetMissReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Get("nonexistent")
	assert.False(t, ok)
}

func TestCacheKey_VariantNamespacing(t *testing.T) {
	evalKey := CacheKey("args", "pkgs.hello", VariantEval)
	buildKey := CacheKey("args", "pkgs.hello", VariantBuild)
	assert.NotEqual(t, evalKey, buildKey)
}

func TestIsFresh_DetectsContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.nix")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	fi, err := BuildFileInput(path)
	require.NoError(t, err)
	rec := &Record{FileInputs: []FileInput{fi}}
	assert.True(t, IsFresh(rec, nil))

	require.NoError(t, os.WriteFile(path, []byte("v2-changed"), 0644))
	assert.False(t, IsFresh(rec, nil))
}

func TestPortAllocator_ReplayMismatchFails(t *testing.T) {
	p := NewPortAllocator()
	alloc := RecordAllocation("web", "http", 8000, 9999)
	err := p.Replay(alloc)
	assert.Error(t, err)
}

func TestPortAllocator_ReplayMatchSucceeds(t *testing.T) {
	p := NewPortAllocator()
	allocated, err := p.Allocate("web", "http", 8000)
	require.NoError(t, err)
	alloc := RecordAllocation("web", "http", 8000, allocated)

	p2 := NewPortAllocator()
	assert.NoError(t, p2.Replay(alloc))
}
