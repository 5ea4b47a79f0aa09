package tasks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := OpenCache(filepath.Join(dir, "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_CheckModified_NoPathsNeverModified(t *testing.T) {
	c := openTestCache(t)
	assert.False(t, c.CheckModified("t1", "echo hi", nil))
}

func TestCache_CheckModified_MissingCacheRowIsModified(t *testing.T) {
	c := openTestCache(t)
	dir := t.TempDir()
	f := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(f, []byte("v1"), 0o644))
	assert.True(t, c.CheckModified("t1", "echo hi", []string{f}))
}

func TestCache_RecordRunThenCheckModified_UnchangedContentSkips(t *testing.T) {
	c := openTestCache(t)
	dir := t.TempDir()
	f := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(f, []byte("v1"), 0o644))

	require.NoError(t, c.RecordRun("t1", "echo hi", []string{f}, []byte(`{"ok":true}`)))
	assert.False(t, c.CheckModified("t1", "echo hi", []string{f}))
}

func TestCache_ContentChangeInvalidatesCache(t *testing.T) {
	c := openTestCache(t)
	dir := t.TempDir()
	f := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(f, []byte("v1"), 0o644))
	require.NoError(t, c.RecordRun("t1", "echo hi", []string{f}, []byte(`{}`)))

	require.NoError(t, os.WriteFile(f, []byte("v2"), 0o644))
	assert.True(t, c.CheckModified("t1", "echo hi", []string{f}))
}

func TestCache_CommandChangeInvalidatesCache(t *testing.T) {
	c := openTestCache(t)
	dir := t.TempDir()
	f := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(f, []byte("v1"), 0o644))
	require.NoError(t, c.RecordRun("t1", "echo hi", []string{f}, []byte(`{}`)))

	assert.True(t, c.CheckModified("t1", "echo bye", []string{f}))
}

func TestCache_GetOutput_RoundTrip(t *testing.T) {
	c := openTestCache(t)
	_, ok := c.GetOutput("missing")
	assert.False(t, ok)

	require.NoError(t, c.RecordRun("t1", "echo hi", nil, []byte(`{"value":1}`)))
	output, ok := c.GetOutput("t1")
	require.True(t, ok)
	assert.JSONEq(t, `{"value":1}`, string(output))
}
