package tasks

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityCache_RoundTripsAndInvalidatesOnModTimeChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capabilities.db")
	c, err := OpenCapabilityCache(path)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get("devenv-tsp-example", 100)
	assert.False(t, ok)

	require.NoError(t, c.Put("devenv-tsp-example", 100, []string{"build", "deploy"}))
	names, ok := c.Get("devenv-tsp-example", 100)
	require.True(t, ok)
	assert.Equal(t, []string{"build", "deploy"}, names)

	_, ok = c.Get("devenv-tsp-example", 200)
	assert.False(t, ok)
}
