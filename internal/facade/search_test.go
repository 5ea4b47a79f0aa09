package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_FindsMatchingOptionsAndPackages(t *testing.T) {
	d := newTestDriver(t, map[string]any{
		"optionsJSON": map[string]any{
			"services.postgres.enable": map[string]any{"type": "bool", "description": "Enable postgres"},
			"services.redis.enable":    map[string]any{"type": "bool", "description": "Enable redis"},
		},
		"search:postgres": map[string]any{
			"legacyPackages.x86_64-linux.postgresql": map[string]any{"version": "16.0", "description": "A relational database"},
		},
	})

	results, err := d.Search(context.Background(), "postgres")
	require.NoError(t, err)
	require.Len(t, results, 2)

	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "services.postgres.enable")
	assert.Contains(t, names, "pkgs.postgresql")
}

func TestPackageAttrSuffix_DropsFirstTwoSegments(t *testing.T) {
	assert.Equal(t, "postgresql", packageAttrSuffix("legacyPackages.x86_64-linux.postgresql"))
	assert.Equal(t, "a.b", packageAttrSuffix("a.b"))
}
