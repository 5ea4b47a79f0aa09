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

func TestCommandResolver_ParsesResolverOutput(t *testing.T) {
	scriptPath := filepath.Join(t.TempDir(), "resolver.sh")
	script := `#!/bin/sh
echo '{"resolved":"github:NixOS/nixpkgs/abc123","narHash":"sha256-deadbeef"}'
`
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))

	r := NewCommandResolver(scriptPath)
	entry, err := r.Resolve(context.Background(), "nixpkgs", config.Input{URL: "github:NixOS/nixpkgs"})
	require.NoError(t, err)
	assert.Equal(t, "github:NixOS/nixpkgs/abc123", entry.Resolved)
	assert.Equal(t, "sha256-deadbeef", entry.NarHash)
	assert.Equal(t, "github:NixOS/nixpkgs", entry.URL)
}

func TestCommandResolver_FailsOnNonZeroExit(t *testing.T) {
	scriptPath := filepath.Join(t.TempDir(), "resolver.sh")
	script := `#!/bin/sh
echo "boom" >&2
exit 1
`
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))

	r := NewCommandResolver(scriptPath)
	_, err := r.Resolve(context.Background(), "nixpkgs", config.Input{URL: "github:NixOS/nixpkgs"})
	assert.Error(t, err)
}
