package facade

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeContainerName_StripsSeparators(t *testing.T) {
	assert.Equal(t, "a-b-c", sanitizeContainerName("a/b.c"))
}

func TestContainerBuild_AnchorsDerivationGCRoot(t *testing.T) {
	d := newTestDriver(t, map[string]any{
		"devenv.config.containers.web.derivation": "/nix/store/fake",
	})
	_, err := d.ContainerBuild(context.Background(), "web")
	require.NoError(t, err)

	gcRoot := filepath.Join(d.paths.StateDir, "gc", "container-web-derivation")
	info, err := os.Lstat(gcRoot)
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0)
}

func TestContainerCopy_FailsWhenCopyScriptIsNotExecutable(t *testing.T) {
	d := newTestDriver(t, map[string]any{
		"devenv.config.containers.web.derivation": "/nix/store/fake",
		"devenv.config.containers.web.copyScript": "/nix/store/fake",
	})
	err := d.ContainerCopy(context.Background(), "web", nil, "")
	assert.Error(t, err)
}

func TestCleanupStaleSymlinks_RemovesDanglingLinks(t *testing.T) {
	root := t.TempDir()
	dangling := filepath.Join(root, "dangling")
	require.NoError(t, os.Symlink(filepath.Join(root, "does-not-exist"), dangling))

	live := filepath.Join(root, "live")
	target := filepath.Join(root, "target")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	require.NoError(t, os.Symlink(target, live))

	kept, err := cleanupStaleSymlinks(root)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	_, err = os.Lstat(dangling)
	assert.True(t, os.IsNotExist(err))
}
