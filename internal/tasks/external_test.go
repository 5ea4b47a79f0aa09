package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProviderScript answers list_tasks with a fixed task list and every
// other method, run_task included, with the fixed result {"ok":true}.
const fakeProviderScript = `#!/bin/sh
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  case "$line" in
    *'"method":"list_tasks"'*)
      echo "{\"id\":$id,\"result\":[\"build\",\"deploy\"]}"
      ;;
    *)
      echo "{\"id\":$id,\"result\":{\"ok\":true}}"
      ;;
  esac
done
`

func TestExternalProvider_CapabilitiesReturnsAdvertisedTasks(t *testing.T) {
	scriptPath := filepath.Join(t.TempDir(), "fake-provider.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(fakeProviderScript), 0o755))

	p, err := NewExternalProvider(context.Background(), scriptPath)
	require.NoError(t, err)
	defer p.Close()

	names, err := p.Capabilities()
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "deploy"}, names)
}
