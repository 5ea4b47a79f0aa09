package evaluator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServerScript is a minimal JSON-RPC peer: for every line read, it
// replies under the request's id with a fixed result per method — a fake
// store path for "build", a JSON output of "42" for "eval", and null for
// anything else. Good
// enough to exercise SubprocessEvaluator's framing without needing a
// real evaluator binary.
const echoServerScript = `#!/bin/sh
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  case "$line" in
    *'"method":"build"'*)
      echo "{\"id\":$id,\"result\":\"/nix/store/fake-path\"}"
      ;;
    *'"method":"eval"'*)
      echo "{\"id\":$id,\"result\":{\"JSONOutput\":\"42\",\"FileInputs\":null,\"EnvInputs\":null}}"
      ;;
    *)
      echo "{\"id\":$id,\"result\":null}"
      ;;
  esac
done
`

func newTestSubprocessEvaluator(t *testing.T) *SubprocessEvaluator {
	t.Helper()
	scriptPath := filepath.Join(t.TempDir(), "echo-server.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(echoServerScript), 0o755))

	e, err := NewSubprocessEvaluator("sh", scriptPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSubprocessEvaluator_ConfigureRoundTrips(t *testing.T) {
	e := newTestSubprocessEvaluator(t)
	err := e.Configure(context.Background(), Settings{ProjectRoot: "/tmp/proj"}, PrimopRegistry{})
	require.NoError(t, err)
}

func TestSubprocessEvaluator_EvalReturnsDecodedResult(t *testing.T) {
	e := newTestSubprocessEvaluator(t)
	out, err := e.Eval(context.Background(), "some.attr")
	require.NoError(t, err)
	assert.Equal(t, "42", out.JSONOutput)
}

func TestSubprocessEvaluator_BuildReturnsStorePath(t *testing.T) {
	e := newTestSubprocessEvaluator(t)
	path, err := e.Build(context.Background(), "pkgs.hello")
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/fake-path", path)
}

func TestSubprocessEvaluator_CloseDoesNotHang(t *testing.T) {
	e := newTestSubprocessEvaluator(t)
	assert.NoError(t, e.Close())
}
