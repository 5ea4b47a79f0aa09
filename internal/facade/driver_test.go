package facade

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devenv-go/devenv/internal/config"
	"github.com/devenv-go/devenv/internal/evaluator"
	"github.com/devenv-go/devenv/internal/lock"
)

type fakeLockResolver struct{ calls int }

func (f *fakeLockResolver) Resolve(ctx context.Context, name string, input config.Input) (lock.Entry, error) {
	f.calls++
	return lock.Entry{URL: input.URL, Resolved: "resolved:" + name, NarHash: "sha256-" + name}, nil
}

func newTestDriver(t *testing.T, attrs map[string]any) *Driver {
	t.Helper()
	dir := t.TempDir()
	d, err := New(Options{
		BaseDir:      dir,
		Evaluator:    evaluator.NewFakeEvaluator(attrs),
		LockResolver: &fakeLockResolver{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestNew_RequiresBaseDirAndEvaluator(t *testing.T) {
	_, err := New(Options{Evaluator: evaluator.NewFakeEvaluator(nil)})
	assert.Error(t, err)

	_, err = New(Options{BaseDir: t.TempDir()})
	assert.Error(t, err)
}

func TestAssemble_IsIdempotent(t *testing.T) {
	d := newTestDriver(t, nil)
	ctx := context.Background()

	require.NoError(t, d.Assemble(ctx))
	first := d.Config()
	require.NoError(t, d.Assemble(ctx))
	assert.Same(t, first, d.Config())
}

func TestAssemble_WritesLockFileWhenStale(t *testing.T) {
	d := newTestDriver(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(d.paths.BaseDir, "devenv.yaml"), []byte(
		"inputs:\n  nixpkgs:\n    url: github:NixOS/nixpkgs\n"), 0o644))

	require.NoError(t, d.Assemble(context.Background()))

	l, err := lock.Load(d.paths.LockFile)
	require.NoError(t, err)
	assert.Equal(t, "resolved:nixpkgs", l.Inputs["nixpkgs"].Resolved)
}

func TestEval_ReturnsAttributeValues(t *testing.T) {
	d := newTestDriver(t, map[string]any{"greeting": "hello"})
	out, err := d.Eval(context.Background(), []string{"greeting"})
	require.NoError(t, err)
	assert.Equal(t, `"hello"`, out["greeting"])
}

func TestBuild_AnchorsGCRootForEachAttribute(t *testing.T) {
	d := newTestDriver(t, map[string]any{"pkgs.hello": "hello-1.0"})
	gcRoot := filepath.Join(t.TempDir(), "build-root")

	paths, err := d.Build(context.Background(), []string{"pkgs.hello"}, gcRoot)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	info, err := os.Lstat(gcRoot)
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0)
}

func TestInfo_ReturnsEvaluatorMetadata(t *testing.T) {
	d := newTestDriver(t, map[string]any{"info": "devenv 1.0"})
	out, err := d.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"devenv 1.0"`, out)
}

func TestRepl_ReturnsUnsupportedError(t *testing.T) {
	d := newTestDriver(t, nil)
	assert.Error(t, d.Repl(context.Background()))
}

func TestUpdate_RequiresLockResolver(t *testing.T) {
	dir := t.TempDir()
	d, err := New(Options{BaseDir: dir, Evaluator: evaluator.NewFakeEvaluator(nil)})
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Update(context.Background(), "")
	assert.Error(t, err)
}

func shellAttrs() map[string]any {
	return map[string]any{
		"bash": "/nix/store/fake-bash/bin/bash",
		"shell": map[string]any{
			"variables": map[string]any{
				"GREETING": map[string]any{"type": "exported", "value": "hi"},
			},
			"bashFunctions": map[string]any{},
		},
	}
}

func TestShell_CleanEnvKeepsOnlyListedVars(t *testing.T) {
	t.Setenv("DEVENV_GO_TEST_KEEP", "kept")
	t.Setenv("DEVENV_GO_TEST_DROP", "dropped")

	dir := t.TempDir()
	d, err := New(Options{
		BaseDir:      dir,
		Evaluator:    evaluator.NewFakeEvaluator(shellAttrs()),
		LockResolver: &fakeLockResolver{},
		CleanEnv:     true,
		CleanKeep:    []string{"DEVENV_GO_TEST_KEEP"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	cmd, err := d.Shell(context.Background())
	require.NoError(t, err)

	assert.Contains(t, cmd.Env, "DEVENV_GO_TEST_KEEP=kept")
	assert.NotContains(t, cmd.Env, "DEVENV_GO_TEST_DROP=dropped")

	var sawShell, sawCmdline bool
	for _, kv := range cmd.Env {
		if strings.HasPrefix(kv, "SHELL=") {
			sawShell = true
		}
		if strings.HasPrefix(kv, "DEVENV_CMDLINE=") {
			sawCmdline = true
		}
	}
	assert.True(t, sawShell)
	assert.True(t, sawCmdline)
}

func TestGC_DeletesSymlinkTargetsAndReportsFreedBytes(t *testing.T) {
	d := newTestDriver(t, nil)
	require.NoError(t, d.Assemble(context.Background()))

	target := filepath.Join(t.TempDir(), "store-path")
	require.NoError(t, os.WriteFile(target, []byte("0123456789"), 0o644))
	require.NoError(t, os.MkdirAll(d.paths.HomeGCDir, 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(d.paths.HomeGCDir, "root-1")))

	count, freed, err := d.GC(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(10), freed)
}
