package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// S1 — merged config with relative input.
func TestLoad_RelativeInputMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "devenv.yaml"), "inputs:\n  a:\n    url: \"path:.\"\nimports:\n  - ./sub\n")
	writeFile(t, filepath.Join(dir, "sub", "devenv.yaml"), "inputs:\n  b:\n    url: \"path:.\"\n")

	cfg, files, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "path:.", cfg.Inputs["a"].URL)
	assert.Equal(t, "path:sub", cfg.Inputs["b"].URL)
	assert.Equal(t, []string{"./sub"}, cfg.Imports)
	assert.Len(t, files, 2)
}

// S2 — absolute-outside-base input preserved.
func TestLoad_AbsoluteOutsideBasePreserved(t *testing.T) {
	root := t.TempDir()
	proj := filepath.Join(root, "proj")
	external := filepath.Join(root, "external")
	require.NoError(t, os.MkdirAll(external, 0755))
	writeFile(t, filepath.Join(proj, "devenv.yaml"), "inputs:\n  x:\n    url: \"path:"+external+"\"\n")

	cfg, _, err := Load(proj)
	require.NoError(t, err)
	url := cfg.Inputs["x"].URL
	assert.Contains(t, url, "path:/")
	assert.NotContains(t, url, "..")
}

func TestLoad_MissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	cfg, files, err := Load(dir)
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Empty(t, files)
}

func TestLoad_CycleSuppressed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "devenv.yaml"), "imports:\n  - ./a\n")
	writeFile(t, filepath.Join(dir, "a", "devenv.yaml"), "imports:\n  - ../devenv.yaml\n")

	_, files, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestLoad_ImportEscapeFails(t *testing.T) {
	root := t.TempDir()
	proj := filepath.Join(root, "proj")
	writeFile(t, filepath.Join(proj, "devenv.yaml"), "imports:\n  - ../../../../etc/sneaky\n")
	writeFile(t, filepath.Join(root, "etc", "sneaky"), "allow_unfree: true\n")

	_, _, err := Load(proj)
	assert.Error(t, err)
}

// No git root detected (a bare temp dir): a repository-anchored "/" import
// must fail rather than silently resolve against the base directory.
func TestLoad_AbsoluteImportFailsWithoutGitRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "devenv.yaml"), "imports:\n  - /shared/devenv.yaml\n")
	writeFile(t, filepath.Join(dir, "shared", "devenv.yaml"), "allow_unfree: true\n")

	_, _, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_LocalOverrideMergedLast(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "devenv.yaml"), "profile: base\n")
	writeFile(t, filepath.Join(dir, "devenv.local.yaml"), "allow_unfree: true\n")

	cfg, _, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "base", cfg.Profile)
	assert.True(t, cfg.AllowUnfree)
}

func TestInput_MutualExclusionInvalid(t *testing.T) {
	i := Input{URL: "path:.", Follows: "nixpkgs"}
	assert.Error(t, i.Validate())
}

// Deep-equality over the merged Input tree (nested Inputs, pointer
// Flake field) is easier to get right with cmp.Diff than a field-by-
// field assert.Equal chain.
func TestLoad_NestedInputTreeMergesExactly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "devenv.yaml"), `inputs:
  nixpkgs:
    url: "github:NixOS/nixpkgs"
    overlays:
      - "./overlay.nix"
    inputs:
      flake-utils:
        url: "github:numtide/flake-utils"
        follows: ""
`)

	cfg, _, err := Load(dir)
	require.NoError(t, err)

	want := map[string]Input{
		"nixpkgs": {
			URL:      "github:NixOS/nixpkgs",
			Overlays: []string{"./overlay.nix"},
			Inputs: map[string]Input{
				"flake-utils": {URL: "github:numtide/flake-utils"},
			},
		},
	}
	if diff := cmp.Diff(want, cfg.Inputs); diff != "" {
		t.Fatalf("merged input tree mismatch (-want +got):\n%s", diff)
	}
}

func TestNixpkgs_PerPlatformOverridesBase(t *testing.T) {
	n := &Nixpkgs{
		Config:      PkgsCfg{AllowUnfree: false},
		PerPlatform: map[string]PkgsCfg{"x86_64-linux": {AllowUnfree: true}},
	}
	resolved := n.ResolvedFor("x86_64-linux")
	assert.True(t, resolved.AllowUnfree)

	resolvedOther := n.ResolvedFor("aarch64-darwin")
	assert.False(t, resolvedOther.AllowUnfree)
}
