package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/logging"
	"gopkg.in/yaml.v3"
)

const (
	ManifestName      = "devenv.yaml"
	LocalManifestName = "devenv.local.yaml"
)

// assembler carries the mutable state of one Load call.
type assembler struct {
	baseDir         string
	securityRoot    string
	gitRootDetected bool

	cfg *Config

	allowUnfreeSet bool
	allowBrokenSet bool
	impureSet      bool
	backendSet     bool
	profileSet     bool

	visited         map[string]struct{}
	filesConsulted  []string
	inputSourceDirs map[string]string
	importedDirs    []string
	importedDirSeen map[string]struct{}
	nonFileImports  []string
	nonFileSeen     map[string]struct{}
}

// Load implements the configuration assembler contract: given a base
// directory, produce the merged configuration and the ordered list of
// source files consulted (spec §4.1).
func Load(baseDir string) (*Config, []string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, nil, direrr.Config("failed to resolve base directory", err)
	}

	securityRoot, gitRootDetected := detectSecurityRoot(absBase)
	a := &assembler{
		baseDir:         absBase,
		securityRoot:    securityRoot,
		gitRootDetected: gitRootDetected,
		cfg:             newDefaultConfig(),
		visited:         map[string]struct{}{},
		inputSourceDirs: map[string]string{},
		importedDirSeen: map[string]struct{}{},
		nonFileSeen:     map[string]struct{}{},
	}
	a.cfg.GitRoot = a.securityRoot

	logging.Get(logging.CategoryConfig).Debug("assembling config base=%s root=%s", absBase, a.securityRoot)

	if err := a.loadFile(filepath.Join(absBase, ManifestName), absBase, 0, false); err != nil {
		return nil, nil, err
	}
	if err := a.loadFile(filepath.Join(absBase, LocalManifestName), absBase, 0, false); err != nil {
		return nil, nil, err
	}

	a.rewriteInputURLs()
	a.cfg.Imports = a.reconstructImports()

	return a.cfg, a.filesConsulted, nil
}

// detectSecurityRoot shells out to `git rev-parse --show-toplevel`; absent
// a git repository it falls back to the base directory itself. The second
// return value reports whether a git root was actually found, so callers
// can distinguish that fallback from a genuine repository root (repo-
// anchored "/" imports require the latter).
func detectSecurityRoot(baseDir string) (string, bool) {
	cmd := exec.Command("git", "-C", baseDir, "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return baseDir, false
	}
	root := strings.TrimSpace(string(out))
	if root == "" {
		return baseDir, false
	}
	return root, true
}

// canonicalize resolves symlinks when the path exists; for not-yet-existing
// paths (common for imports under construction) it falls back to lexical
// cleaning so security-root validation still applies.
func canonicalize(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return filepath.Clean(path)
}

func (a *assembler) validateWithinRoot(path string) error {
	canon := canonicalize(path)
	root := canonicalize(a.securityRoot)
	rel, err := filepath.Rel(root, canon)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return direrr.WithSuggestion(direrr.KindConfig,
			fmt.Sprintf("import %q escapes security root %q", path, a.securityRoot),
			ErrImportEscape, "move the imported file inside the project root")
	}
	return nil
}

// loadFile loads one manifest file, merges it, and recurses depth-first
// into its own imports. isImport distinguishes a file reached via the
// imports list (tracked for reconstruction) from the base/local manifest.
func (a *assembler) loadFile(path string, declaringDir string, depth int, isImport bool) error {
	if depth > MaxImportDepth {
		return direrr.New(direrr.KindConfig, ErrMaxImportDepth.Error())
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ManifestName)
	}

	if err := a.validateWithinRoot(path); err != nil {
		return err
	}

	canon := canonicalize(path)
	if _, seen := a.visited[canon]; seen {
		return nil // cycle, suppressed silently
	}
	a.visited[canon] = struct{}{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // file_optional
		}
		return direrr.Config(fmt.Sprintf("failed to read %s", path), err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return direrr.Config(fmt.Sprintf("failed to parse %s", path), err)
	}

	fileDir := filepath.Dir(path)
	if err := a.mergeInto(raw, fileDir); err != nil {
		return err
	}

	a.filesConsulted = append(a.filesConsulted, canon)
	if isImport {
		a.recordImportedDir(fileDir)
	}

	for _, imp := range raw.Imports {
		if err := a.followImport(imp, fileDir, depth); err != nil {
			return err
		}
	}
	return nil
}

func (a *assembler) followImport(imp string, declaringDir string, depth int) error {
	switch {
	case strings.HasPrefix(imp, "/"):
		if !a.gitRootDetected {
			return direrr.Config(fmt.Sprintf("import %q is repository-anchored but no git root was detected", imp), nil)
		}
		target := filepath.Join(a.securityRoot, strings.TrimPrefix(imp, "/"))
		return a.loadFile(target, declaringDir, depth+1, true)
	case strings.HasPrefix(imp, "./") || strings.HasPrefix(imp, "../"):
		target := filepath.Join(declaringDir, imp)
		return a.loadFile(target, declaringDir, depth+1, true)
	default:
		// opaque reference: preserved verbatim, no descent
		if _, seen := a.nonFileSeen[imp]; !seen {
			a.nonFileSeen[imp] = struct{}{}
			a.nonFileImports = append(a.nonFileImports, imp)
		}
		return nil
	}
}

func (a *assembler) recordImportedDir(dir string) {
	rel, err := filepath.Rel(a.baseDir, dir)
	if err != nil {
		rel = dir
	}
	norm := "./" + filepath.ToSlash(rel)
	if rel == "." {
		return // the base directory itself is never listed as an import
	}
	if _, seen := a.importedDirSeen[norm]; !seen {
		a.importedDirSeen[norm] = struct{}{}
		a.importedDirs = append(a.importedDirs, norm)
	}
}

func (a *assembler) reconstructImports() []string {
	out := make([]string, 0, len(a.importedDirs)+len(a.nonFileImports))
	out = append(out, a.importedDirs...)
	out = append(out, a.nonFileImports...)
	return out
}

// mergeInto applies one loaded file's contents on top of the accumulated
// config. Scalars use replace-on-first-definition; lists append; maps
// merge key-wise, first definition of a key wins.
func (a *assembler) mergeInto(raw rawConfig, fileDir string) error {
	for name, input := range raw.Inputs {
		if err := input.Validate(); err != nil {
			return direrr.Config(fmt.Sprintf("input %q invalid", name), err)
		}
		if _, exists := a.cfg.Inputs[name]; exists {
			continue
		}
		if a.cfg.Inputs == nil {
			a.cfg.Inputs = map[string]Input{}
		}
		a.cfg.Inputs[name] = input
		a.inputSourceDirs[name] = fileDir
	}

	if raw.AllowUnfree != nil && !a.allowUnfreeSet {
		a.cfg.AllowUnfree = *raw.AllowUnfree
		a.allowUnfreeSet = true
	}
	if raw.AllowBroken != nil && !a.allowBrokenSet {
		a.cfg.AllowBroken = *raw.AllowBroken
		a.allowBrokenSet = true
	}
	if raw.Impure != nil && !a.impureSet {
		a.cfg.Impure = *raw.Impure
		a.impureSet = true
	}
	if raw.Backend != "" && !a.backendSet {
		a.cfg.Backend = raw.Backend
		a.backendSet = true
	}
	if raw.Profile != "" && !a.profileSet {
		a.cfg.Profile = raw.Profile
		a.profileSet = true
	}
	if raw.Nixpkgs != nil {
		a.mergeNixpkgs(raw.Nixpkgs)
	}
	if raw.Clean != nil && a.cfg.Clean == nil {
		a.cfg.Clean = raw.Clean
	}
	if raw.Secretspec != nil && a.cfg.Secretspec == nil {
		a.cfg.Secretspec = raw.Secretspec
	}
	for k, v := range raw.Extra {
		if _, exists := a.cfg.Extra[k]; !exists {
			a.cfg.Extra[k] = v
		}
	}
	return nil
}

func (a *assembler) mergeNixpkgs(n *Nixpkgs) {
	if a.cfg.Nixpkgs == nil {
		a.cfg.Nixpkgs = &Nixpkgs{PerPlatform: map[string]PkgsCfg{}}
	}
	if a.cfg.Nixpkgs.PerPlatform == nil {
		a.cfg.Nixpkgs.PerPlatform = map[string]PkgsCfg{}
	}
	// base config: combined across files via merge, so a boolean set true by
	// any file stays true and list fields accumulate in load order.
	a.cfg.Nixpkgs.Config = a.cfg.Nixpkgs.Config.merge(n.Config)
	for system, cfg := range n.PerPlatform {
		if _, exists := a.cfg.Nixpkgs.PerPlatform[system]; !exists {
			a.cfg.Nixpkgs.PerPlatform[system] = cfg
		}
	}
}

// rewriteInputURLs normalises path:, ./ and ../ input URLs relative to the
// base directory, using the directory of the file that declared each
// input. Paths that would normalise to outside the base directory keep
// their canonical absolute form instead (spec §4.1, scenario S2).
func (a *assembler) rewriteInputURLs() {
	for name, input := range a.cfg.Inputs {
		rewritten, ok := a.rewriteURL(input.URL, a.inputSourceDirs[name])
		if ok {
			input.URL = rewritten
			a.cfg.Inputs[name] = input
		}
	}
}

func (a *assembler) rewriteURL(url string, sourceDir string) (string, bool) {
	if sourceDir == "" {
		sourceDir = a.baseDir
	}

	var prefix, pathPart string
	switch {
	case strings.HasPrefix(url, "path:"):
		prefix, pathPart = "path:", strings.TrimPrefix(url, "path:")
	case strings.HasPrefix(url, "./") || strings.HasPrefix(url, "../"):
		prefix, pathPart = "", url
	default:
		return "", false
	}

	var abs string
	if filepath.IsAbs(pathPart) {
		abs = filepath.Clean(pathPart)
	} else {
		abs = filepath.Clean(filepath.Join(sourceDir, pathPart))
	}

	rel, err := filepath.Rel(a.baseDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		// Escapes the base directory: keep the absolute, canonical form.
		return prefix + filepath.ToSlash(abs), true
	}
	return prefix + filepath.ToSlash(rel), true
}
