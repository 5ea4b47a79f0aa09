// Package config implements the configuration assembler: merging a base
// manifest with imported manifests under strict security, cycle, and
// precedence rules (spec §3, §4.1).
package config

// Input is a single flake-style input declaration.
type Input struct {
	URL      string           `yaml:"url,omitempty"`
	Flake    *bool            `yaml:"flake,omitempty"`
	Follows  string           `yaml:"follows,omitempty"`
	Inputs   map[string]Input `yaml:"inputs,omitempty"`
	Overlays []string         `yaml:"overlays,omitempty"`
}

// IsFlake reports the effective flake setting, defaulting to true.
func (i Input) IsFlake() bool {
	if i.Flake == nil {
		return true
	}
	return *i.Flake
}

// Validate enforces mutual exclusion of URL and Follows.
func (i Input) Validate() error {
	if i.URL != "" && i.Follows != "" {
		return ErrInputMutualExclusion
	}
	return nil
}

// PkgsCfg is the nixpkgs configuration shared between the base and
// per-platform overrides.
type PkgsCfg struct {
	AllowUnfree                bool     `yaml:"allow_unfree,omitempty"`
	AllowBroken                bool     `yaml:"allow_broken,omitempty"`
	CudaSupport                bool     `yaml:"cuda_support,omitempty"`
	CudaCapabilities           []string `yaml:"cuda_capabilities,omitempty"`
	PermittedInsecurePackages  []string `yaml:"permitted_insecure_packages,omitempty"`
	PermittedUnfreePackages    []string `yaml:"permitted_unfree_packages,omitempty"`
}

// merge combines override into base: a boolean true in either stays true
// (a false in override never clears base), and non-empty override lists
// are appended after base's entries.
func (base PkgsCfg) merge(override PkgsCfg) PkgsCfg {
	out := base
	if override.AllowUnfree {
		out.AllowUnfree = true
	}
	if override.AllowBroken {
		out.AllowBroken = true
	}
	if override.CudaSupport {
		out.CudaSupport = true
	}
	if len(override.CudaCapabilities) > 0 {
		out.CudaCapabilities = append(append([]string{}, base.CudaCapabilities...), override.CudaCapabilities...)
	}
	if len(override.PermittedInsecurePackages) > 0 {
		out.PermittedInsecurePackages = append(append([]string{}, base.PermittedInsecurePackages...), override.PermittedInsecurePackages...)
	}
	if len(override.PermittedUnfreePackages) > 0 {
		out.PermittedUnfreePackages = append(append([]string{}, base.PermittedUnfreePackages...), override.PermittedUnfreePackages...)
	}
	return out
}

// Nixpkgs holds the base pkgs config plus per-system overrides.
type Nixpkgs struct {
	Config      PkgsCfg            `yaml:"config_,omitempty"`
	PerPlatform map[string]PkgsCfg `yaml:"per_platform,omitempty"`
}

// ResolvedFor returns the effective PkgsCfg for a system, applying the
// per-platform override (if any) on top of the base config.
func (n *Nixpkgs) ResolvedFor(system string) PkgsCfg {
	if n == nil {
		return PkgsCfg{}
	}
	if override, ok := n.PerPlatform[system]; ok {
		return n.Config.merge(override)
	}
	return n.Config
}

// Clean controls which environment variables survive into the shell.
type Clean struct {
	Enabled bool     `yaml:"enabled,omitempty"`
	Keep    []string `yaml:"keep,omitempty"`
}

// Backend selects the expression-evaluator backend.
type Backend string

const (
	BackendNix  Backend = "nix"
	BackendSnix Backend = "snix"
)

// Secretspec configures the optional secret-resolution integration.
type Secretspec struct {
	Enable   bool   `yaml:"enable,omitempty"`
	Profile  string `yaml:"profile,omitempty"`
	Provider string `yaml:"provider,omitempty"`
}

// Config is the fully merged configuration tree (spec §3). Unknown
// top-level keys are preserved in Extra so round-tripping through imports
// that reference opaque fields does not silently drop data.
type Config struct {
	Inputs       map[string]Input `yaml:"inputs,omitempty"`
	Imports      []string         `yaml:"imports,omitempty"`
	AllowUnfree  bool             `yaml:"allow_unfree,omitempty"`
	AllowBroken  bool             `yaml:"allow_broken,omitempty"`
	Impure       bool             `yaml:"impure,omitempty"`
	Nixpkgs      *Nixpkgs         `yaml:"nixpkgs,omitempty"`
	Clean        *Clean           `yaml:"clean,omitempty"`
	Backend      Backend          `yaml:"backend,omitempty"`
	Secretspec   *Secretspec      `yaml:"secretspec,omitempty"`
	Profile      string           `yaml:"profile,omitempty"`

	Extra map[string]any `yaml:",inline"`

	// Transient, not serialised.
	GitRoot  string   `yaml:"-"`
	Profiles []string `yaml:"-"`
}

// rawConfig mirrors Config field-for-field but without the transient
// fields, used so yaml.v3's inline map does not try to round-trip them.
// Boolean fields are pointers so the assembler can distinguish "absent"
// from "explicitly false" when applying first-definition-wins precedence.
type rawConfig struct {
	Inputs      map[string]Input `yaml:"inputs,omitempty"`
	Imports     []string         `yaml:"imports,omitempty"`
	AllowUnfree *bool            `yaml:"allow_unfree,omitempty"`
	AllowBroken *bool            `yaml:"allow_broken,omitempty"`
	Impure      *bool            `yaml:"impure,omitempty"`
	Nixpkgs     *Nixpkgs         `yaml:"nixpkgs,omitempty"`
	Clean       *Clean           `yaml:"clean,omitempty"`
	Backend     Backend          `yaml:"backend,omitempty"`
	Secretspec  *Secretspec      `yaml:"secretspec,omitempty"`
	Profile     string           `yaml:"profile,omitempty"`
	Extra       map[string]any   `yaml:",inline"`
}

func newDefaultConfig() *Config {
	return &Config{
		Backend: BackendNix,
		Extra:   map[string]any{},
	}
}
