// Package lock keeps devenv.lock synchronised with the declared inputs
// (spec §3 "Lock record", §4.3 "Lock validation and update"). The lock
// format is a flat JSON object keyed by input name, matching the
// decision recorded in DESIGN.md's Open Question section: enough to
// derive a fingerprint and interoperate loosely with the original's
// lockfile shape, while staying idiomatic encoding/json.
package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/devenv-go/devenv/internal/config"
	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/logging"
)

const FileName = "devenv.lock"

// Entry is one locked input's resolved metadata.
type Entry struct {
	URL      string `json:"url"`
	Resolved string `json:"resolved"`
	NarHash  string `json:"narHash"`
}

// Lock is the full lock file contents.
type Lock struct {
	Inputs map[string]Entry `json:"inputs"`
}

func empty() *Lock {
	return &Lock{Inputs: map[string]Entry{}}
}

// Load reads the lock file at path. A missing file is not an error; it
// returns an empty lock, matching the config assembler's file_optional
// convention for manifests.
func Load(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty(), nil
		}
		return nil, direrr.Lock("failed to read lock file", err)
	}
	var l Lock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, direrr.Lock("failed to parse lock file", err)
	}
	if l.Inputs == nil {
		l.Inputs = map[string]Entry{}
	}
	return &l, nil
}

// Resolver fetches the pinned metadata for one input. It is the foreign
// collaborator this package consumes through a narrow interface, the
// same pattern the evaluator package uses for the expression evaluator
// itself (spec §1 Non-goals: we do not specify how inputs are resolved
// over the network, only the synchronisation contract around it).
type Resolver interface {
	Resolve(ctx context.Context, name string, input config.Input) (Entry, error)
}

// Stale reports whether lock needs updating for cfg: any input whose
// virtual entry differs from the stored one, or any stored entry with no
// corresponding input, counts as divergence (spec §4.3 "Compare").
func Stale(l *Lock, cfg *config.Config) bool {
	if len(l.Inputs) != len(cfg.Inputs) {
		return true
	}
	for name, input := range cfg.Inputs {
		entry, ok := l.Inputs[name]
		if !ok {
			return true
		}
		if entry.URL != input.URL {
			return true
		}
	}
	return false
}

// Update resolves metadata for either a single named input or every
// declared input, then atomically replaces the lock file (spec §4.3
// "Update"). Cyclic or unresolved `follows` relationships are fatal.
func Update(ctx context.Context, path string, cfg *config.Config, resolver Resolver, only string) (*Lock, error) {
	log := logging.Get(logging.CategoryLock)

	if err := checkFollows(cfg); err != nil {
		return nil, err
	}

	existing, err := Load(path)
	if err != nil {
		return nil, err
	}

	next := &Lock{Inputs: map[string]Entry{}}
	for name, entry := range existing.Inputs {
		next.Inputs[name] = entry
	}

	names := only
	targets := sortedInputNames(cfg)
	if names != "" {
		targets = []string{names}
		if _, ok := cfg.Inputs[names]; !ok {
			return nil, direrr.Lock("unknown input "+names, nil)
		}
	}

	for _, name := range targets {
		input := cfg.Inputs[name]
		log.Debug("resolving input %s", name)
		entry, err := resolver.Resolve(ctx, name, input)
		if err != nil {
			return nil, direrr.Lock("failed to resolve input "+name, err)
		}
		next.Inputs[name] = entry
	}

	if only == "" {
		for name := range next.Inputs {
			if _, ok := cfg.Inputs[name]; !ok {
				delete(next.Inputs, name)
			}
		}
	}

	if err := writeAtomic(path, next); err != nil {
		return nil, err
	}
	return next, nil
}

func sortedInputNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Inputs))
	for name := range cfg.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkFollows walks each input's follows chain, failing on a cycle or on
// a name that resolves to nothing.
func checkFollows(cfg *config.Config) error {
	for name, input := range cfg.Inputs {
		if input.Follows == "" {
			continue
		}
		visited := map[string]bool{name: true}
		cur := input.Follows
		for cur != "" {
			if visited[cur] {
				return direrr.Lock("cycle in follows chain starting at "+name, nil)
			}
			visited[cur] = true
			next, ok := cfg.Inputs[cur]
			if !ok {
				return direrr.Lock("unresolved follows target "+cur+" (from "+name+")", nil)
			}
			cur = next.Follows
		}
	}
	return nil
}

// writeAtomic serialises l and replaces path in a single rename, the same
// tmp-then-rename idiom the evaluator package uses for GC root symlinks.
func writeAtomic(path string, l *Lock) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return direrr.Lock("failed to marshal lock file", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return direrr.Lock("failed to create lock directory", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return direrr.Lock("failed to write lock file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return direrr.Lock("failed to replace lock file", err)
	}
	return nil
}
