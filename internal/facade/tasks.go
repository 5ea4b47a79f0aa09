package facade

import (
	"context"
	"encoding/json"
	"os"

	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/tasks"
)

// loadTaskConfigs reads the task declarations out of the config's Extra
// side channel, since Config has no typed Tasks field (only unknown
// top-level keys are preserved there). Mirrors the original's
// load_tasks, which builds a dedicated attribute and parses its JSON
// rather than walking the typed config tree directly.
func (d *Driver) loadTaskConfigs() ([]tasks.TaskConfig, error) {
	raw, ok := d.cfg.Extra["tasks"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, direrr.Config("failed to re-marshal task declarations", err)
	}
	var configs []tasks.TaskConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, direrr.Config("failed to parse task declarations", err)
	}
	return configs, nil
}

// TasksRun resolves roots against the declared task graph and runs the
// selected closure under mode, sharing one content-hash cache across
// invocations (spec §4.6, §6 "devenv tasks run").
func (d *Driver) TasksRun(ctx context.Context, roots []string, mode tasks.RunMode) (map[string]*tasks.Result, error) {
	if err := d.Assemble(ctx); err != nil {
		return nil, err
	}
	configs, err := d.loadTaskConfigs()
	if err != nil {
		return nil, err
	}
	graph, err := tasks.BuildGraph(configs)
	if err != nil {
		return nil, err
	}
	resolvedRoots, err := graph.ResolveRoots(roots)
	if err != nil {
		return nil, err
	}
	order, err := graph.Schedule(resolvedRoots, mode)
	if err != nil {
		return nil, err
	}

	external, err := d.externalProviders(ctx)
	if err != nil {
		return nil, err
	}

	engine := tasks.NewEngine(graph, d.taskCache, tasks.NewLocalProvider(), external, d.bus)
	return engine.Run(ctx, order)
}

// externalProviders spawns one ExternalProvider per executable declared
// under the config's "task_providers" side channel, each registered
// under an "<executable>:" prefix (spec §4.6 "Provider abstraction":
// "External providers are spawned eagerly; their listed tasks are
// registered under an <executable>:<task> prefix"). No manifest field
// for this exists yet in Config's typed surface, so it is read from
// Extra the same way task and process declarations are.
func (d *Driver) externalProviders(ctx context.Context) (map[string]tasks.Provider, error) {
	raw, ok := d.cfg.Extra["task_providers"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	providers := map[string]tasks.Provider{}
	for _, item := range list {
		executable, ok := item.(string)
		if !ok || executable == "" {
			continue
		}
		p, err := tasks.NewExternalProvider(ctx, executable)
		if err != nil {
			return nil, direrr.Task("failed to start external task provider "+executable, err)
		}
		providers[executable+":"] = p
		d.rememberCapabilities(executable, p)
	}
	if len(providers) == 0 {
		return nil, nil
	}
	return providers, nil
}

// rememberCapabilities queries an external provider for the task names it
// serves and persists them in the capability cache, skipping the query
// when a cache entry for the executable's current mtime already exists.
// Best-effort: a capability-cache miss never fails task execution, since
// the engine's prefix dispatch does not depend on the cached names.
func (d *Driver) rememberCapabilities(executable string, p *tasks.ExternalProvider) {
	info, err := os.Stat(executable)
	if err != nil {
		return
	}
	modTime := info.ModTime().UnixNano()
	if _, ok := d.capabilityCache.Get(executable, modTime); ok {
		return
	}
	names, err := p.Capabilities()
	if err != nil {
		return
	}
	_ = d.capabilityCache.Put(executable, modTime, names)
}

// externalTaskNames returns the cached capability lists of every
// configured external task provider, keyed by executable.
func (d *Driver) externalTaskNames() map[string][]string {
	raw, ok := d.cfg.Extra["task_providers"]
	if !ok || raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := map[string][]string{}
	for _, item := range list {
		executable, ok := item.(string)
		if !ok || executable == "" {
			continue
		}
		info, err := os.Stat(executable)
		if err != nil {
			continue
		}
		if names, ok := d.capabilityCache.Get(executable, info.ModTime().UnixNano()); ok {
			out[executable] = names
		}
	}
	return out
}

// TasksList reports every declared task without running any of them
// (spec §6 "devenv tasks list"), including tasks advertised by external
// providers whose capabilities are already cached.
func (d *Driver) TasksList(ctx context.Context) ([]tasks.TaskConfig, error) {
	if err := d.Assemble(ctx); err != nil {
		return nil, err
	}
	configs, err := d.loadTaskConfigs()
	if err != nil {
		return nil, err
	}
	for executable, names := range d.externalTaskNames() {
		for _, name := range names {
			configs = append(configs, tasks.TaskConfig{Name: executable + ":" + name})
		}
	}
	return configs, nil
}

// HasProcesses reports whether the assembled config declares any process:
// true only when the manifest's untyped `processes` entry is a non-empty
// list. Nothing is evaluated; an entry of any other shape counts as no
// processes.
func (d *Driver) HasProcesses() bool {
	raw, ok := d.cfg.Extra["processes"]
	if !ok || raw == nil {
		return false
	}
	list, ok := raw.([]any)
	return ok && len(list) > 0
}
