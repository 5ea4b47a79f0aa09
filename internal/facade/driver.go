// Package facade implements the driver type (spec §2): assembles
// configuration once, holds handles to every subsystem, and exposes the
// small set of high-level operations the CLI (cmd/devenv) calls
// (shell, build, eval, update, gc, info, search, tasks_run, tasks_list,
// processes_up, processes_down, test, container_build/copy/run, repl,
// init). Grounded on cmd/nerd/main.go's top-level wiring style and
// original_source/devenv/src/devenv.rs's operation list.
package facade

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/devenv-go/devenv/internal/activity"
	"github.com/devenv-go/devenv/internal/config"
	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/evalcache"
	"github.com/devenv-go/devenv/internal/evaluator"
	"github.com/devenv-go/devenv/internal/lock"
	"github.com/devenv-go/devenv/internal/logging"
	"github.com/devenv-go/devenv/internal/process"
	"github.com/devenv-go/devenv/internal/push"
	"github.com/devenv-go/devenv/internal/tasks"
)

// Options configures one Driver for its entire lifetime.
type Options struct {
	BaseDir      string
	DebugMode    bool
	Verbose      bool
	Evaluator    evaluator.Evaluator // required; the foreign evaluator handle
	LockResolver lock.Resolver       // required for Update; may be nil for read-only operations
	PushDaemon   []string            // argv to spawn the push daemon; nil disables push
	CleanEnv     bool
	CleanKeep    []string
}

// Driver is the facade type: one per invocation of the CLI, assembled
// exactly once (spec §2 "Facade").
type Driver struct {
	opts  Options
	paths Paths

	bus     *activity.Bus
	console *zap.Logger

	mu          sync.Mutex
	assembled   bool
	cfg         *config.Config
	filesUsed   []string
	canonicalArgs string

	cache   *evalcache.Store
	handle  *evaluator.Handle
	orch    *evaluator.Orchestrator

	lockResolver lock.Resolver
	pushClient   *push.Client

	processMgr *process.Manager

	taskCache         *tasks.Cache
	capabilityCache   *tasks.CapabilityCache
}

// New constructs a Driver and opens the durable stores (eval cache, task
// cache) but does not yet assemble the configuration; call Assemble (or
// let any operation call it implicitly) before driving it.
func New(opts Options) (*Driver, error) {
	if opts.BaseDir == "" {
		return nil, direrr.Config("base directory required", nil)
	}
	if opts.Evaluator == nil {
		return nil, direrr.Config("evaluator required", nil)
	}

	paths := NewPaths(opts.BaseDir)
	if err := paths.EnsureStateDir(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(paths.StateDir, opts.DebugMode); err != nil {
		return nil, direrr.Config("failed to initialize logging", err)
	}

	bus := activity.New()
	cache, err := evalcache.Open(paths.EvalCacheDB)
	if err != nil {
		return nil, err
	}
	taskCache, err := tasks.OpenCache(paths.TaskCacheDB)
	if err != nil {
		cache.Close()
		return nil, err
	}
	capabilityCache, err := tasks.OpenCapabilityCache(paths.CapabilityCacheDB)
	if err != nil {
		taskCache.Close()
		cache.Close()
		return nil, err
	}

	handle := evaluator.NewHandle(opts.Evaluator)
	orch := evaluator.NewOrchestrator(handle, cache, bus)

	d := &Driver{
		opts:         opts,
		paths:        paths,
		bus:          bus,
		console:      logging.NewConsole(opts.Verbose),
		cache:        cache,
		handle:       handle,
		orch:         orch,
		lockResolver: opts.LockResolver,
		processMgr:   process.NewManager(paths.StateDir, bus),
		taskCache:    taskCache,
		capabilityCache: capabilityCache,
	}
	if len(opts.PushDaemon) > 0 {
		d.pushClient = push.NewClient(pushSocketPath(paths.StateDir), opts.PushDaemon, bus)
	}
	return d, nil
}

func pushSocketPath(stateDir string) string {
	return stateDir + "/push.sock"
}

func (d *Driver) Paths() Paths           { return d.paths }
func (d *Driver) Bus() *activity.Bus     { return d.bus }
func (d *Driver) Console() *zap.Logger   { return d.console }
func (d *Driver) Processes() *process.Manager { return d.processMgr }

// Close releases every durable resource the driver opened.
func (d *Driver) Close() error {
	if d.pushClient != nil {
		_ = d.pushClient.Shutdown(context.Background())
	}
	_ = d.capabilityCache.Close()
	_ = d.taskCache.Close()
	_ = d.cache.Close()
	_ = d.console.Sync()
	logging.Close()
	return nil
}

// Assemble implements spec §4.2 "assemble": load config once, configure
// the evaluator, validate the lock file, and (if configured) spawn the
// push daemon. It is idempotent; later calls are no-ops.
func (d *Driver) Assemble(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.assembled {
		return nil
	}

	cfg, files, err := config.Load(d.paths.BaseDir)
	if err != nil {
		return err
	}
	d.cfg = cfg
	d.filesUsed = files

	settings := evaluator.Settings{
		ProjectRoot: d.paths.BaseDir,
		PureEval:    !cfg.Impure,
	}
	d.canonicalArgs = canonicalArgsString(cfg)
	if err := d.orch.Assemble(ctx, settings, d.canonicalArgs); err != nil {
		return err
	}

	if err := d.validateLock(ctx); err != nil {
		return err
	}

	if d.pushClient != nil {
		if err := d.pushClient.Spawn(ctx); err != nil {
			logging.Get(logging.CategoryPush).Warn("push daemon spawn failed: %v", err)
		} else {
			go d.pushClient.Run(ctx)
		}
	}

	d.assembled = true
	return nil
}

func (d *Driver) validateLock(ctx context.Context) error {
	l, err := lock.Load(d.paths.LockFile)
	if err != nil {
		return err
	}
	if !lock.Stale(l, d.cfg) {
		return nil
	}
	if d.lockResolver == nil {
		return direrr.Lock("lock file is stale and no resolver is configured", nil)
	}
	_, err = lock.Update(ctx, d.paths.LockFile, d.cfg, d.lockResolver, "")
	return err
}

// canonicalArgsString serialises the parts of Config that affect the
// evaluator's cache-key namespace (spec §4.2 "assemble": "Serialises
// args to a canonical string").
func canonicalArgsString(cfg *config.Config) string {
	return fmt.Sprintf("backend=%s;impure=%t;allow_unfree=%t;allow_broken=%t;profile=%s",
		cfg.Backend, cfg.Impure, cfg.AllowUnfree, cfg.AllowBroken, cfg.Profile)
}

// Config returns the assembled configuration; callers must have already
// called Assemble.
func (d *Driver) Config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Driver) FilesConsulted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filesUsed
}
