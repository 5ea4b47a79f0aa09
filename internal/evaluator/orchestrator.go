package evaluator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/devenv-go/devenv/internal/activity"
	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/evalcache"
	"github.com/devenv-go/devenv/internal/logging"
)

// Orchestrator routes every attribute evaluation through the cache keyed
// by (args-digest, attr-path), calling the foreign evaluator only when
// necessary (spec §4.2).
type Orchestrator struct {
	handle  *Handle
	cache   *evalcache.Store
	ports   *evalcache.PortAllocator
	bus     *activity.Bus

	mu            sync.Mutex
	canonicalArgs string
	invalidated   bool
}

func NewOrchestrator(handle *Handle, cache *evalcache.Store, bus *activity.Bus) *Orchestrator {
	return &Orchestrator{
		handle: handle,
		cache:  cache,
		ports:  evalcache.NewPortAllocator(),
		bus:    bus,
	}
}

// Assemble is called exactly once per driver lifetime: it serialises args
// to a canonical string, derives cache_key_args, and configures the
// evaluator (spec §4.2 "assemble").
func (o *Orchestrator) Assemble(ctx context.Context, settings Settings, canonicalArgs string) error {
	o.mu.Lock()
	o.canonicalArgs = canonicalArgs
	o.mu.Unlock()

	primops := PrimopRegistry{AllocatePort: o.ports.Allocate}
	if err := o.handle.Configure(ctx, settings, primops); err != nil {
		return direrr.Eval("failed to configure evaluator", err)
	}
	return nil
}

func (o *Orchestrator) cacheKeyArgs() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.canonicalArgs
}

// Eval looks up each attribute in the cache, replaying resource
// allocations on a hit and recomputing on a miss (spec §4.2 "eval").
func (o *Orchestrator) Eval(ctx context.Context, attrs []string) (map[string]string, error) {
	out := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		a := o.bus.Start(activity.KindEvaluate, "")
		val, err := o.evalOne(ctx, attr, evalcache.VariantEval)
		if err != nil {
			a.Failure(err.Error())
			a.Release()
			return nil, err
		}
		out[attr] = val
		a.Success()
		a.Release()
	}
	return out, nil
}

func (o *Orchestrator) evalOne(ctx context.Context, attrPath string, variant evalcache.Variant) (string, error) {
	key := evalcache.CacheKey(o.cacheKeyArgs(), attrPath, variant)
	log := logging.Get(logging.CategoryEval)

	if rec, ok := o.cache.Get(key); ok {
		if evalcache.IsFresh(rec, currentEnvMap()) {
			if err := evalcache.ReplayAll(o.ports, rec.Resources); err == nil {
				log.Debug("cache hit attr=%s key=%s", attrPath, key)
				return rec.JSONOutput, nil
			}
			log.Warn("resource replay failed for %s, discarding cache entry", attrPath)
		}
		_ = o.cache.Discard(key)
	}

	log.Debug("cache miss attr=%s key=%s", attrPath, key)
	result, err := o.handle.Eval(ctx, attrPath)
	if err != nil {
		return "", direrr.Eval(fmt.Sprintf("evaluation failed for %s", attrPath), err)
	}

	fileInputs := make([]evalcache.FileInput, 0, len(result.FileInputs))
	for _, path := range result.FileInputs {
		fi, err := evalcache.BuildFileInput(path)
		if err != nil {
			continue
		}
		fileInputs = append(fileInputs, fi)
	}

	rec := &evalcache.Record{
		JSONOutput: result.JSONOutput,
		FileInputs: fileInputs,
		EnvInputs:  result.EnvInputs,
	}
	if err := o.cache.Put(key, rec); err != nil {
		log.Warn("failed to persist cache record for %s: %v", attrPath, err)
	}
	return result.JSONOutput, nil
}

// Build evaluates attrs to derivations and realises them, verifying a
// cached output path still exists before trusting a hit (spec §4.2
// "build").
func (o *Orchestrator) Build(ctx context.Context, attrs []string, gcRoot string) ([]string, error) {
	paths := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		a := o.bus.Start(activity.KindBuild, "")
		path, _, err := o.buildOne(ctx, attr)
		if err != nil {
			a.Failure(err.Error())
			a.Release()
			return nil, err
		}
		paths = append(paths, path)
		if gcRoot != "" {
			if err := anchorGCRoot(path, gcRoot); err != nil {
				log := logging.Get(logging.CategoryEval)
				log.Warn("failed to anchor gc root for %s: %v", path, err)
			}
		}
		a.Success()
		a.Release()
	}
	return paths, nil
}

// buildOne returns the realised store path and whether it required a
// fresh build (as opposed to a cache hit), so callers that only push
// freshly-realised paths (dev_env) can tell the two apart.
func (o *Orchestrator) buildOne(ctx context.Context, attrPath string) (string, bool, error) {
	key := evalcache.CacheKey(o.cacheKeyArgs(), attrPath, evalcache.VariantBuild)
	log := logging.Get(logging.CategoryEval)

	if rec, ok := o.cache.Get(key); ok {
		if _, err := os.Stat(rec.JSONOutput); err == nil {
			if evalcache.IsFresh(rec, currentEnvMap()) {
				log.Debug("build cache hit attr=%s path=%s", attrPath, rec.JSONOutput)
				return rec.JSONOutput, false, nil
			}
		}
		_ = o.cache.Discard(key)
	}

	path, err := o.handle.Build(ctx, attrPath)
	if err != nil {
		return "", false, direrr.Build(fmt.Sprintf("build failed for %s", attrPath), err)
	}
	rec := &evalcache.Record{JSONOutput: path}
	if err := o.cache.Put(key, rec); err != nil {
		log.Warn("failed to persist build record for %s: %v", attrPath, err)
	}
	return path, true, nil
}

// Invalidate sets a one-shot bypass flag and swaps the evaluator for a
// fresh instance, clearing its file-evaluation cache on hot-reload (spec
// §4.2 "invalidate").
func (o *Orchestrator) Invalidate(fresh Evaluator) {
	o.mu.Lock()
	o.invalidated = true
	o.mu.Unlock()
	old := o.handle.Swap(fresh)
	if old != nil {
		_ = old.Close()
	}
}

// ConsumeInvalidated reports and clears the one-shot bypass flag.
func (o *Orchestrator) ConsumeInvalidated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	was := o.invalidated
	o.invalidated = false
	return was
}

// GC best-effort deletes each path individually; a still-referenced path
// is skipped, not an error (spec §4.2 "gc").
func (o *Orchestrator) GC(paths []string) (count int, bytesFreed int64) {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		size := info.Size()
		if err := os.RemoveAll(path); err != nil {
			continue // still referenced, or permission denied: skip, not an error
		}
		count++
		bytesFreed += size
	}
	return count, bytesFreed
}

func anchorGCRoot(storePath, gcRoot string) error {
	if err := os.MkdirAll(filepath.Dir(gcRoot), 0o755); err != nil {
		return err
	}
	tmp := gcRoot + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(storePath, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, gcRoot)
}

func currentEnvMap() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			out[kv[:idx]] = kv[idx+1:]
		}
	}
	return out
}
