package tasks

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/devenv-go/devenv/internal/activity"
	"github.com/devenv-go/devenv/internal/logging"
)

// Engine runs a scheduled task order concurrently, respecting
// predecessor completion, content-hash skip rules, and cooperative
// cancellation (spec §4.6 "Run").
type Engine struct {
	graph     *Graph
	cache     *Cache
	local     Provider
	external  map[string]Provider // keyed by task namespace/provider name
	bus       *activity.Bus
}

func NewEngine(graph *Graph, cache *Cache, local Provider, external map[string]Provider, bus *activity.Bus) *Engine {
	if local == nil {
		local = NewLocalProvider()
	}
	return &Engine{graph: graph, cache: cache, local: local, external: external, bus: bus}
}

// Run executes every task in order concurrently, honoring each task's
// predecessor dependencies: a task only starts once every predecessor in
// the scheduled order has completed, and is marked DependencyFailed
// without ever running its command if any predecessor failed.
func (e *Engine) Run(ctx context.Context, order []string) (map[string]*Result, error) {
	log := logging.Get(logging.CategoryTask)

	results := make(map[string]*Result, len(order))
	var resultsMu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range order {
		name := name
		n := e.graph.nodes[name]
		group.Go(func() error {
			if err := e.waitForPredecessors(groupCtx, name); err != nil {
				return err
			}

			resultsMu.Lock()
			depFailed := false
			for _, dep := range e.graph.predecessors[name] {
				if r, ok := results[dep]; ok && r.Failed() {
					depFailed = true
					break
				}
			}
			resultsMu.Unlock()

			var result *Result
			if depFailed {
				result = &Result{Outcome: OutcomeDependencyFailed}
			} else {
				result = e.runOne(groupCtx, n, e.snapshotOutputs(results, &resultsMu))
			}

			n.status = StatusCompleted
			n.result = result
			resultsMu.Lock()
			results[name] = result
			resultsMu.Unlock()
			close(n.done)

			log.Info("task %s finished: %s", name, result.Outcome)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Engine) waitForPredecessors(ctx context.Context, name string) error {
	for _, dep := range e.graph.predecessors[name] {
		depNode := e.graph.nodes[dep]
		select {
		case <-depNode.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) snapshotOutputs(results map[string]*Result, mu *sync.Mutex) map[string]json.RawMessage {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]json.RawMessage, len(results))
	for name, r := range results {
		if r.Output != nil {
			out[name] = r.Output
		}
	}
	return out
}

func (e *Engine) runOne(ctx context.Context, n *node, outputs map[string]json.RawMessage) *Result {
	n.status = StatusRunning
	act := e.bus.Start(activity.KindCommand, "")
	defer act.Release()

	cfg := n.cfg

	if cfg.Status != "" {
		provider := e.providerFor(cfg.Name)
		_, _, _, err := provider.Run(ctx, TaskConfig{Name: cfg.Name, Command: cfg.Status, Inputs: cfg.Inputs}, outputs)
		if err == nil {
			act.Cached()
			output, _ := e.cache.GetOutput(cfg.Name)
			return &Result{Outcome: OutcomeSkippedCached, Output: output}
		}
	} else if len(cfg.ExecIfModified) > 0 && !e.cache.CheckModified(cfg.Name, cfg.Command, cfg.ExecIfModified) {
		act.Cached()
		output, _ := e.cache.GetOutput(cfg.Name)
		return &Result{Outcome: OutcomeSkippedCached, Output: output}
	}

	provider := e.providerFor(cfg.Name)
	stdout, stderr, output, err := provider.Run(ctx, cfg, outputs)
	if err != nil {
		act.Failure(err.Error())
		return &Result{Outcome: OutcomeFailed, Err: err, Stdout: stdout, Stderr: stderr, Output: output}
	}

	if e.cache != nil {
		_ = e.cache.RecordRun(cfg.Name, cfg.Command, cfg.ExecIfModified, output)
	}
	act.Success()
	return &Result{Outcome: OutcomeSuccess, Output: output, Stdout: stdout, Stderr: stderr}
}

func (e *Engine) providerFor(taskName string) Provider {
	if e.external != nil {
		for prefix, provider := range e.external {
			if len(taskName) > len(prefix) && taskName[:len(prefix)] == prefix {
				return provider
			}
		}
	}
	return e.local
}
