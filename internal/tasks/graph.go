package tasks

import (
	"fmt"
	"strings"

	"github.com/devenv-go/devenv/internal/direrr"
)

// node is one task's position in the dependency graph plus its run-time
// state, guarded by the owning Graph's execution loop (never accessed
// concurrently by more than one goroutine for writes; see Engine.Run).
type node struct {
	cfg    TaskConfig
	status Status
	result *Result
	done   chan struct{}
}

// Graph is the full task dependency graph: every declared task plus the
// after/before edges resolved between them (spec §4.6 "Graph").
type Graph struct {
	nodes       map[string]*node
	predecessors map[string][]string // tasks that must complete before this one (incoming, "after")
	successors   map[string][]string // tasks that run after this one (outgoing, "before")
}

// BuildGraph constructs the graph from declared tasks, resolving every
// after/before reference. An edge naming a task that does not exist is a
// configuration error.
func BuildGraph(configs []TaskConfig) (*Graph, error) {
	g := &Graph{
		nodes:        make(map[string]*node, len(configs)),
		predecessors: make(map[string][]string),
		successors:   make(map[string][]string),
	}
	for _, cfg := range configs {
		if _, dup := g.nodes[cfg.Name]; dup {
			return nil, direrr.Task("duplicate task name "+cfg.Name, nil)
		}
		g.nodes[cfg.Name] = &node{cfg: cfg, status: StatusPending, done: make(chan struct{})}
	}

	var missing []string
	for _, cfg := range configs {
		for _, dep := range cfg.After {
			if _, ok := g.nodes[dep]; !ok {
				missing = append(missing, fmt.Sprintf("%s after %s", cfg.Name, dep))
				continue
			}
			g.predecessors[cfg.Name] = append(g.predecessors[cfg.Name], dep)
			g.successors[dep] = append(g.successors[dep], cfg.Name)
		}
		for _, before := range cfg.Before {
			if _, ok := g.nodes[before]; !ok {
				missing = append(missing, fmt.Sprintf("%s before %s", cfg.Name, before))
				continue
			}
			g.predecessors[before] = append(g.predecessors[before], cfg.Name)
			g.successors[cfg.Name] = append(g.successors[cfg.Name], before)
		}
	}
	if len(missing) > 0 {
		return nil, direrr.Task("unresolved task dependencies: "+strings.Join(missing, ", "), nil)
	}
	return g, nil
}

// ResolveRoots resolves a list of requested root names to concrete task
// names. A name with no colon that matches no task exactly is treated as
// a namespace prefix: every task named "<name>:*" is included. An empty
// list selects every task as a root.
func (g *Graph) ResolveRoots(names []string) ([]string, error) {
	if len(names) == 0 {
		all := make([]string, 0, len(g.nodes))
		for name := range g.nodes {
			all = append(all, name)
		}
		return all, nil
	}

	var roots []string
	for _, name := range names {
		if _, ok := g.nodes[name]; ok {
			roots = append(roots, name)
			continue
		}
		if !strings.Contains(name, ":") {
			prefix := name + ":"
			var matched []string
			for taskName := range g.nodes {
				if strings.HasPrefix(taskName, prefix) {
					matched = append(matched, taskName)
				}
			}
			if len(matched) > 0 {
				roots = append(roots, matched...)
				continue
			}
		}
		return nil, direrr.Task("task not found: "+name, nil)
	}
	return roots, nil
}

// Schedule computes the execution order for the closure of roots under
// mode, returning a cycle error naming one task that could not be
// scheduled because of a cycle (it is on the cycle or depends on it).
func (g *Graph) Schedule(roots []string, mode RunMode) ([]string, error) {
	visited := make(map[string]bool)
	var stack []string
	stack = append(stack, roots...)

	switch mode {
	case RunSingle:
		for _, r := range roots {
			visited[r] = true
		}
	case RunAfter:
		g.walk(stack, visited, g.successors)
	case RunBefore:
		g.walk(stack, visited, g.predecessors)
	default: // RunAll: After(roots) union Before(roots), each walked from
		// roots only — never via a combined adjacency over the whole node
		// set, which would also pull in tasks reachable only through a
		// shared prerequisite of an unrelated sink.
		after := make(map[string]bool)
		g.walk(append([]string{}, roots...), after, g.successors)
		before := make(map[string]bool)
		g.walk(append([]string{}, roots...), before, g.predecessors)
		for name := range after {
			visited[name] = true
		}
		for name := range before {
			visited[name] = true
		}
	}

	included := make([]string, 0, len(visited))
	for name := range visited {
		included = append(included, name)
	}
	return g.topoSort(included, visited)
}

func (g *Graph) walk(stack []string, visited map[string]bool, adjacency map[string][]string) {
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, adjacency[n]...)
	}
}

// topoSort runs Kahn's algorithm over the induced subgraph restricted to
// included, using predecessor edges as dependency arrows.
func (g *Graph) topoSort(included []string, inSet map[string]bool) ([]string, error) {
	inDegree := make(map[string]int, len(included))
	for _, name := range included {
		deg := 0
		for _, dep := range g.predecessors[name] {
			if inSet[dep] {
				deg++
			}
		}
		inDegree[name] = deg
	}

	var queue []string
	for _, name := range included {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, succ := range g.successors[n] {
			if !inSet[succ] {
				continue
			}
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) != len(included) {
		for _, name := range included {
			if inDegree[name] > 0 {
				return nil, direrr.Task("cycle detected involving task "+name, nil)
			}
		}
		return nil, direrr.Task("cycle detected in task graph", nil)
	}
	return order, nil
}
