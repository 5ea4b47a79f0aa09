// Package evaluator drives the foreign expression evaluator through a
// stable attribute surface and orchestrates it behind a content-addressed
// cache (spec §4.2). The evaluator itself is out of scope (spec §1
// Non-goals: "we do not specify how the expression evaluator parses or
// evaluates"); this package defines only the interface the core consumes
// plus the caching/replay machinery around it.
package evaluator

import "context"

// Settings configures one Evaluator instance for the lifetime of the
// driver (spec §4.2 "assemble").
type Settings struct {
	ProjectRoot string
	EnvOverrides map[string]string
	Offline     bool
	PureEval    bool
	Experimental []string
}

// EvalResult is what one successful evaluation call returns: the JSON
// value plus everything the cache needs to judge freshness and replay
// side effects on a future hit.
type EvalResult struct {
	JSONOutput string
	FileInputs []string          // absolute paths read during evaluation
	EnvInputs  map[string]string // env vars observed during evaluation
}

// PrimopRegistry is the small attrset of foreign callbacks merged into
// the evaluator's argument attrset before application (spec §4.2 "Primop
// injection"). AllocatePort is the only callback the spec names.
type PrimopRegistry struct {
	AllocatePort func(process, portName string, basePort int) (int, error)
}

// Evaluator is the single-threaded foreign resource. Every call must be
// serialised by the caller (see Handle); the interface itself makes no
// concurrency promises.
type Evaluator interface {
	// Configure applies project root, env overrides, and flake settings.
	// Called exactly once per driver lifetime via Orchestrator.Assemble.
	Configure(ctx context.Context, settings Settings, primops PrimopRegistry) error

	// Eval force-evaluates an attribute path and returns its JSON value.
	Eval(ctx context.Context, attrPath string) (EvalResult, error)

	// Build evaluates an attribute path to a derivation and realises it,
	// returning the output store path.
	Build(ctx context.Context, attrPath string) (string, error)

	// Interrupt raises the evaluator's interrupt flag; used only when
	// shutdown was triggered by an actual signal, not a normal exit
	// (spec §5 "Global shutdown").
	Interrupt()

	// Close releases the evaluator's native resources.
	Close() error
}
