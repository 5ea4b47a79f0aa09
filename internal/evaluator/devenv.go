package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/devenv-go/devenv/internal/activity"
	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/evalcache"
	"github.com/devenv-go/devenv/internal/logging"
)

// shellAttr is the single attribute path both halves of dev_env are keyed
// on: the "shell" derivation (build variant) and its environment
// description (eval variant), mirroring the original's single
// cache_key("shell") covering both the drv/out pair and the env JSON.
const shellAttr = "shell"

// shellVariable is one entry of the evaluator's shell-environment JSON,
// shaped like `nix print-dev-env --json`'s "variables" map: each name maps
// to a type ("exported", "var", or "array") plus its value.
type shellVariable struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// shellEnvironment is the JSON document dev_env's fast path reads and
// writes: a flat variable table plus any bash functions the environment
// declares, the same shape the original's nix_bindings_store BuildEnvironment
// type parses from `nix print-dev-env --json`.
type shellEnvironment struct {
	Variables     map[string]shellVariable `json:"variables"`
	BashFunctions map[string]string        `json:"bashFunctions"`
}

// DevEnv evaluates the shell derivation (realising and GC-rooting it like
// Build) and its environment description, returning either the raw JSON
// (renderJSON) or a locally-synthesised bash activation script (spec
// §4.2 "dev_env"). A pending Invalidate() bypasses both cache entries for
// this one call, per its one-shot-bypass contract.
func (o *Orchestrator) DevEnv(ctx context.Context, renderJSON bool, gcRoot string) (output []byte, storePath string, freshBuild bool, err error) {
	if o.ConsumeInvalidated() {
		_ = o.cache.Discard(evalcache.CacheKey(o.cacheKeyArgs(), shellAttr, evalcache.VariantBuild))
		_ = o.cache.Discard(evalcache.CacheKey(o.cacheKeyArgs(), shellAttr, evalcache.VariantEval))
	}

	a := o.bus.Start(activity.KindBuild, "shell")
	defer a.Release()

	path, fresh, err := o.buildOne(ctx, shellAttr)
	if err != nil {
		a.Failure(err.Error())
		return nil, "", false, err
	}
	if gcRoot != "" {
		if err := anchorGCRoot(path, gcRoot); err != nil {
			logging.Get(logging.CategoryEval).Warn("failed to anchor gc root for %s: %v", path, err)
		}
	}

	jsonOutput, err := o.evalOne(ctx, shellAttr, evalcache.VariantEval)
	if err != nil {
		a.Failure(err.Error())
		return nil, "", false, err
	}
	a.Success()

	if renderJSON {
		return []byte(jsonOutput), path, fresh, nil
	}
	script, err := renderActivationScript(jsonOutput)
	if err != nil {
		return nil, "", false, direrr.Eval("failed to synthesise activation script from cached shell environment", err)
	}
	return script, path, fresh, nil
}

// renderActivationScript synthesises a bash script from a shellEnvironment
// JSON document, bypassing the foreign evaluator entirely (spec §4.2
// "dev_env" fast path). Variable names are sorted for deterministic
// output across runs with the same environment.
func renderActivationScript(jsonDoc string) ([]byte, error) {
	var env shellEnvironment
	if err := json.Unmarshal([]byte(jsonDoc), &env); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(env.Variables))
	for name := range env.Variables {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		v := env.Variables[name]
		var val string
		if err := json.Unmarshal(v.Value, &val); err != nil {
			// Arrays and other non-string values are passed through as
			// their raw JSON scalar/list form; bash arrays are rare in
			// practice and not required for a working shell.
			val = string(v.Value)
		}
		quoted := shellQuote(val)
		switch v.Type {
		case "exported":
			fmt.Fprintf(&b, "export %s=%s\n", name, quoted)
		default:
			fmt.Fprintf(&b, "%s=%s\n", name, quoted)
		}
	}

	fnNames := make([]string, 0, len(env.BashFunctions))
	for name := range env.BashFunctions {
		fnNames = append(fnNames, name)
	}
	sort.Strings(fnNames)
	for _, name := range fnNames {
		fmt.Fprintf(&b, "%s\n", env.BashFunctions[name])
	}

	return []byte(b.String()), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
