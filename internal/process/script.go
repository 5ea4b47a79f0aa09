package process

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// MergeEnv overlays override on top of base, returning a new map. Keys in
// override always win; keys present only in base are preserved as-is.
func MergeEnv(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func hasEnvKey(env map[string]string, key string) bool {
	_, ok := env[key]
	return ok
}

// ProcessEnv computes the full environment a process is launched with:
// the current process environment, overlaid with shellEnv (the supervisor
// passes its own variables here, such as NOTIFY_SOCKET and WATCHDOG_USEC),
// overlaid last with the process's own Env overrides so a declared
// process can always shadow an inherited variable. DEVENV_PROCESS_NAME is
// set to the process name unless one of those layers already sets it.
func ProcessEnv(cfg Config, shellEnv map[string]string) []string {
	inherited := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			inherited[kv[:i]] = kv[i+1:]
		}
	}
	merged := MergeEnv(inherited, shellEnv)
	merged = MergeEnv(merged, cfg.Env)
	if !hasEnvKey(merged, "DEVENV_PROCESS_NAME") {
		merged["DEVENV_PROCESS_NAME"] = cfg.Name
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// BuildCommand resolves the executable and argv for a process, wrapping
// with sudo when UseSudo is set.
func BuildCommand(cfg Config) (string, []string) {
	if cfg.UseSudo {
		args := append([]string{cfg.Exec}, cfg.Args...)
		return "sudo", args
	}
	return cfg.Exec, cfg.Args
}

// LogFilePath returns the path a process's stdout/stderr is truncated to
// at every start, under <stateDir>/process-logs/<name>.log.
func LogFilePath(stateDir, name string) string {
	return fmt.Sprintf("%s/process-logs/%s.log", stateDir, name)
}
