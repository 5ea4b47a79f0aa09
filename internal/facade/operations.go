package facade

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/devenv-go/devenv/internal/activity"
	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/lock"
)

// shellEnv builds the environment the shell subprocess inherits. When
// Options.CleanEnv is set, it starts from an empty slate and keeps only
// the variables named in CleanKeep, the same env_clear().envs(filtered)
// shape as the original's prepare_shell; SHELL and DEVENV_CMDLINE are
// always set afterward regardless of the clean-env setting.
func (d *Driver) shellEnv(cmdline string) []string {
	var env []string
	if d.opts.CleanEnv {
		keep := make(map[string]bool, len(d.opts.CleanKeep))
		for _, k := range d.opts.CleanKeep {
			keep[k] = true
		}
		for _, kv := range os.Environ() {
			k, _, ok := strings.Cut(kv, "=")
			if ok && keep[k] {
				env = append(env, kv)
			}
		}
	} else {
		env = os.Environ()
	}
	env = append(env, "SHELL="+d.paths.Bash, "DEVENV_CMDLINE="+cmdline)
	return env
}

// shellEscape single-quotes s for safe interpolation into the generated
// activation script, the role shell_escape::escape plays in the
// original's prepare_shell when appending an exec'd command's args.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// scriptHash derives the content-addressed suffix the original uses for
// its per-session shell scripts ("Using content hash in filename allows
// eval cache to track it properly while avoiding race conditions between
// parallel sessions").
func scriptHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}

// writeShellScript renders the activation script (bashrc sourcing,
// rendered environment, optional exec of cmdName/args) and writes it to a
// content-addressed file under the state directory, mirroring
// prepare_shell's formatdoc! template.
func (d *Driver) writeShellScript(env []byte, cmdName string, args []string) (string, error) {
	var b strings.Builder
	b.WriteString("if [ -n \"$PS1\" ] && [ -e $HOME/.bashrc ]; then\n  source $HOME/.bashrc\nfi\n\n")
	b.WriteString("shopt -u expand_aliases\n")
	b.Write(env)
	b.WriteString("\nshopt -s expand_aliases\n")
	if cmdName != "" {
		b.WriteString("\nexec " + cmdName)
		for _, arg := range args {
			b.WriteString(" " + shellEscape(arg))
		}
		b.WriteString("\n")
	}

	script := b.String()
	path := filepath.Join(d.paths.StateDir, "shell-"+scriptHash([]byte(script))+".sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return "", direrr.Process("failed to write shell script", err)
	}
	return path, nil
}

// prepareExec is the shared control flow behind Shell and RunInShell
// (spec §2: assembler -> evaluator via cache -> artifact materialisation
// -> push queue -> shell script emission). It realises bash itself as a
// GC-rooted derivation, evaluates the shell's dev_env (realising and
// GC-rooting the shell derivation too), queues any freshly-built path for
// push, and writes the rendered activation script to disk. cmdName/args
// are empty for an interactive shell.
func (d *Driver) prepareExec(ctx context.Context, cmdName string, args []string) (*exec.Cmd, error) {
	if err := d.Assemble(ctx); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(d.paths.ShellGCRoot), 0o755); err != nil {
		return nil, direrr.Process("failed to create shell gc-root directory", err)
	}

	if _, err := d.orch.Build(ctx, []string{"bash"}, d.paths.Bash); err != nil {
		return nil, err
	}

	env, storePath, fresh, err := d.orch.DevEnv(ctx, false, d.paths.ShellGCRoot)
	if err != nil {
		return nil, err
	}
	if d.pushClient != nil && fresh {
		d.pushClient.Enqueue([]string{storePath})
	}

	scriptPath, err := d.writeShellScript(env, cmdName, args)
	if err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	if cmdName == "" {
		cmd = exec.CommandContext(ctx, d.paths.Bash, "--rcfile", scriptPath)
	} else {
		cmd = exec.CommandContext(ctx, d.paths.Bash, scriptPath)
	}
	cmd.Dir = d.paths.BaseDir
	cmd.Env = d.shellEnv(strings.Join(os.Args[1:], " "))
	return cmd, nil
}

// Shell resolves the bash script the interactive shell should exec into
// (spec §6 "devenv shell"). Grounded on devenv.rs's shell/prepare_exec:
// the driver only prepares the command, the caller execs it after
// restoring the terminal.
func (d *Driver) Shell(ctx context.Context) (*exec.Cmd, error) {
	return d.prepareExec(ctx, "", nil)
}

// RunInShell runs name/args inside the assembled shell environment and
// returns its captured output (spec §6 "devenv shell -- CMD"). Output is
// always captured, never written directly to the caller's terminal,
// mirroring run_in_shell's contract.
func (d *Driver) RunInShell(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd, err := d.prepareExec(ctx, name, args)
	if err != nil {
		return nil, err
	}

	a := d.bus.Start(activity.KindCommand, "")
	defer a.Release()

	out, err := cmd.CombinedOutput()
	if err != nil {
		a.Failure(err.Error())
		return out, direrr.Process("command failed in shell", err)
	}
	a.Success()
	return out, nil
}

// Eval evaluates attrs and returns their JSON values (spec §6 "devenv
// eval").
func (d *Driver) Eval(ctx context.Context, attrs []string) (map[string]string, error) {
	if err := d.Assemble(ctx); err != nil {
		return nil, err
	}
	return d.orch.Eval(ctx, attrs)
}

// Build evaluates attrs to derivations and realises them (spec §6
// "devenv build"). When gcRoot is non-empty, each built path is anchored
// as a GC-root symlink at gcRoot, each attribute replacing the previous
// one's anchor; an empty gcRoot anchors nothing. Empty attrs builds
// nothing: neither the facade nor the CLI expands it to the attributes
// under `build`.
func (d *Driver) Build(ctx context.Context, attrs []string, gcRoot string) ([]string, error) {
	if err := d.Assemble(ctx); err != nil {
		return nil, err
	}
	return d.orch.Build(ctx, attrs, gcRoot)
}

// Update resolves one input (or every input, when name is empty) and
// rewrites devenv.lock (spec §6 "devenv update").
func (d *Driver) Update(ctx context.Context, name string) (*lock.Lock, error) {
	if d.lockResolver == nil {
		return nil, direrr.Lock("no lock resolver configured", nil)
	}
	if err := d.Assemble(ctx); err != nil {
		return nil, err
	}
	return lock.Update(ctx, d.paths.LockFile, d.cfg, d.lockResolver, name)
}

// GC removes dangling GC-root symlinks under the home GC directory, then
// passes the targets of the remaining symlinks to the Orchestrator, which
// deletes them and reports how many it removed and the bytes freed (spec
// §6 "devenv gc"). The project's .devenv/gc directory is not scanned.
// Mirrors gc()'s two-step cleanup_symlinks-then-nix.gc shape.
func (d *Driver) GC(ctx context.Context) (count int, bytesFreed int64, err error) {
	stale, err := cleanupStaleSymlinks(d.paths.HomeGCDir)
	if err != nil {
		return 0, 0, err
	}
	count, bytesFreed = d.orch.GC(stale)
	return count, bytesFreed, nil
}

// Info reports the assembled project's evaluator metadata (spec §6
// "devenv info").
func (d *Driver) Info(ctx context.Context) (string, error) {
	if err := d.Assemble(ctx); err != nil {
		return "", err
	}
	out, err := d.orch.Eval(ctx, []string{"info"})
	if err != nil {
		return "", err
	}
	return out["info"], nil
}

// SearchResult is one match from either the options or packages search.
type SearchResult struct {
	Kind        string // "option" or "package"
	Name        string
	Description string
}

// Repl is out of scope: the foreign evaluator interface exposes no
// interactive REPL hook (spec §1 Non-goals excludes reimplementing the
// evaluator itself), so this reports the unsupported operation rather
// than fabricating one.
func (d *Driver) Repl(ctx context.Context) error {
	return direrr.Eval("interactive REPL is not supported by this evaluator interface", nil)
}

// Init is out of scope for the same reason project scaffolding templates
// are: the spec's data model has no template registry (spec §1
// Non-goals). Reports the same unsupported-operation error rather than
// guessing at a template format.
func (d *Driver) Init(ctx context.Context) error {
	return direrr.Config("project scaffolding (devenv init) is not implemented", nil)
}
