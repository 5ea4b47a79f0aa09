package facade

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/devenv-go/devenv/internal/activity"
	"github.com/devenv-go/devenv/internal/direrr"
)

// cleanupStaleSymlinks removes dangling GC-root symlinks under root and
// returns the still-live targets of the rest, which Driver.GC hands to
// the store-level pass as the paths to delete. Mirrors cleanup_symlinks: create root if
// missing, delete symlinks whose target no longer exists, and resolve
// the remainder to their canonical store paths.
func cleanupStaleSymlinks(root string) ([]string, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, direrr.Cache("failed to create gc directory", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, direrr.Cache("failed to read gc directory", err)
	}

	var live []string
	for _, e := range entries {
		path := filepath.Join(root, e.Name())
		info, err := os.Lstat(path)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			_ = os.Remove(path)
			continue
		}
		live = append(live, target)
	}
	return live, nil
}

// sanitizeContainerName strips path separators so a container name can
// never escape the gc-root directory it is interpolated into.
func sanitizeContainerName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '/' || r == '.' {
			out = append(out, '-')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// ContainerBuild builds the named container's derivation, anchoring a
// dedicated GC root (spec §6 "devenv container build"). The container
// build/copy/run pipeline is explicitly out of the evaluator's scope
// (spec §1 Non-goals names the container builder as external), so this
// shells out to the built copy/run scripts the same way the original
// does rather than reimplementing image assembly.
func (d *Driver) ContainerBuild(ctx context.Context, name string) (string, error) {
	if err := d.Assemble(ctx); err != nil {
		return "", err
	}
	sanitized := sanitizeContainerName(name)
	gcRoot := filepath.Join(d.paths.StateDir, "gc", fmt.Sprintf("container-%s-derivation", sanitized))
	attr := fmt.Sprintf("devenv.config.containers.%s.derivation", name)
	paths, err := d.orch.Build(ctx, []string{attr}, gcRoot)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// ContainerCopy builds the container then runs its generated copy script
// against registry (spec §6 "devenv container copy").
func (d *Driver) ContainerCopy(ctx context.Context, name string, copyArgs []string, registry string) error {
	spec, err := d.ContainerBuild(ctx, name)
	if err != nil {
		return err
	}
	a := d.bus.Start(activity.KindCommand, "")
	defer a.Release()

	sanitized := sanitizeContainerName(name)
	gcRoot := filepath.Join(d.paths.StateDir, "gc", fmt.Sprintf("container-%s-copy", sanitized))
	attr := fmt.Sprintf("devenv.config.containers.%s.copyScript", name)
	paths, err := d.orch.Build(ctx, []string{attr}, gcRoot)
	if err != nil {
		a.Failure(err.Error())
		return err
	}
	if registry == "" {
		registry = "false"
	}
	args := append([]string{spec, registry}, copyArgs...)
	cmd := exec.CommandContext(ctx, paths[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		a.Failure(err.Error())
		return direrr.Build("failed to copy container: "+string(out), err)
	}
	a.Success()
	return nil
}

// ContainerRun copies the container into the local docker daemon then
// execs its generated run script (spec §6 "devenv container run").
func (d *Driver) ContainerRun(ctx context.Context, name string, copyArgs []string) (*exec.Cmd, error) {
	if err := d.ContainerCopy(ctx, name, copyArgs, "docker-daemon:"); err != nil {
		return nil, err
	}
	sanitized := sanitizeContainerName(name)
	gcRoot := filepath.Join(d.paths.StateDir, "gc", fmt.Sprintf("container-%s-run", sanitized))
	attr := fmt.Sprintf("devenv.config.containers.%s.dockerRun", name)
	paths, err := d.orch.Build(ctx, []string{attr}, gcRoot)
	if err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, paths[0]), nil
}

// Test builds the assembled project's test script, optionally bringing
// declared processes up for its duration, then runs it in the shell
// (spec §6 "devenv test").
func (d *Driver) Test(ctx context.Context) error {
	if err := d.Assemble(ctx); err != nil {
		return err
	}
	gcRoot := filepath.Join(d.paths.StateDir, "gc", "test")
	scripts, err := d.orch.Build(ctx, []string{"devenv.config.test"}, gcRoot)
	if err != nil {
		return err
	}

	hasProcesses := d.HasProcesses()
	if hasProcesses {
		if err := d.ProcessesUp(ctx, nil); err != nil {
			return err
		}
		defer d.ProcessesDown(ctx)
	}

	out, err := d.RunInShell(ctx, scripts[0], nil)
	if err != nil {
		return direrr.Process("tests failed: "+string(out), err)
	}
	return nil
}
