package facade

import (
	"context"
	"encoding/json"

	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/process"
)

// loadProcessConfigs reads process declarations out of the config's
// Extra side channel, the same round-trip loadTaskConfigs uses for
// tasks, since Config keeps no typed Processes field either.
func (d *Driver) loadProcessConfigs() ([]process.Config, error) {
	raw, ok := d.cfg.Extra["processes"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, direrr.Config("failed to re-marshal process declarations", err)
	}
	var configs []process.Config
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, direrr.Config("failed to parse process declarations", err)
	}
	return configs, nil
}

// ProcessesUp starts every declared process, or only those named, and
// blocks until the manager's PID file is in place (spec §6 "devenv up").
func (d *Driver) ProcessesUp(ctx context.Context, names []string) error {
	if err := d.Assemble(ctx); err != nil {
		return err
	}
	configs, err := d.loadProcessConfigs()
	if err != nil {
		return err
	}
	return d.processMgr.Up(ctx, configs, names)
}

// ProcessesDown stops every running process and removes the manager PID
// file (spec §6 "devenv processes down").
func (d *Driver) ProcessesDown(ctx context.Context) error {
	return d.processMgr.Down(ctx)
}
