package facade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessesUpDown_StartsAndStopsDeclaredProcess(t *testing.T) {
	d := newTestDriver(t, nil)
	require.NoError(t, d.Assemble(context.Background()))
	d.cfg.Extra["processes"] = []any{
		map[string]any{"Name": "web", "Exec": "sleep", "Args": []string{"5"}},
	}

	require.NoError(t, d.ProcessesUp(context.Background(), nil))
	assert.True(t, d.processMgr.IsRunning())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.ProcessesDown(ctx))
	assert.False(t, d.processMgr.IsRunning())
}
