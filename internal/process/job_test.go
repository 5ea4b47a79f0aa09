package process

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devenv-go/devenv/internal/activity"
)

func TestJob_RunsToCompletionWithoutRestart(t *testing.T) {
	stateDir := t.TempDir()
	bus := activity.New()

	cfg := Config{
		Name:    "echoer",
		Exec:    "/bin/echo",
		Args:    []string{"hello"},
		Restart: RestartNever,
	}
	job := NewJob(cfg, stateDir, bus)
	require.NoError(t, job.Start(context.Background()))

	select {
	case <-job.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}

	data, err := os.ReadFile(LogFilePath(stateDir, "echoer"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")

	job.Stop()
}

func TestJob_RestartAlwaysRespawnsUntilBudgetExhausted(t *testing.T) {
	stateDir := t.TempDir()
	bus := activity.New()

	cfg := Config{
		Name:        "looper",
		Exec:        "/bin/echo",
		Args:        []string{"tick"},
		Restart:     RestartAlways,
		MaxRestarts: 2,
	}
	job := NewJob(cfg, stateDir, bus)
	require.NoError(t, job.Start(context.Background()))

	select {
	case <-job.doneCh:
	case <-time.After(3 * time.Second):
		t.Fatal("job never exhausted its restart budget")
	}

	job.mu.Lock()
	count := job.restartCount
	job.mu.Unlock()
	assert.GreaterOrEqual(t, count, 1)

	job.Stop()
}

func TestManager_UpDownLifecycle(t *testing.T) {
	stateDir := t.TempDir()
	bus := activity.New()
	mgr := NewManager(stateDir, bus)

	configs := []Config{
		{Name: "a", Exec: "/bin/sleep", Args: []string{"5"}, Restart: RestartNever},
		{Name: "b", Exec: "/bin/sleep", Args: []string{"5"}, Restart: RestartNever},
	}
	require.NoError(t, mgr.Up(context.Background(), configs, nil))
	assert.ElementsMatch(t, []string{"a", "b"}, mgr.List())
	assert.True(t, mgr.IsRunning())

	require.NoError(t, mgr.Down(context.Background()))
	_, err := os.Stat(filepath.Join(stateDir, "processes.pid"))
	assert.True(t, os.IsNotExist(err))
}
