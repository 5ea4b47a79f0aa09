package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/devenv-go/devenv/internal/activity"
	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/logging"
)

// Manager owns the full set of declared processes for a project: it
// starts/stops jobs, persists a manager PID file for the detached case,
// and enforces the stop-with-backoff-then-KILL shutdown contract (spec
// §4.5 "Manager").
type Manager struct {
	stateDir string
	bus      *activity.Bus

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewManager(stateDir string, bus *activity.Bus) *Manager {
	return &Manager{stateDir: stateDir, bus: bus, jobs: make(map[string]*Job)}
}

func (m *Manager) pidFile() string {
	return filepath.Join(m.stateDir, "processes.pid")
}

// IsRunning reports whether a manager PID file exists and names a live
// process.
func (m *Manager) IsRunning() bool {
	data, err := os.ReadFile(m.pidFile())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Up starts every configured process (or only the named subset), writing
// the manager PID file. It does not itself daemonize; detaching is the
// caller's concern via a re-exec with the same arguments.
func (m *Manager) Up(ctx context.Context, configs []Config, names []string) error {
	if m.IsRunning() {
		return direrr.Process("processes already running", fmt.Errorf("stop them first"))
	}
	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return direrr.Process("failed to create state directory", err)
	}

	selected := selectConfigs(configs, names)
	sort.Slice(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range selected {
		job := NewJob(cfg, m.stateDir, m.bus)
		if err := job.Start(ctx); err != nil {
			return direrr.Process("failed to start process "+cfg.Name, err)
		}
		m.jobs[cfg.Name] = job
	}

	if err := os.WriteFile(m.pidFile(), []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return direrr.Process("failed to write manager PID file", err)
	}
	return nil
}

func selectConfigs(configs []Config, names []string) []Config {
	if len(names) == 0 {
		return append([]Config{}, configs...)
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Config
	for _, c := range configs {
		if want[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// Down stops every running job and removes the PID file. If the manager
// process is a different PID than the caller (the detached case), it
// sends SIGTERM and polls for exit with exponential backoff before
// escalating to SIGKILL, mirroring the original's stop_manager contract.
func (m *Manager) Down(ctx context.Context) error {
	log := logging.Get(logging.CategoryProcess)

	data, err := os.ReadFile(m.pidFile())
	if err != nil {
		return direrr.Process("processes not running", err)
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))

	if pid != os.Getpid() {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			if err == syscall.ESRCH {
				log.Warn("manager pid %d not found, removing stale pid file", pid)
				return os.Remove(m.pidFile())
			}
			return direrr.Process("failed to signal manager process", err)
		}
		return m.waitForExit(ctx, pid)
	}

	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.jobs = make(map[string]*Job)
	m.mu.Unlock()

	for _, j := range jobs {
		j.Stop()
	}
	return os.Remove(m.pidFile())
}

func (m *Manager) waitForExit(ctx context.Context, pid int) error {
	deadline := time.Now().Add(30 * time.Second)
	interval := 100 * time.Millisecond
	const maxInterval = time.Second

	for {
		if syscall.Kill(pid, 0) != nil {
			return os.Remove(m.pidFile())
		}
		if time.Now().After(deadline) {
			_ = syscall.Kill(pid, syscall.SIGKILL)
			time.Sleep(100 * time.Millisecond)
			return os.Remove(m.pidFile())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * 1.5)
		if interval > maxInterval {
			interval = maxInterval
		}
	}
}

// Restart restarts one running job by name, resetting its restart budget.
func (m *Manager) Restart(ctx context.Context, name string, cfg Config) error {
	m.mu.Lock()
	job, ok := m.jobs[name]
	m.mu.Unlock()
	if ok {
		job.Stop()
	}
	newJob := NewJob(cfg, m.stateDir, m.bus)
	if err := newJob.Start(ctx); err != nil {
		return direrr.Process("failed to restart process "+name, err)
	}
	m.mu.Lock()
	m.jobs[name] = newJob
	m.mu.Unlock()
	return nil
}

// List returns the names of currently supervised jobs.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Job returns the running job for name, or nil.
func (m *Manager) Job(name string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[name]
}
