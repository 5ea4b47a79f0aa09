package process

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/devenv-go/devenv/internal/activity"
	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/logging"
)

const (
	stopGraceTimeout = 5 * time.Second
	restartGraceWait = 100 * time.Millisecond
)

// Job supervises a single declared process: it owns the running
// *exec.Cmd, the optional notify socket and file watcher, and the
// restart-policy state machine (spec §4.5).
type Job struct {
	cfg      Config
	stateDir string
	bus      *activity.Bus

	mu           sync.Mutex
	cmd          *exec.Cmd
	activity     *activity.Activity
	notify       *NotifySocket
	watcher      *FileWatcher
	restartCount int
	stopped      bool

	shutdownCh chan struct{}
	doneCh     chan struct{}
	readyCh    chan struct{}
	readyOnce  sync.Once
}

func NewJob(cfg Config, stateDir string, bus *activity.Bus) *Job {
	return &Job{
		cfg:        cfg,
		stateDir:   stateDir,
		bus:        bus,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		readyCh:    make(chan struct{}),
	}
}

// Start launches the process, wiring its notify socket and file watcher,
// and begins the supervision loop in the background.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	j.activity = j.bus.Start(activity.KindProcess, "")
	j.mu.Unlock()

	if j.cfg.Watch.Paths != nil {
		w, err := NewFileWatcher(j.cfg.Watch)
		if err != nil {
			return direrr.Process("failed to create file watcher", err)
		}
		j.mu.Lock()
		j.watcher = w
		j.mu.Unlock()
		w.Start()
	}

	var notifyEnabled bool
	j.mu.Lock()
	notifyEnabled = j.cfg.Notify != nil && j.cfg.Notify.Enable
	j.mu.Unlock()
	if notifyEnabled {
		sockPath := filepath.Join(j.stateDir, "notify", j.cfg.Name+".sock")
		if err := os.MkdirAll(filepath.Dir(sockPath), 0755); err != nil {
			return direrr.Process("failed to create notify socket directory", err)
		}
		ns, err := ListenNotify(sockPath)
		if err != nil {
			return err
		}
		j.mu.Lock()
		j.notify = ns
		j.mu.Unlock()
	}

	if err := j.spawn(); err != nil {
		return err
	}

	go j.supervise(ctx)
	return nil
}

func (j *Job) spawn() error {
	logPath := LogFilePath(j.stateDir, j.cfg.Name)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return direrr.Process("failed to create process log directory", err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return direrr.Process("failed to truncate process log file", err)
	}

	name, args := BuildCommand(j.cfg)
	cmd := exec.Command(name, args...)
	cmd.Dir = j.cfg.Cwd
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	extraEnv := map[string]string{}
	j.mu.Lock()
	if j.notify != nil {
		extraEnv["NOTIFY_SOCKET"] = j.notify.Path()
	}
	if j.cfg.Watchdog != nil {
		extraEnv["WATCHDOG_USEC"] = fmt.Sprintf("%d", j.cfg.Watchdog.USec)
	}
	j.mu.Unlock()
	cmd.Env = ProcessEnv(j.cfg, extraEnv)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return direrr.Process("failed to start process "+j.cfg.Name, err)
	}

	j.mu.Lock()
	j.cmd = cmd
	j.mu.Unlock()
	return nil
}

// supervise runs the five-way select loop: shutdown, file-watch restart,
// notify-socket message, watchdog deadline, and process termination
// (grounded on the original manager's supervision task).
func (j *Job) supervise(ctx context.Context) {
	defer close(j.doneCh)
	log := logging.Get(logging.CategoryProcess)

	exitCh := j.waitExit()
	watchRestarts := j.watchRestartChannel()
	var notifyCh chan NotifyMessage
	if j.notify != nil {
		notifyCh = j.notifyLoop()
	}

	var watchdogTimer *time.Timer
	var watchdogCh <-chan time.Time
	requireReady := j.cfg.Watchdog != nil && j.cfg.Watchdog.RequireReady
	ready := !requireReady
	if ready {
		if j.notify == nil && len(j.cfg.Listen) == 0 {
			j.signalReady()
		}
		watchdogTimer, watchdogCh = j.armWatchdog()
	}
	go j.startReadinessProbe()

	for {
		select {
		case <-j.shutdownCh:
			log.Info("shutdown requested for %s", j.cfg.Name)
			return

		case <-watchRestarts:
			log.Info("file change detected for %s, restarting", j.cfg.Name)
			j.activity.Log(activity.LevelInfo, "file change detected, restarting")
			j.terminateCurrent()
			time.Sleep(restartGraceWait)
			if err := j.spawn(); err != nil {
				log.Error("restart after file change failed for %s: %v", j.cfg.Name, err)
				j.activity.Failure(err.Error())
				return
			}
			exitCh = j.waitExit()
			ready = !requireReady
			if ready {
				watchdogTimer, watchdogCh = j.armWatchdog()
			}

		case msg := <-notifyCh:
			switch msg.Tag {
			case NotifyReady:
				ready = true
				j.signalReady()
				watchdogTimer, watchdogCh = j.armWatchdog()
			case NotifyWatchdog:
				if watchdogTimer != nil {
					watchdogTimer.Reset(watchdogInterval(j.cfg.Watchdog.USec))
				}
			case NotifyStopping, NotifyReloading, NotifyStatus:
				j.activity.Log(activity.LevelDebug, string(msg.Tag)+": "+msg.Status)
			}

		case <-watchdogCh:
			log.Warn("watchdog timeout for %s", j.cfg.Name)
			j.activity.Log(activity.LevelError, "watchdog timeout, no heartbeat received")
			if !j.shouldRestart(true) {
				j.activity.Failure("max restarts reached after watchdog timeout")
				return
			}
			j.restartCount++
			j.terminateCurrent()
			if err := j.spawn(); err != nil {
				j.activity.Failure(err.Error())
				return
			}
			exitCh = j.waitExit()
			ready = !requireReady
			if ready {
				watchdogTimer, watchdogCh = j.armWatchdog()
			}

		case err := <-exitCh:
			failed := err != nil
			if !j.shouldRestartOnExit(failed) {
				if failed {
					j.activity.Failure(fmt.Sprintf("exited: %v", err))
				} else {
					j.activity.Success()
				}
				return
			}
			j.restartCount++
			log.Info("restarting %s (attempt %d)", j.cfg.Name, j.restartCount)
			j.activity.Log(activity.LevelInfo, fmt.Sprintf("restarting (attempt %d)", j.restartCount))
			if err := j.spawn(); err != nil {
				j.activity.Failure(err.Error())
				return
			}
			exitCh = j.waitExit()
			ready = !requireReady
			if ready {
				watchdogTimer, watchdogCh = j.armWatchdog()
			}
		}
	}
}

func (j *Job) shouldRestart(watchdogTimeout bool) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cfg.MaxRestarts > 0 && j.restartCount >= j.cfg.MaxRestarts {
		return false
	}
	return true
}

func (j *Job) shouldRestartOnExit(failed bool) bool {
	switch j.cfg.Restart {
	case RestartAlways:
		return j.shouldRestart(false)
	case RestartOnFailure:
		return failed && j.shouldRestart(false)
	default:
		return false
	}
}

func (j *Job) waitExit() chan error {
	ch := make(chan error, 1)
	j.mu.Lock()
	cmd := j.cmd
	j.mu.Unlock()
	go func() {
		ch <- cmd.Wait()
	}()
	return ch
}

func (j *Job) watchRestartChannel() <-chan struct{} {
	j.mu.Lock()
	w := j.watcher
	j.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Restarts
}

func (j *Job) notifyLoop() chan NotifyMessage {
	out := make(chan NotifyMessage, 8)
	go func() {
		for {
			msg, err := j.notify.Recv(time.Time{})
			if err != nil {
				return
			}
			select {
			case out <- msg:
			case <-j.shutdownCh:
				return
			}
		}
	}()
	return out
}

func (j *Job) armWatchdog() (*time.Timer, <-chan time.Time) {
	if j.cfg.Watchdog == nil {
		return nil, nil
	}
	t := time.NewTimer(watchdogInterval(j.cfg.Watchdog.USec))
	return t, t.C
}

func (j *Job) signalReady() {
	j.readyOnce.Do(func() { close(j.readyCh) })
	if j.activity != nil {
		j.activity.Success()
	}
}

// startReadinessProbe connects to the first declared TCP listen address
// when no notify socket is configured, signalling readiness on success.
func (j *Job) startReadinessProbe() {
	if j.notify != nil || len(j.cfg.Listen) == 0 {
		return
	}
	addr := j.cfg.Listen[0].Addr
	for {
		select {
		case <-j.shutdownCh:
			return
		case <-j.readyCh:
			return
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			j.signalReady()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Ready blocks until the process signals readiness or the context expires.
func (j *Job) Ready(ctx context.Context) error {
	select {
	case <-j.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) terminateCurrent() {
	j.mu.Lock()
	cmd := j.cmd
	j.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	done := make(chan struct{})
	go func() { cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}
}

// Stop signals the supervision loop to exit and terminates the running
// process with a grace period before escalating to SIGKILL.
func (j *Job) Stop() {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return
	}
	j.stopped = true
	j.mu.Unlock()

	close(j.shutdownCh)
	<-j.doneCh

	j.mu.Lock()
	cmd := j.cmd
	watcher := j.watcher
	notify := j.notify
	j.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		done := make(chan struct{})
		go func() { cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(stopGraceTimeout):
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-done
		}
	}
	if watcher != nil {
		watcher.Stop()
	}
	if notify != nil {
		notify.Close()
	}
	if j.activity != nil {
		j.activity.Cancel()
	}
}

// TailLog opens the process's log file for reading from the beginning,
// for CLI commands that display recent output.
func (j *Job) TailLog() (*bufio.Scanner, func() error, error) {
	f, err := os.Open(LogFilePath(j.stateDir, j.cfg.Name))
	if err != nil {
		return nil, nil, err
	}
	return bufio.NewScanner(f), f.Close, nil
}
