// Package process implements the process supervisor: a per-project
// manager that spawns, monitors, restarts, and gracefully tears down
// declared long-running processes with readiness signalling, watchdog
// timeouts, and optional filesystem-triggered restarts (spec §4.5).
package process

// RestartPolicy controls whether a terminated job is restarted.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "onFailure"
)

// Watchdog configures the systemd-notify-style liveness deadline.
type Watchdog struct {
	USec          int64
	RequireReady  bool
}

// Notify opts a process into readiness notification over a Unix-domain
// datagram socket.
type Notify struct {
	Enable bool
}

// Listen is one TCP socket the process is expected to bind.
type Listen struct {
	Addr string
}

// Watch configures filesystem-triggered restarts.
type Watch struct {
	Paths      []string
	Extensions []string
	Ignore     []string
}

// Config is one declared process (spec §3 "Process config"). Invariants:
// each process has a unique name within a manager; log files are
// truncated at every start; readiness is signalled by either an explicit
// READY notification or, when Listen is set and Notify is not, a
// successful local TCP connect.
type Config struct {
	Name        string
	Exec        string
	Args        []string
	Env         map[string]string
	Cwd         string
	Restart     RestartPolicy
	MaxRestarts int // 0 means unlimited
	Notify      *Notify
	Watchdog    *Watchdog
	Listen      []Listen
	CapabilitiesAdd []string
	Watch       Watch
	UseSudo     bool
}
