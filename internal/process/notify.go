package process

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/devenv-go/devenv/internal/direrr"
)

// NotifyTag classifies a single KEY=VALUE datagram received on a
// process's readiness socket (a systemd-notify-style protocol; spec §4.5
// "Notify").
type NotifyTag string

const (
	NotifyReady     NotifyTag = "ready"
	NotifyWatchdog  NotifyTag = "watchdog"
	NotifyStatus    NotifyTag = "status"
	NotifyStopping  NotifyTag = "stopping"
	NotifyReloading NotifyTag = "reloading"
	NotifyUnknown   NotifyTag = "unknown"
)

// NotifyMessage is one parsed datagram. Only the field matching Tag is
// populated.
type NotifyMessage struct {
	Tag    NotifyTag
	Status string
}

// ParseNotifyMessage decodes a newline-delimited KEY=VALUE datagram body.
// A single datagram may carry more than one KEY=VALUE pair; pairs are
// read in order and the first recognized key wins, so later pairs in the
// same datagram are ignored.
func ParseNotifyMessage(data []byte) NotifyMessage {
	msg := NotifyMessage{Tag: NotifyUnknown}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "READY":
			if v == "1" {
				msg.Tag = NotifyReady
			}
		case "WATCHDOG":
			if v == "1" {
				msg.Tag = NotifyWatchdog
			}
		case "STOPPING":
			if v == "1" {
				msg.Tag = NotifyStopping
			}
		case "RELOADING":
			if v == "1" {
				msg.Tag = NotifyReloading
			}
		case "STATUS":
			msg.Tag = NotifyStatus
			msg.Status = v
		}
		if msg.Tag != NotifyUnknown {
			return msg
		}
	}
	return msg
}

// NotifySocket listens for readiness datagrams from a supervised process
// on a per-job Unix datagram socket.
type NotifySocket struct {
	path string
	conn *net.UnixConn
}

// ListenNotify binds a fresh Unix datagram socket at path, removing any
// stale socket file left behind by a crashed prior run.
func ListenNotify(path string) (*NotifySocket, error) {
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, direrr.Process("failed to resolve notify socket address", err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, direrr.Process("failed to bind notify socket", err)
	}
	return &NotifySocket{path: path, conn: conn}, nil
}

// Path returns the bound socket path, suitable for NOTIFY_SOCKET.
func (n *NotifySocket) Path() string { return n.path }

// Recv reads one datagram, blocking until one arrives, the deadline
// elapses, or the socket is closed.
func (n *NotifySocket) Recv(deadline time.Time) (NotifyMessage, error) {
	if !deadline.IsZero() {
		_ = n.conn.SetReadDeadline(deadline)
	}
	buf := make([]byte, 4096)
	n_, _, err := n.conn.ReadFromUnix(buf)
	if err != nil {
		return NotifyMessage{}, err
	}
	return ParseNotifyMessage(buf[:n_]), nil
}

func (n *NotifySocket) Close() error {
	err := n.conn.Close()
	_ = os.Remove(n.path)
	return err
}

func watchdogInterval(usec int64) time.Duration {
	// systemd convention: the supervisor enforces the full advertised
	// interval while processes ping at about half of it, so a process
	// notifying right at its own deadline is not flagged as unresponsive.
	return time.Duration(usec) * time.Microsecond
}

func parsePortFromAddr(addr string) (int, bool) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, false
	}
	return port, true
}
