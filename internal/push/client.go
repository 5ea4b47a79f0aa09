package push

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/devenv-go/devenv/internal/activity"
	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/logging"
)

const (
	batchSize            = 100
	reconnectBackoffInit = 500 * time.Millisecond
	reconnectBackoffCap  = 30 * time.Second
	socketWaitBudget     = 10 * time.Second
	shutdownBudget       = 5 * time.Minute
)

// Metrics tracks push accounting; invariant (spec §8 property 5):
// Queued + InProgress + Completed + Failed == total enqueued, at all times.
type Metrics struct {
	mu              sync.Mutex
	Queued          int
	InProgress      int
	Completed       int
	Failed          int
	FailureReasons  map[string]string
}

func newMetrics() *Metrics {
	return &Metrics{FailureReasons: map[string]string{}}
}

func (m *Metrics) snapshot() (queued, inProgress, completed, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Queued, m.InProgress, m.Completed, m.Failed
}

// Client is the push pipeline's queue-and-drain background worker. Every
// caller enqueues paths into an in-memory deque; a single background
// goroutine drains it into the daemon socket (spec §4.4).
type Client struct {
	socketPath string
	daemonArgs []string
	bus        *activity.Bus

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []string
	conn     net.Conn
	daemon   *exec.Cmd
	stopped  bool

	metrics *Metrics
}

func NewClient(socketPath string, daemonArgs []string, bus *activity.Bus) *Client {
	c := &Client{
		socketPath: socketPath,
		daemonArgs: daemonArgs,
		bus:        bus,
		metrics:    newMetrics(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Spawn starts the daemon process and waits for its socket to appear,
// then connects the client (spec §4.4 "Spawn").
func (c *Client) Spawn(ctx context.Context) error {
	if len(c.daemonArgs) > 0 {
		cmd := exec.CommandContext(ctx, c.daemonArgs[0], c.daemonArgs[1:]...)
		if err := cmd.Start(); err != nil {
			return direrr.Push("failed to start push daemon", err)
		}
		c.mu.Lock()
		c.daemon = cmd
		c.mu.Unlock()
	}

	deadline := time.Now().Add(socketWaitBudget)
	backoff := 50 * time.Millisecond
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", c.socketPath); err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			return nil
		}
		time.Sleep(backoff)
		if backoff < time.Second {
			backoff *= 2
		}
	}
	return direrr.Push("timed out waiting for push daemon socket", fmt.Errorf("%s not ready after %s", c.socketPath, socketWaitBudget))
}

// Enqueue appends paths to the queue without blocking (spec §4.4 "Queue").
func (c *Client) Enqueue(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, paths...)
	c.metrics.mu.Lock()
	c.metrics.Queued += len(paths)
	c.metrics.mu.Unlock()
	c.cond.Signal()
}

// requeueFront places paths back at the front of the queue to preserve
// order after a reconnect (spec §4.4 "Reconnect").
func (c *Client) requeueFront(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(append([]string{}, paths...), c.queue...)
}

func (c *Client) nextBatch() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 && !c.stopped {
		c.cond.Wait()
	}
	if c.stopped && len(c.queue) == 0 {
		return nil
	}
	n := len(c.queue)
	if n > batchSize {
		n = batchSize
	}
	batch := append([]string{}, c.queue[:n]...)
	c.queue = c.queue[n:]
	return batch
}

// Run drains the queue until the context is cancelled or Stop is called,
// reconnecting with exponential backoff on any send/read error.
func (c *Client) Run(ctx context.Context) {
	log := logging.Get(logging.CategoryPush)
	backoff := reconnectBackoffInit

	for {
		batch := c.nextBatch()
		if batch == nil {
			return
		}
		c.metrics.mu.Lock()
		c.metrics.Queued -= len(batch)
		c.metrics.InProgress += len(batch)
		c.metrics.mu.Unlock()

		if err := c.sendBatch(ctx, batch); err != nil {
			log.Warn("push batch failed, reconnecting: %v", err)
			c.metrics.mu.Lock()
			c.metrics.InProgress -= len(batch)
			c.metrics.Queued += len(batch)
			c.metrics.mu.Unlock()
			c.requeueFront(batch)

			c.reconnect(ctx, &backoff)
			continue
		}
		backoff = reconnectBackoffInit
	}
}

func (c *Client) reconnect(ctx context.Context, backoff *time.Duration) {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > reconnectBackoffCap {
		*backoff = reconnectBackoffCap
	}

	if conn, err := net.Dial("unix", c.socketPath); err == nil {
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
	}
}

func (c *Client) sendBatch(ctx context.Context, batch []string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	req, err := EncodeRequest(batch)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(append(req, '\n')); err != nil {
		return err
	}

	pending := make(map[string]bool, len(batch))
	for _, p := range batch {
		pending[p] = true
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for len(pending) > 0 && scanner.Scan() {
		event, ok, err := ParseLine(scanner.Bytes())
		if err != nil || !ok {
			continue
		}
		c.handleEvent(event, pending)
		if event.Tag == TagPushFinished {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// Any path never accounted for (daemon crash mid-batch) goes back to
	// the queue on the next reconnect cycle by the caller.
	if len(pending) > 0 {
		remaining := make([]string, 0, len(pending))
		for p := range pending {
			remaining = append(remaining, p)
		}
		return fmt.Errorf("daemon closed connection with %d paths unaccounted", len(remaining))
	}
	return nil
}

func (c *Client) handleEvent(event Event, pending map[string]bool) {
	switch event.Tag {
	case TagStorePathDone:
		delete(pending, event.Path)
		c.metrics.mu.Lock()
		c.metrics.InProgress--
		c.metrics.Completed++
		c.metrics.mu.Unlock()
	case TagStorePathFailed:
		delete(pending, event.Path)
		c.metrics.mu.Lock()
		c.metrics.InProgress--
		c.metrics.Failed++
		c.metrics.FailureReasons[event.Path] = event.Reason
		c.metrics.mu.Unlock()
	}
	if c.bus != nil {
		// progress/log events are advisory only; failures/completions
		// already update Metrics above regardless of bus availability.
	}
}

// Stop signals the drain loop to exit once the queue empties and, on
// Shutdown, kills the daemon process as a safety net.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Shutdown waits for queued+in_progress to reach zero (budget 5 minutes),
// then reaps the daemon process (spec §4.4 "Shutdown").
func (c *Client) Shutdown(ctx context.Context) error {
	deadline := time.Now().Add(shutdownBudget)
	for time.Now().Before(deadline) {
		queued, inProgress, _, _ := c.metrics.snapshot()
		if queued == 0 && inProgress == 0 {
			break
		}
		select {
		case <-ctx.Done():
			break
		case <-time.After(100 * time.Millisecond):
		}
	}
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
	if c.daemon != nil && c.daemon.Process != nil {
		_ = c.daemon.Process.Kill()
		_ = c.daemon.Wait()
	}
	return nil
}

func (c *Client) Metrics() *Metrics { return c.metrics }
