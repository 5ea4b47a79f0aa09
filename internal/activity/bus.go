// Package activity implements the process-wide publish/subscribe channel
// that carries structured lifecycle events for every long operation:
// configuration assembly, evaluation, pushes, process supervision, and
// task runs. Subscribers are whatever registers through Subscribe; no
// package in this module subscribes, so events published with no
// subscriber are dropped. Subscribers never block a publisher; delivery
// is best-effort via buffered channels.
package activity

import (
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	KindOperation Kind = "operation"
	KindEvaluate  Kind = "evaluate"
	KindCommand   Kind = "command"
	KindBuild     Kind = "build"
	KindProcess   Kind = "process"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCached    Status = "cached"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusComplete  Status = "complete"
)

// Progress reports a done/expected pair with an optional unit label.
type Progress struct {
	Done     int64
	Expected int64
	Unit     string
}

// Event is one structured message published to the bus.
type Event struct {
	ActivityID string
	ParentID   string
	Kind       Kind
	Level      Level
	Status     Status
	Detail     string
	Progress   *Progress
}

// EventType distinguishes the lifecycle transitions a subscriber cares
// about, independent of the activity's current Status field.
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
	EventCached   EventType = "cached"
	EventSuccess  EventType = "success"
	EventFailure  EventType = "failure"
	EventCancel   EventType = "cancel"
	EventComplete EventType = "complete"
)

// Message is what actually travels over the bus: an event type plus the
// activity snapshot that produced it.
type Message struct {
	Type  EventType
	Event Event
}

// Bus is the process-wide publish/subscribe hub. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Message
	next int
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Message)}
}

// Subscribe registers a new buffered channel. The returned cancel func
// must be called to unsubscribe and release the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Message, buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *Bus) publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}

// Activity is a single structured, durable record of a long-running
// operation. Parent/child relationships are advisory only, for UI
// grouping; they never imply ownership or lifecycle coupling.
type Activity struct {
	bus      *Bus
	id       string
	parentID string
	kind     Kind

	mu     sync.Mutex
	status Status
}

// Start opens a new activity in the running state and publishes EventStart.
func (b *Bus) Start(kind Kind, parentID string) *Activity {
	a := &Activity{
		bus:      b,
		id:       uuid.NewString(),
		parentID: parentID,
		kind:     kind,
		status:   StatusRunning,
	}
	b.publish(Message{Type: EventStart, Event: a.snapshot("", nil)})
	return a
}

func (a *Activity) ID() string { return a.id }

func (a *Activity) snapshot(detail string, progress *Progress) Event {
	a.mu.Lock()
	status := a.status
	a.mu.Unlock()
	return Event{
		ActivityID: a.id,
		ParentID:   a.parentID,
		Kind:       a.kind,
		Status:     status,
		Detail:     detail,
		Progress:   progress,
	}
}

func (a *Activity) Progress(done, expected int64, unit string) {
	a.bus.publish(Message{Type: EventProgress, Event: a.snapshot("", &Progress{Done: done, Expected: expected, Unit: unit})})
}

func (a *Activity) Log(level Level, msg string) {
	e := a.snapshot(msg, nil)
	e.Level = level
	a.bus.publish(Message{Type: EventLog, Event: e})
}

func (a *Activity) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *Activity) Cached() {
	a.setStatus(StatusCached)
	a.bus.publish(Message{Type: EventCached, Event: a.snapshot("", nil)})
}

func (a *Activity) Success() {
	a.setStatus(StatusReady)
	a.bus.publish(Message{Type: EventSuccess, Event: a.snapshot("", nil)})
}

func (a *Activity) Failure(msg string) {
	a.setStatus(StatusFailed)
	a.bus.publish(Message{Type: EventFailure, Event: a.snapshot(msg, nil)})
}

func (a *Activity) Cancel() {
	a.setStatus(StatusCancelled)
	a.bus.publish(Message{Type: EventCancel, Event: a.snapshot("", nil)})
}

// Release marks the activity complete if no terminal status was already
// set, then emits Complete. It is safe, and expected, to call this via
// defer right after Start.
func (a *Activity) Release() {
	a.mu.Lock()
	if a.status == StatusRunning {
		a.status = StatusComplete
	} else if a.status != StatusComplete {
		// keep whatever terminal status was explicitly set (cached/failed/
		// cancelled/ready) but still emit the completion event below
	}
	a.mu.Unlock()
	a.bus.publish(Message{Type: EventComplete, Event: a.snapshot("", nil)})
}
