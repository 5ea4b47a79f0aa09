// Package push implements the artifact push pipeline: a streaming client
// that queues content-addressed store paths to a long-lived push daemon
// over a Unix-domain socket, consuming a positional-array event protocol
// with automatic reconnection (spec §4.4).
package push

import (
	"encoding/json"
	"regexp"
	"strings"
)

// EventTag names the inner push-event variant (spec §3 "Push event").
type EventTag string

const (
	TagPushStarted        EventTag = "PushStarted"
	TagPushFinished       EventTag = "PushFinished"
	TagStorePathAttempt   EventTag = "PushStorePathAttempt"
	TagStorePathProgress  EventTag = "PushStorePathProgress"
	TagStorePathDone      EventTag = "PushStorePathDone"
	TagStorePathFailed    EventTag = "PushStorePathFailed"
	TagUnknown            EventTag = "Unknown"
)

// Event is one decoded push event, normalised from the wire's positional
// arrays into named fields.
type Event struct {
	Tag        EventTag
	Path       string
	NarSize    int64
	RetryCount int
	Current    int64
	Delta      int64
	Reason     string
}

// clientPushRequest is what the client sends (spec §6 "Daemon wire format").
type clientPushRequest struct {
	Tag      string                  `json:"tag"`
	Contents pushRequestContents    `json:"contents"`
}

type pushRequestContents struct {
	StorePaths         []string `json:"storePaths"`
	SubscribeToUpdates bool     `json:"subscribeToUpdates"`
}

// EncodeRequest builds the ClientPushRequest line (without trailing
// newline) for a batch of store paths.
func EncodeRequest(storePaths []string) ([]byte, error) {
	req := clientPushRequest{
		Tag: "ClientPushRequest",
		Contents: pushRequestContents{
			StorePaths:         storePaths,
			SubscribeToUpdates: true,
		},
	}
	return json.Marshal(req)
}

// envelope is the top-level daemon→client message shape.
type envelope struct {
	Tag      string          `json:"tag"`
	Contents json.RawMessage `json:"contents"`
}

type pushEventEnvelope struct {
	EventTimestamp json.RawMessage `json:"eventTimestamp"`
	EventPushID    json.RawMessage `json:"eventPushId"`
	EventMessage   innerEvent      `json:"eventMessage"`
}

type innerEvent struct {
	Tag      string          `json:"tag"`
	Contents json.RawMessage `json:"contents"`
}

type retryCountField struct {
	RetryCount int `json:"retryCount"`
}

// ParseLine decodes one line of the daemon wire protocol. ok is false for
// any non-push envelope tag (e.g. "DaemonPong"), which must be silently
// skipped without affecting progress accounting (spec §4.4 "Parsing
// rules").
func ParseLine(line []byte) (Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Event{}, false, err
	}
	if env.Tag != "DaemonPushEvent" {
		return Event{}, false, nil
	}

	var pe pushEventEnvelope
	if err := json.Unmarshal(env.Contents, &pe); err != nil {
		return Event{}, false, err
	}

	return parseInner(pe.EventMessage), true, nil
}

func parseInner(inner innerEvent) Event {
	switch EventTag(inner.Tag) {
	case TagPushStarted:
		return Event{Tag: TagPushStarted}
	case TagPushFinished:
		return Event{Tag: TagPushFinished}
	case TagStorePathAttempt:
		var args []json.RawMessage
		if json.Unmarshal(inner.Contents, &args) == nil && len(args) >= 3 {
			var path string
			var narSize int64
			var rc retryCountField
			_ = json.Unmarshal(args[0], &path)
			_ = json.Unmarshal(args[1], &narSize)
			_ = json.Unmarshal(args[2], &rc)
			return Event{Tag: TagStorePathAttempt, Path: path, NarSize: narSize, RetryCount: rc.RetryCount}
		}
	case TagStorePathProgress:
		var args []json.RawMessage
		if json.Unmarshal(inner.Contents, &args) == nil && len(args) >= 3 {
			var path string
			var current, delta int64
			_ = json.Unmarshal(args[0], &path)
			_ = json.Unmarshal(args[1], &current)
			_ = json.Unmarshal(args[2], &delta)
			return Event{Tag: TagStorePathProgress, Path: path, Current: current, Delta: delta}
		}
	case TagStorePathDone:
		var args []json.RawMessage
		if json.Unmarshal(inner.Contents, &args) == nil && len(args) >= 1 {
			var path string
			_ = json.Unmarshal(args[0], &path)
			return Event{Tag: TagStorePathDone, Path: path}
		}
	case TagStorePathFailed:
		var args []json.RawMessage
		if json.Unmarshal(inner.Contents, &args) == nil && len(args) >= 2 {
			var path, reason string
			_ = json.Unmarshal(args[0], &path)
			_ = json.Unmarshal(args[1], &reason)
			return Event{Tag: TagStorePathFailed, Path: path, Reason: reason}
		}
	}
	return Event{Tag: TagUnknown}
}

var storeHashPrefix = regexp.MustCompile(`^/nix/store/[0-9a-z]{32}-`)

// ShortName extracts a display-friendly name from a full store path:
// "/nix/store/<32-hex-char-hash>-<name>" → "<name>" (spec §4.4 "Ordering").
func ShortName(path string) string {
	if loc := storeHashPrefix.FindStringIndex(path); loc != nil {
		return path[loc[1]:]
	}
	return strings.TrimPrefix(path, "/nix/store/")
}
