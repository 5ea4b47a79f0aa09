package push

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

// fakeDaemon accepts one connection, reads a ClientPushRequest, and
// replies with a PushStorePathDone event per store path plus PushFinished.
// Uses nettest's local-listener harness rather than a hand-picked path,
// the same portable-unix-socket idiom as the rest of the pack.
func fakeDaemon(t *testing.T) (socketPath string, stop func()) {
	t.Helper()
	ln, err := nettest.NewLocalListener("unix")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		if !scanner.Scan() {
			return
		}
		var req struct {
			Contents struct {
				StorePaths []string `json:"storePaths"`
			} `json:"contents"`
		}
		_ = json.Unmarshal(scanner.Bytes(), &req)

		for _, path := range req.Contents.StorePaths {
			line, _ := json.Marshal(map[string]any{
				"tag": "DaemonPushEvent",
				"contents": map[string]any{
					"eventTimestamp": "1",
					"eventPushId":    "1",
					"eventMessage": map[string]any{
						"tag":      "PushStorePathDone",
						"contents": []any{path},
					},
				},
			})
			conn.Write(append(line, '\n'))
		}
		finished, _ := json.Marshal(map[string]any{
			"tag": "DaemonPushEvent",
			"contents": map[string]any{
				"eventTimestamp": "1",
				"eventPushId":    "1",
				"eventMessage":   map[string]any{"tag": "PushFinished", "contents": []any{}},
			},
		})
		conn.Write(append(finished, '\n'))
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func TestClient_EnqueueAndDrainAccountsForAllPaths(t *testing.T) {
	socketPath, stop := fakeDaemon(t)
	defer stop()

	client := NewClient(socketPath, nil, nil)
	require.NoError(t, client.Spawn(context.Background()))

	paths := []string{}
	for i := 0; i < 5; i++ {
		paths = append(paths, fmt.Sprintf("/nix/store/abc-%d", i))
	}
	client.Enqueue(paths)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		q, ip, completed, failed := client.Metrics().snapshot()
		if completed+failed == len(paths) && q == 0 && ip == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	q, ip, completed, failed := client.Metrics().snapshot()
	assert.Equal(t, 0, q)
	assert.Equal(t, 0, ip)
	assert.Equal(t, len(paths), completed+failed)

	client.Stop()
	<-done
}

func TestShortName_NoHashPrefix(t *testing.T) {
	assert.Equal(t, "not-a-store-path", ShortName("not-a-store-path"))
}
