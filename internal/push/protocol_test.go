package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S3 — daemon event parsing.
func TestParseLine_StorePathAttempt(t *testing.T) {
	line := []byte(`{"tag":"DaemonPushEvent","contents":{"eventTimestamp":"123","eventPushId":"abc","eventMessage":{"tag":"PushStorePathAttempt","contents":["/nix/store/abc-pkg",1024,{"retryCount":3}]}}}`)

	event, ok, err := ParseLine(line)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TagStorePathAttempt, event.Tag)
	assert.Equal(t, "/nix/store/abc-pkg", event.Path)
	assert.Equal(t, int64(1024), event.NarSize)
	assert.Equal(t, 3, event.RetryCount)
}

func TestParseLine_NonPushEnvelopeIgnored(t *testing.T) {
	line := []byte(`{"tag":"DaemonPong","contents":{}}`)
	_, ok, err := ParseLine(line)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseLine_UnknownInnerTagBecomesUnknown(t *testing.T) {
	line := []byte(`{"tag":"DaemonPushEvent","contents":{"eventTimestamp":"1","eventPushId":"1","eventMessage":{"tag":"SomethingNew","contents":[]}}}`)
	event, ok, err := ParseLine(line)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TagUnknown, event.Tag)
}

func TestParseLine_StorePathDoneAndFailed(t *testing.T) {
	done := []byte(`{"tag":"DaemonPushEvent","contents":{"eventTimestamp":"1","eventPushId":"1","eventMessage":{"tag":"PushStorePathDone","contents":["/nix/store/xyz-thing"]}}}`)
	event, ok, err := ParseLine(done)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TagStorePathDone, event.Tag)
	assert.Equal(t, "/nix/store/xyz-thing", event.Path)

	failed := []byte(`{"tag":"DaemonPushEvent","contents":{"eventTimestamp":"1","eventPushId":"1","eventMessage":{"tag":"PushStorePathFailed","contents":["/nix/store/xyz-thing","signature missing"]}}}`)
	event, ok, err = ParseLine(failed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TagStorePathFailed, event.Tag)
	assert.Equal(t, "signature missing", event.Reason)
}

func TestShortName_StripsHashPrefix(t *testing.T) {
	assert.Equal(t, "pkg-1.0", ShortName("/nix/store/0123456789abcdef0123456789abcdef-pkg-1.0"))
}

func TestEncodeRequest_ShapesClientPushRequest(t *testing.T) {
	data, err := EncodeRequest([]string{"/nix/store/a", "/nix/store/b"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tag":"ClientPushRequest"`)
	assert.Contains(t, string(data), `"subscribeToUpdates":true`)
}
