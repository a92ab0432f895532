package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageClassification(t *testing.T) {
	t.Parallel()

	req, err := NewRequestMessage("tools/list", nil, uint64(1))
	require.NoError(t, err)
	assert.True(t, req.IsRequest())
	assert.False(t, req.IsResponse())
	assert.NoError(t, req.Validate())

	resp, err := NewResponseMessage(uint64(1), map[string]string{"ok": "yes"})
	require.NoError(t, err)
	assert.True(t, resp.IsResponse())
	assert.False(t, resp.IsRequest())
	assert.NoError(t, resp.Validate())

	errMsg, err := NewErrorMessage(uint64(2), -32601, "method not found", nil)
	require.NoError(t, err)
	assert.True(t, errMsg.IsResponse())
	assert.NoError(t, errMsg.Validate())

	note, err := NewNotificationMessage("pairing/established", map[string]string{"device_id": "D1"})
	require.NoError(t, err)
	assert.True(t, note.IsNotification())
	assert.NoError(t, note.Validate())
}

func TestValidateRejectsWrongVersion(t *testing.T) {
	t.Parallel()

	msg := &JSONRPCMessage{JSONRPC: "1.0", Method: "tools/list", ID: 1}
	assert.Error(t, msg.Validate())
}

// A request id written as uint64 must land on the same correlation key after
// a JSON round trip, where encoding/json hands it back as float64.
func TestCorrelationKeySurvivesWire(t *testing.T) {
	t.Parallel()

	req, err := NewRequestMessage("tools/call", nil, uint64(42))
	require.NoError(t, err)
	sentKey, ok := CorrelationKey(req.ID)
	require.True(t, ok)

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var echoed JSONRPCMessage
	require.NoError(t, json.Unmarshal(data, &echoed))
	echoedKey, ok := CorrelationKey(echoed.ID)
	require.True(t, ok)

	assert.Equal(t, sentKey, echoedKey)
}

func TestCorrelationKeyVariants(t *testing.T) {
	t.Parallel()

	_, ok := CorrelationKey(nil)
	assert.False(t, ok)

	k, ok := CorrelationKey("req-7")
	require.True(t, ok)
	assert.Equal(t, "req-7", k)

	k, ok = CorrelationKey(float64(7))
	require.True(t, ok)
	assert.Equal(t, "7", k)

	k, ok = CorrelationKey(json.Number("7"))
	require.True(t, ok)
	assert.Equal(t, "7", k)
}
