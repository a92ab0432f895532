package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bindwire/devicebridge/pkg/errors"
	"github.com/bindwire/devicebridge/pkg/registry"
	"github.com/bindwire/devicebridge/pkg/transport"
)

// fakeDevice is the far end of a pipe transport, playing the device's role
// in a test scenario.
type fakeDevice struct {
	t   *testing.T
	end *transport.Pipe
}

func (d *fakeDevice) recv() *transport.JSONRPCMessage {
	d.t.Helper()
	select {
	case frame, ok := <-d.end.Frames():
		require.True(d.t, ok, "device transport closed")
		var msg transport.JSONRPCMessage
		require.NoError(d.t, json.Unmarshal(frame, &msg))
		return &msg
	case <-time.After(2 * time.Second):
		d.t.Fatal("no frame reached the device")
		return nil
	}
}

func (d *fakeDevice) send(msg *transport.JSONRPCMessage) {
	d.t.Helper()
	frame, err := json.Marshal(msg)
	require.NoError(d.t, err)
	require.NoError(d.t, d.end.Write(context.Background(), frame))
}

func (d *fakeDevice) respond(id interface{}, result any) {
	d.t.Helper()
	msg, err := transport.NewResponseMessage(id, result)
	require.NoError(d.t, err)
	d.send(msg)
}

// newBridgeWithDevice wires a registry, a bridge and one attached device.
func newBridgeWithDevice(t *testing.T, callTimeout time.Duration) (*Bridge, *fakeDevice) {
	t.Helper()

	reg := registry.NewRegistry(time.Hour)
	t.Cleanup(reg.Stop)
	b := NewBridge(reg, callTimeout)

	server, device := transport.NewPipe()
	reg.Register("D1", uuid.New(), server)
	b.Attach("D1", server)

	return b, &fakeDevice{t: t, end: device}
}

func TestListTools(t *testing.T) {
	t.Parallel()

	b, dev := newBridgeWithDevice(t, 0)

	go func() {
		req := dev.recv()
		assert.Equal(t, MethodToolsList, req.Method)
		dev.respond(req.ID, map[string]any{
			"tools": []map[string]any{{
				"name":        "screen_tap",
				"description": "Tap at coordinates",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"x": map[string]any{"type": "number"},
						"y": map[string]any{"type": "number"},
					},
					"required": []string{"x", "y"},
				},
			}},
		})
	}()

	tools, err := b.ListTools(context.Background(), "D1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "screen_tap", tools[0].Name)
	assert.Equal(t, "Tap at coordinates", tools[0].Description)
	assert.Equal(t, "object", tools[0].InputSchema["type"])
	assert.Contains(t, tools[0].InputSchema, "properties")
}

func TestCallTool(t *testing.T) {
	t.Parallel()

	b, dev := newBridgeWithDevice(t, 0)

	go func() {
		req := dev.recv()
		assert.Equal(t, MethodToolsCall, req.Method)

		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		assert.NoError(t, json.Unmarshal(req.Params, &params))
		assert.Equal(t, "screen_tap", params.Name)
		assert.Equal(t, float64(10), params.Arguments["x"])

		dev.respond(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": "tapped"}},
			"isError": false,
		})
	}()

	res, err := b.CallTool(context.Background(), "D1", "screen_tap", map[string]any{"x": 10, "y": 20})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)
	assert.Equal(t, "tapped", res.Content[0].Text)
	assert.False(t, res.IsError)
}

func TestCallToolRemoteError(t *testing.T) {
	t.Parallel()

	b, dev := newBridgeWithDevice(t, 0)

	go func() {
		req := dev.recv()
		msg, err := transport.NewErrorMessage(req.ID, -32601, "no such tool", nil)
		require.NoError(t, err)
		dev.send(msg)
	}()

	_, err := b.CallTool(context.Background(), "D1", "bogus", nil)
	assert.True(t, errors.IsRemote(err), "want remote error, got %v", err)
}

func TestCallToolDeviceNotConnected(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(time.Hour)
	t.Cleanup(reg.Stop)
	b := NewBridge(reg, 0)

	// A never-connected device must fail fast, not wait out a timeout.
	start := time.Now()
	_, err := b.CallTool(context.Background(), "ghost", "anything", nil)
	assert.True(t, errors.IsDeviceNotConnected(err))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestConcurrentCallsResolveOutOfOrder(t *testing.T) {
	t.Parallel()

	b, dev := newBridgeWithDevice(t, 0)

	// The device answers the two calls in reverse arrival order; each
	// caller must still receive its own result.
	go func() {
		first := dev.recv()
		second := dev.recv()

		for _, req := range []*transport.JSONRPCMessage{second, first} {
			var params struct {
				Arguments map[string]any `json:"arguments"`
			}
			assert.NoError(t, json.Unmarshal(req.Params, &params))
			dev.respond(req.ID, map[string]any{
				"content": []map[string]any{{
					"type": "text",
					"text": params.Arguments["tag"],
				}},
			})
		}
	}()

	var wg sync.WaitGroup
	for _, tag := range []string{"call-a", "call-b"} {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			res, err := b.CallTool(context.Background(), "D1", "echo", map[string]any{"tag": tag})
			assert.NoError(t, err)
			if err == nil {
				assert.Equal(t, tag, res.Content[0].Text)
			}
		}(tag)
	}
	wg.Wait()
}

func TestCallTimeoutAndStaleResponseDropped(t *testing.T) {
	t.Parallel()

	b, dev := newBridgeWithDevice(t, 100*time.Millisecond)

	// Hold the request until after the caller's deadline.
	reqCh := make(chan *transport.JSONRPCMessage, 1)
	go func() { reqCh <- dev.recv() }()

	_, err := b.CallTool(context.Background(), "D1", "slow", nil)
	assert.True(t, errors.IsRequestTimeout(err), "want timeout, got %v", err)

	// The late response for the timed-out id must be dropped, and must not
	// interfere with the next call.
	stale := <-reqCh
	dev.respond(stale.ID, map[string]any{
		"content": []map[string]any{{"type": "text", "text": "too late"}},
	})

	go func() {
		req := dev.recv()
		dev.respond(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": "fresh"}},
		})
	}()

	res, err := b.CallTool(context.Background(), "D1", "fast", nil)
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Content[0].Text)
}

func TestDisconnectFailsPendingCalls(t *testing.T) {
	t.Parallel()

	b, dev := newBridgeWithDevice(t, 10*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := b.CallTool(context.Background(), "D1", "never", nil)
		done <- err
	}()

	// Wait for the request to be in flight, then drop the connection.
	dev.recv()
	require.NoError(t, dev.end.Close())

	select {
	case err := <-done:
		// Resolved by the disconnect, well before the 10s deadline.
		assert.True(t, errors.IsDeviceDisconnected(err), "want disconnect, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not resolved on disconnect")
	}

	// The registry entry is gone too.
	_, err := b.CallTool(context.Background(), "D1", "after", nil)
	assert.True(t, errors.IsDeviceNotConnected(err))
}

func TestDevicePingIsAnswered(t *testing.T) {
	t.Parallel()

	_, dev := newBridgeWithDevice(t, 0)

	ping, err := transport.NewRequestMessage("ping", nil, "hb-1")
	require.NoError(t, err)
	dev.send(ping)

	pong := dev.recv()
	assert.True(t, pong.IsResponse())
	key, _ := transport.CorrelationKey(pong.ID)
	assert.Equal(t, "hb-1", key)
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	t.Parallel()

	b, dev := newBridgeWithDevice(t, 0)

	require.NoError(t, dev.end.Write(context.Background(), []byte("not json")))

	go func() {
		req := dev.recv()
		dev.respond(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": "still alive"}},
		})
	}()

	res, err := b.CallTool(context.Background(), "D1", "probe", nil)
	require.NoError(t, err)
	assert.Equal(t, "still alive", res.Content[0].Text)
}
