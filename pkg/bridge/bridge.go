// Package bridge turns an inbound tool-execution request into a correlated
// JSON-RPC round trip over a device's transport. One read loop runs per
// attached transport; callers block on a per-request channel until a response
// frame, their deadline, or a disconnect resolves it, whichever comes first.
package bridge

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bindwire/devicebridge/pkg/errors"
	"github.com/bindwire/devicebridge/pkg/logger"
	"github.com/bindwire/devicebridge/pkg/registry"
	"github.com/bindwire/devicebridge/pkg/telemetry"
	"github.com/bindwire/devicebridge/pkg/transport"
)

// DefaultCallTimeout bounds one bridged call, same order as the heartbeat
// window so a dead device fails the call before the sweeper notices it.
const DefaultCallTimeout = 30 * time.Second

// MCP methods forwarded to devices.
const (
	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"
)

// Bridge correlates caller requests with device responses. It never retries
// and never reinterprets payloads; calls are forwarded verbatim and failures
// come back as typed errors for the caller to act on.
type Bridge struct {
	registry    *registry.Registry
	callTimeout time.Duration

	// nextID feeds JSON-RPC request ids. Process-wide, so an id never
	// repeats across devices either.
	nextID atomic.Uint64

	sessions *sessionTable
}

// NewBridge creates a bridge over the given registry. A non-positive timeout
// selects DefaultCallTimeout.
func NewBridge(reg *registry.Registry, callTimeout time.Duration) *Bridge {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Bridge{
		registry:    reg,
		callTimeout: callTimeout,
		sessions:    newSessionTable(),
	}
}

// Attach starts the read loop for a freshly registered transport. The gateway
// calls this right after registry.Register; the loop owns the transport's
// pending-request table until the transport dies.
func (b *Bridge) Attach(deviceID string, tr transport.Transport) {
	sess := newSession(deviceID, tr)
	b.sessions.put(tr, sess)
	go b.readLoop(sess)
}

// ListTools asks a device for its tool catalog.
func (b *Bridge) ListTools(ctx context.Context, deviceID string) ([]Tool, error) {
	resp, err := b.call(ctx, deviceID, MethodToolsList, nil)
	if err != nil {
		return nil, err
	}

	var listed mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &listed); err != nil {
		return nil, errors.NewProtocolError("malformed tools/list result", err)
	}

	tools := make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, toolFromMCP(t))
	}
	return tools, nil
}

// CallTool forwards one tool invocation to a device and waits for its result.
// Arguments pass through untouched; shaping them correctly is the caller's
// job.
func (b *Bridge) CallTool(ctx context.Context, deviceID, name string, arguments map[string]any) (*ToolCallResult, error) {
	params := mcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	}

	resp, err := b.call(ctx, deviceID, MethodToolsCall, params)
	if err != nil {
		return nil, err
	}

	parsed, err := mcp.ParseCallToolResult(&resp.Result)
	if err != nil {
		return nil, errors.NewProtocolError("malformed tools/call result", err)
	}
	return resultFromMCP(parsed), nil
}

// call runs one correlated round trip: fresh id, pending-table entry, frame
// write, then block until response, deadline or disconnect. Resolution is
// first-writer-wins exactly once; the loser's action is a no-op.
func (b *Bridge) call(ctx context.Context, deviceID, method string, params any) (*transport.JSONRPCMessage, error) {
	start := time.Now()
	resp, err := b.doCall(ctx, deviceID, method, params)

	telemetry.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	telemetry.RPCRequests.WithLabelValues(method, callResult(resp, err)).Inc()
	return resp, err
}

func (b *Bridge) doCall(ctx context.Context, deviceID, method string, params any) (*transport.JSONRPCMessage, error) {
	tr, err := b.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}
	sess, ok := b.sessions.get(tr)
	if !ok {
		// Registered but the read loop is already gone; treat like a
		// missing connection.
		return nil, errors.NewDeviceNotConnectedError(deviceID, nil)
	}

	id := b.nextID.Add(1)
	key, _ := transport.CorrelationKey(id)

	msg, err := transport.NewRequestMessage(method, params, id)
	if err != nil {
		return nil, errors.NewInternalError("failed to build request", err)
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode request", err)
	}

	ch, err := sess.register(key, method)
	if err != nil {
		return nil, errors.NewDeviceDisconnectedError(deviceID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	if err := tr.Write(ctx, frame); err != nil {
		sess.remove(key)
		return nil, errors.NewDeviceDisconnectedError(deviceID, err)
	}

	select {
	case out := <-ch:
		return b.finish(deviceID, out)
	case <-ctx.Done():
		// The deadline races the read loop. Whoever deletes the pending
		// entry first wins; if the response already claimed it, take the
		// response after all.
		if sess.remove(key) {
			return nil, errors.NewRequestTimeoutError(deviceID, ctx.Err())
		}
		out := <-ch
		return b.finish(deviceID, out)
	}
}

func (b *Bridge) finish(deviceID string, out outcome) (*transport.JSONRPCMessage, error) {
	if out.err != nil {
		return nil, errors.NewDeviceDisconnectedError(deviceID, out.err)
	}
	if out.msg.Error != nil {
		return nil, errors.NewRemoteError(out.msg.Error.Message, out.msg.Error)
	}
	return out.msg, nil
}

// readLoop consumes a transport until it dies: responses resolve pending
// requests by id, device-initiated pings get answered, anything else is
// logged and dropped. On exit every still-pending request fails with
// DeviceDisconnected and the registry entry for this transport is removed.
func (b *Bridge) readLoop(sess *session) {
	for frame := range sess.tr.Frames() {
		// Any inbound frame counts as liveness.
		_ = b.registry.Heartbeat(sess.deviceID)

		var msg transport.JSONRPCMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			logger.Warnw("dropping malformed frame",
				"device_id", sess.deviceID, "error", err)
			continue
		}

		switch {
		case msg.IsResponse():
			key, ok := transport.CorrelationKey(msg.ID)
			if !ok || !sess.resolve(key, &msg) {
				logger.Debugw("dropping stale response",
					"device_id", sess.deviceID, "id", msg.ID)
			}
		case msg.IsRequest() && msg.Method == "ping":
			b.answerPing(sess, msg.ID)
		case msg.IsNotification():
			logger.Debugw("ignoring device notification",
				"device_id", sess.deviceID, "method", msg.Method)
		default:
			logger.Warnw("dropping uncorrelatable frame",
				"device_id", sess.deviceID, "method", msg.Method, "id", msg.ID)
		}
	}

	sess.fail(errors.NewDeviceDisconnectedError(sess.deviceID, nil))
	b.sessions.drop(sess.tr)
	b.registry.Drop(sess.deviceID, sess.tr)
}

func (b *Bridge) answerPing(sess *session, id interface{}) {
	pong, err := transport.NewResponseMessage(id, struct{}{})
	if err != nil {
		return
	}
	frame, err := json.Marshal(pong)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.tr.Write(ctx, frame); err != nil {
		logger.Debugw("failed to answer ping", "device_id", sess.deviceID, "error", err)
	}
}

func callResult(resp *transport.JSONRPCMessage, err error) string {
	switch {
	case err == nil && resp != nil:
		return telemetry.ResultOK
	case errors.IsRequestTimeout(err):
		return telemetry.ResultTimeout
	case errors.IsDeviceDisconnected(err):
		return telemetry.ResultDisconnected
	case errors.IsRemote(err):
		return telemetry.ResultRemoteError
	case errors.IsDeviceNotConnected(err):
		return "not_connected"
	default:
		return "error"
	}
}
