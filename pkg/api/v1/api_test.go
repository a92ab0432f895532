package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bindwire/devicebridge/pkg/bridge"
	"github.com/bindwire/devicebridge/pkg/pairing"
	"github.com/bindwire/devicebridge/pkg/registry"
	"github.com/bindwire/devicebridge/pkg/transport"
)

func newTestStore(t *testing.T) *pairing.CodeStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return pairing.NewCodeStoreWithClient(client, pairing.Config{})
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry(time.Hour)
	t.Cleanup(reg.Stop)
	return reg
}

// attachDevice registers a pipe-backed device and answers its frames with fn.
func attachDevice(t *testing.T, reg *registry.Registry, br *bridge.Bridge, deviceID string,
	fn func(req *transport.JSONRPCMessage) *transport.JSONRPCMessage) {
	t.Helper()

	server, device := transport.NewPipe()
	t.Cleanup(func() { _ = server.Close() })
	reg.Register(deviceID, uuid.New(), server)
	br.Attach(deviceID, server)

	go func() {
		for frame := range device.Frames() {
			var req transport.JSONRPCMessage
			if json.Unmarshal(frame, &req) != nil {
				continue
			}
			resp := fn(&req)
			if resp == nil {
				continue
			}
			out, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			_ = device.Write(context.Background(), out)
		}
	}()
}

func TestCreatePairingCode(t *testing.T) {
	t.Parallel()

	handler := PairingRouter(newTestStore(t))

	body, _ := json.Marshal(map[string]string{"project_id": uuid.NewString()})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp createPairingCodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.BindCode, 6)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
}

func TestCreatePairingCodeRejectsBadProject(t *testing.T) {
	t.Parallel()

	handler := PairingRouter(newTestStore(t))

	body, _ := json.Marshal(map[string]string{"project_id": "not-a-uuid"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndDisconnectDevices(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	br := bridge.NewBridge(reg, 0)
	attachDevice(t, reg, br, "D1", func(*transport.JSONRPCMessage) *transport.JSONRPCMessage { return nil })

	handler := DevicesRouter(reg)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list deviceListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Devices, 1)
	assert.Equal(t, "D1", list.Devices[0].DeviceID)
	assert.Equal(t, "online", list.Devices[0].Status)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/D1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/D1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/D1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListToolsNotConnected(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	br := bridge.NewBridge(reg, 0)

	rec := httptest.NewRecorder()
	ToolsRouter(br).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListToolsOK(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	br := bridge.NewBridge(reg, 0)
	attachDevice(t, reg, br, "D1", func(req *transport.JSONRPCMessage) *transport.JSONRPCMessage {
		resp, _ := transport.NewResponseMessage(req.ID, map[string]any{
			"tools": []map[string]any{{
				"name":        "screenshot",
				"inputSchema": map[string]any{"type": "object"},
			}},
		})
		return resp
	})

	rec := httptest.NewRecorder()
	ToolsRouter(br).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/D1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp toolListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tools, 1)
	assert.Equal(t, "screenshot", resp.Tools[0].Name)
}

func TestCallToolOK(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	br := bridge.NewBridge(reg, 0)
	attachDevice(t, reg, br, "D1", func(req *transport.JSONRPCMessage) *transport.JSONRPCMessage {
		resp, _ := transport.NewResponseMessage(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": "done"}},
		})
		return resp
	})

	body, _ := json.Marshal(callToolRequest{Name: "screenshot"})
	rec := httptest.NewRecorder()
	ToolsRouter(br).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/D1/call", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp callToolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "done", resp.Content[0].Text)
}

func TestCallToolRequiresName(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	br := bridge.NewBridge(reg, 0)

	body, _ := json.Marshal(callToolRequest{})
	rec := httptest.NewRecorder()
	ToolsRouter(br).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/D1/call", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallToolTimeoutMapsTo504(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	br := bridge.NewBridge(reg, 50*time.Millisecond)
	// Device that never answers.
	attachDevice(t, reg, br, "D1", func(*transport.JSONRPCMessage) *transport.JSONRPCMessage { return nil })

	body, _ := json.Marshal(callToolRequest{Name: "slow"})
	rec := httptest.NewRecorder()
	ToolsRouter(br).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/D1/call", bytes.NewReader(body)))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestCallToolRemoteErrorMapsTo502(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	br := bridge.NewBridge(reg, 0)
	attachDevice(t, reg, br, "D1", func(req *transport.JSONRPCMessage) *transport.JSONRPCMessage {
		resp, _ := transport.NewErrorMessage(req.ID, -32000, "battery too low", nil)
		return resp
	})

	body, _ := json.Marshal(callToolRequest{Name: "flash"})
	rec := httptest.NewRecorder()
	ToolsRouter(br).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/D1/call", bytes.NewReader(body)))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var resp callToolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "battery too low")
}

func TestHealth(t *testing.T) {
	t.Parallel()

	handler := HealthcheckRouter(newTestStore(t), newTestRegistry(t))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}
