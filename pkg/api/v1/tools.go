package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bindwire/devicebridge/pkg/bridge"
	"github.com/bindwire/devicebridge/pkg/errors"
	"github.com/bindwire/devicebridge/pkg/logger"
)

// ToolRoutes defines the routes for remote tool listing and invocation.
type ToolRoutes struct {
	bridge *bridge.Bridge
}

// ToolsRouter creates a new ToolRoutes instance.
func ToolsRouter(br *bridge.Bridge) http.Handler {
	routes := ToolRoutes{bridge: br}

	r := chi.NewRouter()
	r.Get("/{device_id}", routes.listTools)
	r.Post("/{device_id}/call", routes.callTool)

	return r
}

type toolListResponse struct {
	Tools []bridge.Tool `json:"tools"`
}

type callToolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type callToolResponse struct {
	Success bool             `json:"success"`
	Content []bridge.Content `json:"content,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// listTools
//
//	@Summary		List a device's tools
//	@Description	Ask the connected device for its tool catalog
//	@Tags			tools
//	@Produce		json
//	@Param			device_id	path		string	true	"Device ID"
//	@Success		200			{object}	toolListResponse
//	@Failure		404			{string}	string	"Device not connected"
//	@Failure		502			{string}	string	"Device returned an error"
//	@Failure		504			{string}	string	"Device did not answer in time"
//	@Router			/api/v1/tools/{device_id} [get]
func (s *ToolRoutes) listTools(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	tools, err := s.bridge.ListTools(r.Context(), deviceID)
	if err != nil {
		writeBridgeError(w, deviceID, err)
		return
	}

	if err := json.NewEncoder(w).Encode(toolListResponse{Tools: tools}); err != nil {
		http.Error(w, "Failed to marshal tool list", http.StatusInternalServerError)
		return
	}
}

// callTool
//
//	@Summary		Call a tool on a device
//	@Description	Forward one tool invocation to the connected device and wait for its result
//	@Tags			tools
//	@Accept			json
//	@Produce		json
//	@Param			device_id	path		string			true	"Device ID"
//	@Param			request		body		callToolRequest	true	"Tool name and arguments"
//	@Success		200			{object}	callToolResponse
//	@Failure		404			{string}	string	"Device not connected"
//	@Failure		502			{string}	string	"Device returned an error"
//	@Failure		504			{string}	string	"Device did not answer in time"
//	@Router			/api/v1/tools/{device_id}/call [post]
func (s *ToolRoutes) callTool(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	var req callToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Tool name is required", http.StatusBadRequest)
		return
	}

	result, err := s.bridge.CallTool(r.Context(), deviceID, req.Name, req.Arguments)
	if err != nil {
		// A JSON-RPC error from the device is still a completed round
		// trip; report it in the response body with a 502.
		if errors.IsRemote(err) {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(callToolResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}
		writeBridgeError(w, deviceID, err)
		return
	}

	if err := json.NewEncoder(w).Encode(callToolResponse{
		Success: !result.IsError,
		Content: result.Content,
	}); err != nil {
		http.Error(w, "Failed to marshal tool result", http.StatusInternalServerError)
		return
	}
}

// writeBridgeError maps the bridge error taxonomy onto HTTP statuses.
func writeBridgeError(w http.ResponseWriter, deviceID string, err error) {
	switch {
	case errors.IsDeviceNotConnected(err):
		http.Error(w, "Device not connected", http.StatusNotFound)
	case errors.IsRequestTimeout(err):
		http.Error(w, "Device did not answer in time", http.StatusGatewayTimeout)
	case errors.IsDeviceDisconnected(err):
		http.Error(w, "Device disconnected mid-call", http.StatusBadGateway)
	case errors.IsRemote(err), errors.IsProtocol(err):
		http.Error(w, "Device returned an invalid response", http.StatusBadGateway)
	default:
		logger.Errorf("Bridge call for device %s failed: %v", deviceID, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
