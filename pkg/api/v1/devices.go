package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bindwire/devicebridge/pkg/errors"
	"github.com/bindwire/devicebridge/pkg/logger"
	"github.com/bindwire/devicebridge/pkg/registry"
)

// DeviceRoutes defines the routes for device connection management.
type DeviceRoutes struct {
	registry *registry.Registry
}

// DevicesRouter creates a new DeviceRoutes instance.
func DevicesRouter(reg *registry.Registry) http.Handler {
	routes := DeviceRoutes{registry: reg}

	r := chi.NewRouter()
	r.Get("/", routes.listDevices)
	r.Get("/{device_id}", routes.getDevice)
	r.Delete("/{device_id}", routes.disconnectDevice)

	return r
}

// deviceInfo is the wire form of one live connection.
type deviceInfo struct {
	DeviceID        string    `json:"device_id"`
	ProjectID       string    `json:"project_id"`
	Status          string    `json:"status"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	RemoteAddr      string    `json:"remote_addr"`
}

type deviceListResponse struct {
	Devices []deviceInfo `json:"devices"`
}

func toDeviceInfo(conn registry.DeviceConnection) deviceInfo {
	return deviceInfo{
		DeviceID:        conn.DeviceID,
		ProjectID:       conn.ProjectID.String(),
		Status:          string(conn.Status),
		RegisteredAt:    conn.RegisteredAt,
		LastHeartbeatAt: conn.LastHeartbeatAt,
		RemoteAddr:      conn.Transport.RemoteAddr(),
	}
}

// listDevices
//
//	@Summary		List connected devices
//	@Description	Get the live device connections of this process
//	@Tags			devices
//	@Produce		json
//	@Success		200	{object}	deviceListResponse
//	@Router			/api/v1/devices [get]
func (s *DeviceRoutes) listDevices(w http.ResponseWriter, _ *http.Request) {
	conns := s.registry.Snapshot()

	devices := make([]deviceInfo, 0, len(conns))
	for _, conn := range conns {
		devices = append(devices, toDeviceInfo(conn))
	}

	if err := json.NewEncoder(w).Encode(deviceListResponse{Devices: devices}); err != nil {
		http.Error(w, "Failed to marshal device list", http.StatusInternalServerError)
		return
	}
}

// getDevice
//
//	@Summary		Get device connection details
//	@Description	Get the live connection record of one device
//	@Tags			devices
//	@Produce		json
//	@Param			device_id	path		string	true	"Device ID"
//	@Success		200			{object}	deviceInfo
//	@Failure		404			{string}	string	"Device not connected"
//	@Router			/api/v1/devices/{device_id} [get]
func (s *DeviceRoutes) getDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	conn, ok := s.registry.GetConnection(deviceID)
	if !ok {
		http.Error(w, "Device not connected", http.StatusNotFound)
		return
	}

	if err := json.NewEncoder(w).Encode(toDeviceInfo(conn)); err != nil {
		http.Error(w, "Failed to marshal device", http.StatusInternalServerError)
		return
	}
}

// disconnectDevice
//
//	@Summary		Disconnect a device
//	@Description	Force-close a device's connection; the device must re-authenticate to return
//	@Tags			devices
//	@Param			device_id	path	string	true	"Device ID"
//	@Success		204
//	@Failure		404	{string}	string	"Device not connected"
//	@Router			/api/v1/devices/{device_id} [delete]
func (s *DeviceRoutes) disconnectDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	if err := s.registry.Unregister(deviceID); err != nil {
		if errors.IsDeviceNotConnected(err) {
			http.Error(w, "Device not connected", http.StatusNotFound)
			return
		}
		logger.Errorf("Failed to disconnect device %s: %v", deviceID, err)
		http.Error(w, "Failed to disconnect device", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
