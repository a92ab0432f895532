// Package registry tracks the live device connections of one process. It is
// deliberately in-memory only: after a restart every device reconnects and
// re-authenticates with its device token, so there is nothing to persist.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bindwire/devicebridge/pkg/errors"
	"github.com/bindwire/devicebridge/pkg/logger"
	"github.com/bindwire/devicebridge/pkg/telemetry"
	"github.com/bindwire/devicebridge/pkg/transport"
)

// DefaultHeartbeatTimeout is the silence window after which a connection is
// swept offline.
const DefaultHeartbeatTimeout = 90 * time.Second

// Status is the lifecycle state of a device connection.
type Status string

// Connection states. Offline is terminal for a transport instance; a
// reconnecting device gets a fresh Online entry, not a transition back.
const (
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
)

// DeviceConnection is one device's live connection record. The registry owns
// the record exclusively; read paths hand out copies.
type DeviceConnection struct {
	DeviceID        string
	ProjectID       uuid.UUID
	Transport       transport.Transport
	Status          Status
	RegisteredAt    time.Time
	LastHeartbeatAt time.Time
}

// Registry is the device-id -> connection directory. All methods are safe for
// concurrent use; a single RWMutex guards the map, and transport closes
// happen outside the lock so one slow peer cannot stall the rest.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*DeviceConnection

	heartbeatTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry and starts its background sweeper, which
// runs at half the heartbeat timeout.
func NewRegistry(heartbeatTimeout time.Duration) *Registry {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}

	r := &Registry{
		conns:            make(map[string]*DeviceConnection),
		heartbeatTimeout: heartbeatTimeout,
		stopCh:           make(chan struct{}),
	}
	go r.sweepRoutine()
	return r
}

// Register installs a transport for a device. If the device already has an
// Online connection, the old transport is superseded: it gets closed and the
// new one takes its place, so at most one Online connection exists per device
// at any instant.
func (r *Registry) Register(deviceID string, projectID uuid.UUID, tr transport.Transport) {
	now := time.Now()

	r.mu.Lock()
	var superseded transport.Transport
	if prev, ok := r.conns[deviceID]; ok && prev.Transport != tr {
		superseded = prev.Transport
	}
	r.conns[deviceID] = &DeviceConnection{
		DeviceID:        deviceID,
		ProjectID:       projectID,
		Transport:       tr,
		Status:          StatusOnline,
		RegisteredAt:    now,
		LastHeartbeatAt: now,
	}
	online := len(r.conns)
	r.mu.Unlock()

	if superseded != nil {
		logger.Infow("superseding device connection", "device_id", deviceID)
		_ = superseded.Close()
	}
	telemetry.DevicesOnline.Set(float64(online))
}

// Heartbeat refreshes a device's liveness timestamp. Returns a
// DeviceNotConnected error when no live connection exists.
func (r *Registry) Heartbeat(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[deviceID]
	if !ok {
		return errors.NewDeviceNotConnectedError(deviceID, nil)
	}
	conn.LastHeartbeatAt = time.Now()
	return nil
}

// Get returns the device's live transport. This is the bridge's hot read
// path; it holds only the read lock.
func (r *Registry) Get(deviceID string) (transport.Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[deviceID]
	if !ok || conn.Status != StatusOnline {
		return nil, errors.NewDeviceNotConnectedError(deviceID, nil)
	}
	return conn.Transport, nil
}

// GetConnection returns a copy of the device's connection record.
func (r *Registry) GetConnection(deviceID string) (DeviceConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[deviceID]
	if !ok {
		return DeviceConnection{}, false
	}
	return *conn, true
}

// Snapshot returns copies of all current connection records.
func (r *Registry) Snapshot() []DeviceConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceConnection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, *conn)
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Unregister removes a device's connection and closes its transport. This is
// the explicit close path, device-initiated or forced by an operator.
func (r *Registry) Unregister(deviceID string) error {
	r.mu.Lock()
	conn, ok := r.conns[deviceID]
	if ok {
		delete(r.conns, deviceID)
	}
	online := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return errors.NewDeviceNotConnectedError(deviceID, nil)
	}
	_ = conn.Transport.Close()
	telemetry.DevicesOnline.Set(float64(online))
	return nil
}

// Drop removes the device's entry only if it still holds the given transport.
// The bridge calls this when a transport's read loop ends; the identity check
// keeps a late Drop from a superseded connection from evicting its successor.
func (r *Registry) Drop(deviceID string, tr transport.Transport) bool {
	r.mu.Lock()
	conn, ok := r.conns[deviceID]
	if !ok || conn.Transport != tr {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, deviceID)
	online := len(r.conns)
	r.mu.Unlock()

	telemetry.DevicesOnline.Set(float64(online))
	return true
}

// Sweep evicts every connection that has been silent longer than the
// heartbeat timeout. No close frame from the device is needed; this is the
// liveness failure detector.
func (r *Registry) Sweep() {
	now := time.Now()

	r.mu.Lock()
	var evicted []*DeviceConnection
	for id, conn := range r.conns {
		if now.Sub(conn.LastHeartbeatAt) > r.heartbeatTimeout {
			conn.Status = StatusOffline
			evicted = append(evicted, conn)
			delete(r.conns, id)
		}
	}
	online := len(r.conns)
	r.mu.Unlock()

	for _, conn := range evicted {
		logger.Infow("evicting silent device connection",
			"device_id", conn.DeviceID,
			"last_heartbeat_at", conn.LastHeartbeatAt)
		_ = conn.Transport.Close()
		telemetry.DeviceEvictions.Inc()
	}
	if len(evicted) > 0 {
		telemetry.DevicesOnline.Set(float64(online))
	}
}

// Stop halts the sweeper and closes every live transport. Used on process
// shutdown so devices see a clean close instead of a dead TCP peer.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})

	r.mu.Lock()
	conns := make([]*DeviceConnection, 0, len(r.conns))
	for id, conn := range r.conns {
		conns = append(conns, conn)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Transport.Close()
	}
	telemetry.DevicesOnline.Set(0)
}

func (r *Registry) sweepRoutine() {
	ticker := time.NewTicker(r.heartbeatTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stopCh:
			return
		}
	}
}
