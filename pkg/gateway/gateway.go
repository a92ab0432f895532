// Package gateway accepts inbound device connections. It authenticates the
// handshake (a one-time pairing code on first contact, a device token on
// reconnection), upgrades to WebSocket, installs the transport in the
// connection registry and hands the frame stream to the bridge.
package gateway

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bindwire/devicebridge/pkg/bridge"
	"github.com/bindwire/devicebridge/pkg/errors"
	"github.com/bindwire/devicebridge/pkg/logger"
	"github.com/bindwire/devicebridge/pkg/pairing"
	"github.com/bindwire/devicebridge/pkg/registry"
	"github.com/bindwire/devicebridge/pkg/telemetry"
	transpkg "github.com/bindwire/devicebridge/pkg/transport"
)

// MethodEstablished is the notification sent to a device right after its
// transport is installed. On first pairing it carries the assigned device id
// and the fresh device token; on reconnection just the device id.
const MethodEstablished = "pairing/established"

// establishedParams is the payload of the MethodEstablished notification.
type establishedParams struct {
	DeviceID    string `json:"device_id"`
	ProjectID   string `json:"project_id"`
	DeviceToken string `json:"device_token,omitempty"`
}

// Gateway performs the device handshake over a WebSocket upgrade.
type Gateway struct {
	store    *pairing.CodeStore
	registry *registry.Registry
	bridge   *bridge.Bridge

	upgrader websocket.Upgrader
}

// NewGateway wires a gateway over the pairing store, registry and bridge.
func NewGateway(store *pairing.CodeStore, reg *registry.Registry, br *bridge.Bridge) *Gateway {
	return &Gateway{
		store:    store,
		registry: reg,
		bridge:   br,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices are native agents, not browsers; origin checks
			// don't apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles the device handshake endpoint.
//
// The URI carries exactly one of the query parameters bind_code or
// device_token; device_token additionally requires device_id. Credentials are
// checked before the upgrade, so a rejected device sees a plain HTTP error
// and a closed connection, never a half-open socket.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bindCode := q.Get("bind_code")
	deviceToken := q.Get("device_token")
	deviceID := q.Get("device_id")

	if (bindCode == "") == (deviceToken == "") {
		telemetry.PairingAttempts.WithLabelValues(telemetry.ResultProtocol).Inc()
		http.Error(w, "exactly one of bind_code or device_token is required", http.StatusBadRequest)
		return
	}

	identifier := remoteIdentifier(r)
	allowed, err := g.store.CheckRateLimit(r.Context(), identifier)
	if err != nil {
		logger.Errorw("rate limit check failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		telemetry.PairingAttempts.WithLabelValues(telemetry.ResultRateLimited).Inc()
		http.Error(w, errors.ErrRateLimited, http.StatusTooManyRequests)
		return
	}

	var projectID uuid.UUID
	var mintedToken string

	if bindCode != "" {
		projectID, err = g.store.Redeem(r.Context(), bindCode)
		if err != nil {
			if goerrors.Is(err, pairing.ErrCodeNotFound) {
				g.recordFailure(r.Context(), identifier)
				telemetry.PairingAttempts.WithLabelValues(telemetry.ResultInvalidCode).Inc()
				http.Error(w, errors.ErrCodeInvalidOrExpired, http.StatusUnauthorized)
				return
			}
			logger.Errorw("pairing code redemption failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		deviceID = uuid.NewString()
		mintedToken, err = g.store.MintDeviceToken(r.Context(), deviceID, projectID)
		if err != nil {
			logger.Errorw("device token mint failed", "device_id", deviceID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	} else {
		if deviceID == "" {
			telemetry.PairingAttempts.WithLabelValues(telemetry.ResultProtocol).Inc()
			http.Error(w, "device_token requires device_id", http.StatusBadRequest)
			return
		}
		projectID, err = g.store.ValidateDeviceToken(r.Context(), deviceID, deviceToken)
		if err != nil {
			if goerrors.Is(err, pairing.ErrTokenNotFound) || goerrors.Is(err, pairing.ErrTokenMismatch) {
				g.recordFailure(r.Context(), identifier)
				telemetry.PairingAttempts.WithLabelValues(telemetry.ResultInvalidToken).Inc()
				http.Error(w, "invalid device token", http.StatusUnauthorized)
				return
			}
			logger.Errorw("device token validation failed", "device_id", deviceID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	tr := transpkg.NewWebSocket(conn, transpkg.WebSocketOptions{
		OnPong: func() { _ = g.registry.Heartbeat(deviceID) },
	})

	g.registry.Register(deviceID, projectID, tr)
	g.bridge.Attach(deviceID, tr)

	if err := g.sendEstablished(tr, deviceID, projectID, mintedToken); err != nil {
		logger.Warnw("failed to send established notification",
			"device_id", deviceID, "error", err)
		_ = g.registry.Unregister(deviceID)
		return
	}

	telemetry.PairingAttempts.WithLabelValues(telemetry.ResultOK).Inc()
	logger.Infow("device connected",
		"device_id", deviceID,
		"project_id", projectID,
		"reconnect", bindCode == "",
		"remote", tr.RemoteAddr())
}

func (g *Gateway) sendEstablished(tr transpkg.Transport, deviceID string, projectID uuid.UUID, token string) error {
	msg, err := transpkg.NewNotificationMessage(MethodEstablished, establishedParams{
		DeviceID:    deviceID,
		ProjectID:   projectID.String(),
		DeviceToken: token,
	})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return tr.Write(ctx, frame)
}

func (g *Gateway) recordFailure(ctx context.Context, identifier string) {
	if err := g.store.RecordFailure(ctx, identifier); err != nil {
		logger.Warnw("failed to record pairing failure", "identifier", identifier, "error", err)
	}
}

// remoteIdentifier extracts the peer host for rate limiting.
func remoteIdentifier(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
