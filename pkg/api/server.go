// Package api contains the REST API and device endpoint for devicebridge.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/bindwire/devicebridge/pkg/api/v1"
	"github.com/bindwire/devicebridge/pkg/bridge"
	"github.com/bindwire/devicebridge/pkg/logger"
	"github.com/bindwire/devicebridge/pkg/pairing"
	"github.com/bindwire/devicebridge/pkg/registry"
	"github.com/bindwire/devicebridge/pkg/telemetry"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	socketPermissions = 0660 // Socket file permissions (owner/group read-write)
)

// Deps are the constructed core components the API serves.
type Deps struct {
	Store    *pairing.CodeStore
	Registry *registry.Registry
	Bridge   *bridge.Bridge

	// Gateway handles the device WebSocket handshake. Mounted outside the
	// request-timeout middleware: device connections are long-lived.
	Gateway http.Handler
}

func setupTCPListener(address string) (net.Listener, error) {
	return net.Listen("tcp", address)
}

func setupUnixSocket(address string) (net.Listener, error) {
	// Remove the socket file if it already exists
	if _, err := os.Stat(address); err == nil {
		if err := os.Remove(address); err != nil {
			return nil, fmt.Errorf("failed to remove existing socket: %v", err)
		}
	}

	// Create the directory for the socket file if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(address), 0750); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %v", err)
	}

	// Create UNIX socket listener
	listener, err := net.Listen("unix", address)
	if err != nil {
		return nil, fmt.Errorf("failed to create UNIX socket listener: %v", err)
	}

	// Set file permissions on the socket to allow other local processes to connect
	if err := os.Chmod(address, socketPermissions); err != nil {
		return nil, fmt.Errorf("failed to set socket permissions: %v", err)
	}

	return listener, nil
}

func cleanupUnixSocket(address string) {
	if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
		logger.Warnf("failed to remove socket file: %v", err)
	}
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Router assembles the full handler tree.
func Router(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		headersMiddleware,
	)

	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(middlewareTimeout))

		routers := map[string]http.Handler{
			"/health":               v1.HealthcheckRouter(deps.Store, deps.Registry),
			"/api/v1/pairing-codes": v1.PairingRouter(deps.Store),
			"/api/v1/devices":       v1.DevicesRouter(deps.Registry),
			"/api/v1/tools":         v1.ToolsRouter(deps.Bridge),
		}
		for prefix, router := range routers {
			api.Mount(prefix, router)
		}
	})

	r.Handle("/metrics", telemetry.Handler())
	r.Handle("/ws", deps.Gateway)

	return r
}

// Serve starts the server on the given address and serves the API and the
// device endpoint. It is assumed that the caller sets up appropriate signal
// handling. If isUnixSocket is true, address is treated as a UNIX socket path.
func Serve(ctx context.Context, address string, isUnixSocket bool, deps Deps) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           Router(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Create a listener based on the connection type
	var listener net.Listener
	var addrType string
	var err error

	if isUnixSocket {
		listener, err = setupUnixSocket(address)
		addrType = "UNIX socket"
	} else {
		listener, err = setupTCPListener(address)
		addrType = "HTTP"
	}
	if err != nil {
		return err
	}

	logger.Infow("starting server", "type", addrType, "address", address)

	// Start server.
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server stopped with error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if isUnixSocket {
			cleanupUnixSocket(address)
		}
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if isUnixSocket {
		cleanupUnixSocket(address)
	}

	logger.Infof("%s server stopped", addrType)
	return nil
}
