// Package telemetry holds the Prometheus instrumentation shared by the
// gateway, registry and bridge.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DevicesOnline is the current number of live device connections.
	DevicesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "devicebridge",
		Name:      "devices_online",
		Help:      "Number of device connections currently registered.",
	})

	// DeviceEvictions counts connections removed by the heartbeat sweeper.
	DeviceEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "devicebridge",
		Name:      "device_evictions_total",
		Help:      "Connections evicted after heartbeat silence.",
	})

	// PairingAttempts counts handshake outcomes by result.
	PairingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicebridge",
		Name:      "pairing_attempts_total",
		Help:      "Device handshake attempts by outcome.",
	}, []string{"result"})

	// RPCRequests counts bridged JSON-RPC calls by method and outcome.
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicebridge",
		Name:      "rpc_requests_total",
		Help:      "Bridged JSON-RPC requests by method and outcome.",
	}, []string{"method", "result"})

	// RPCDuration observes the round-trip latency of bridged calls.
	RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devicebridge",
		Name:      "rpc_duration_seconds",
		Help:      "Round-trip latency of bridged JSON-RPC requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

// Pairing attempt results.
const (
	ResultOK           = "ok"
	ResultInvalidCode  = "invalid_code"
	ResultRateLimited  = "rate_limited"
	ResultInvalidToken = "invalid_token"
	ResultProtocol     = "protocol_error"
)

// RPC outcomes.
const (
	ResultTimeout      = "timeout"
	ResultDisconnected = "disconnected"
	ResultRemoteError  = "remote_error"
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
