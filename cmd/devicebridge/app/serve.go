package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bindwire/devicebridge/pkg/api"
	"github.com/bindwire/devicebridge/pkg/bridge"
	"github.com/bindwire/devicebridge/pkg/gateway"
	"github.com/bindwire/devicebridge/pkg/logger"
	"github.com/bindwire/devicebridge/pkg/pairing"
	"github.com/bindwire/devicebridge/pkg/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the device bridge server",
	Long: `Start the device bridge server. It exposes the management REST API,
the Prometheus metrics endpoint, and the device WebSocket endpoint on a
single listen address, and keeps pairing state in Redis.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().Bool("unix-socket", false, "Treat the address as a UNIX socket path")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis server address")
	serveCmd.Flags().String("redis-password", "", "Redis password")
	serveCmd.Flags().Int("redis-db", 0, "Redis database number")
	serveCmd.Flags().String("key-prefix", "", "Redis key prefix")
	serveCmd.Flags().Duration("code-ttl", 0, "Pairing code lifetime (default 5m)")
	serveCmd.Flags().Int("rate-limit-max", 0, "Failed handshakes allowed per client per window (default 5)")
	serveCmd.Flags().Duration("rate-limit-window", 0, "Handshake rate limit window (default 1h)")
	serveCmd.Flags().Duration("heartbeat-timeout", registry.DefaultHeartbeatTimeout, "Evict devices silent for this long")
	serveCmd.Flags().Duration("call-timeout", bridge.DefaultCallTimeout, "Per-request tool call timeout")

	for _, name := range []string{
		"address", "unix-socket",
		"redis-addr", "redis-password", "redis-db", "key-prefix",
		"code-ttl", "rate-limit-max", "rate-limit-window",
		"heartbeat-timeout", "call-timeout",
	} {
		if err := viper.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			logger.Fatalf("Failed to bind %s flag: %v", name, err)
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	address := viper.GetString("address")
	isUnixSocket := viper.GetBool("unix-socket")

	store, err := pairing.NewCodeStore(ctx, pairing.Config{
		Addr:            viper.GetString("redis-addr"),
		Password:        viper.GetString("redis-password"),
		DB:              viper.GetInt("redis-db"),
		KeyPrefix:       viper.GetString("key-prefix"),
		CodeTTL:         viper.GetDuration("code-ttl"),
		RateLimitMax:    viper.GetInt("rate-limit-max"),
		RateLimitWindow: viper.GetDuration("rate-limit-window"),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("failed to close pairing store: %v", err)
		}
	}()

	heartbeatTimeout := viper.GetDuration("heartbeat-timeout")
	reg := registry.NewRegistry(heartbeatTimeout)
	defer reg.Stop()

	br := bridge.NewBridge(reg, viper.GetDuration("call-timeout"))
	gw := gateway.NewGateway(store, reg, br)

	logger.Infof("Starting device bridge server on %s", address)
	logger.Infof("Redis: %s, heartbeat timeout: %s", viper.GetString("redis-addr"), heartbeatTimeout)

	if err := api.Serve(ctx, address, isUnixSocket, api.Deps{
		Store:    store,
		Registry: reg,
		Bridge:   br,
		Gateway:  gw,
	}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Server shutdown complete")
	return nil
}
