// Package main is the entry point for the device bridge server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bindwire/devicebridge/cmd/devicebridge/app"
	"github.com/bindwire/devicebridge/pkg/logger"
)

func main() {
	// Create a context that will be canceled on signal
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
