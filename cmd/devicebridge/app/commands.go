// Package app provides the entry point for the devicebridge command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bindwire/devicebridge/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "devicebridge",
	DisableAutoGenTag: true,
	Short:             "Pair devices and bridge tool calls to them",
	Long: `devicebridge pairs anonymous devices to tenant projects with one-time
pairing codes, keeps a live registry of their connections, and bridges
JSON-RPC tool calls (tools/list, tools/call) to them over WebSocket.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the devicebridge CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	return rootCmd
}
