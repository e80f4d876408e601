// Command fieldsync is the offline-first sync client: it queues local
// mutations durably and syncs them with the server when online.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	configPath string
	devMode    bool
	logLevel   string
	apiURL     string
	deviceID   string
)

var rootCmd = &cobra.Command{
	Use:           "fieldsync",
	Short:         "Offline-first sync client",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `fieldsync keeps a durable queue of local mutations (leads, properties,
notes, tasks) and pushes them to the sync server when the network allows,
then pulls changes made elsewhere.

Configuration comes from --config (JSON), then FIELDSYNC_* environment
variables, then the flags below.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (JSON)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Development mode (sends X-Debug-Sub instead of a token)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Sync server base URL")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device", "", "Device ID")

	rootCmd.AddGroup(
		&cobra.Group{ID: "queue", Title: "Queue:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
	)
	rootCmd.AddCommand(runCmd, syncCmd, statusCmd, showCmd, enqueueCmd, pendingCmd, clearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
