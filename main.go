// Command join runs the Join board service and its maintenance tasks.
package main

import (
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/elma1989/join/config"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "join",
	Short: "Kanban board and address book service",
	Long: `join serves the Kanban board, the address book and the sign up flow.

Configuration is read from an optional YAML file and JOIN_ prefixed
environment variables, e.g. JOIN_STORAGE_CONNECTION_STRING.`,
	Version:       version,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initStorageCmd)
	rootCmd.AddCommand(replayWritesCmd)
}

// configureLogging raises the level to debug when asked to by the config or
// the DEBUG variable.
func configureLogging(cfg *config.Config) {
	debug := cfg.Server.Debug
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		debug = true
	}
	if debug {
		log.SetLevel(log.DebugLevel)
	}
}
