package main

import (
	"fmt"
	"os"

	"github.com/cuemby/kestrel/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "Kestrel - multi-tenant service kernel",
	Long: `Kestrel runs many small, independently-managed services inside a
single host process, without containers: supervised workers, an
append-only event log, hot code swap, capability-scoped secrets, and
per-tenant backpressure, exposed over gRPC and HTTP/SSE.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"kestrel version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", os.Getenv("KESTREL_CONFIG"), "Path to TOML or JSON config file")
	rootCmd.PersistentFlags().String("gateway", "http://127.0.0.1:8080", "HTTP gateway address for client subcommands")
	rootCmd.PersistentFlags().String("tenant", os.Getenv("KESTREL_TENANT"), "Tenant id for client subcommands")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(watchCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
