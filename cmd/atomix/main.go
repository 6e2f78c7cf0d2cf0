// Command atomix runs and inspects an Atomix distributed-primitives
// cluster member: a process hosting one or more partition groups, each
// a Raft replica serving sessions and primitive services to clients
// over mutually authenticated gRPC.
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/atomix/pkg/log"
	"github.com/spf13/cobra"
)

var (
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
	Use:   "atomix",
	Short: "Atomix - a distributed coordination and primitives platform",
	Long: `Atomix replicates sessions, counters, maps, and other
coordination primitives across a cluster using Raft consensus,
partitioned for horizontal scale.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"atomix version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
