// Command corestream is the core binary of spec.md: one cobra root
// command with one subcommand per long-running component (ingest,
// scheduler, search), wired the way the teacher's cmd/* binaries wrap
// pkg/process around a cobra tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.corestream.dev/corestream/pkg/process"
)

var rootCmd = &cobra.Command{
	Use:   "corestream",
	Short: "Multi-tenant observability ingest, scheduling, and search core",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return process.ApplyEnvOverrides(cmd)
	},
}

func newLogger() *zap.Logger {
	log, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(searchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
