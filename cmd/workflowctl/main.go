// Command workflowctl administers the approval engine's database directly:
// schema migrations, definition publishing, timeout sweeps, audit
// verification and export, and the employee directory.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	outputJSON bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "workflowctl",
	Short: "Approval engine administration tool",
	Long: `workflowctl operates on the approval engine database without the server.

Examples:
  # Apply schema migrations
  workflowctl migrate up

  # Publish every definition under a directory
  workflowctl definitions publish configs/definitions

  # Check an instance against its approval log
  workflowctl instances verify <instance-id>

  # Import the employee directory from HR
  workflowctl directory import employees.xlsx`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "print JSON output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level on stderr")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(definitionsCmd)
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(directoryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
