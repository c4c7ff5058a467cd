package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piwi3910/rnicsim/cmd/rnicsim-cli/commands"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rnicsim-cli",
		Short: "RNICSim CLI - RDMA NIC simulator client",
		Long: `RNICSim CLI is a command-line interface for inspecting and steering a
running RNICSim daemon over its admin API.

Configure your endpoint:
  rnicsim-cli config set endpoint http://localhost:9700

Or use the environment variable:
  RNICSIM_ENDPOINT`,
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
	}

	// Add sub-commands
	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewDeviceCmd())
	rootCmd.AddCommand(commands.NewSimulateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
