package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwi3910/rnicsim/pkg/simtypes"
)

// NewSimulateCmd creates the simulate command
func NewSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Inspect and update the simulation mode",
	}

	cmd.AddCommand(newSimulateShowCmd())
	cmd.AddCommand(newSimulateSetCmd())

	return cmd
}

func newSimulateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current simulation mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mode simtypes.SimulationMode
			if err := apiGet("/api/v1/simulation", &mode); err != nil {
				return err
			}

			printMode(mode)
			return nil
		},
	}
}

func newSimulateSetCmd() *cobra.Command {
	var (
		middleCache   bool
		deviceDelayNs int64
		middleDelayNs int64
		hostDelayNs   int64
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the simulation mode on every device at once",
		RunE: func(cmd *cobra.Command, args []string) error {
			update := simtypes.SimulationMode{
				EnableMiddleCache: middleCache,
				DeviceDelayNs:     deviceDelayNs,
				MiddleDelayNs:     middleDelayNs,
				HostDelayNs:       hostDelayNs,
			}

			var mode simtypes.SimulationMode
			if err := apiPut("/api/v1/simulation", update, &mode); err != nil {
				return err
			}

			fmt.Println("Simulation mode updated:")
			printMode(mode)
			return nil
		},
	}

	cmd.Flags().BoolVar(&middleCache, "middle-cache", true, "Enable the middle cache tier")
	cmd.Flags().Int64Var(&deviceDelayNs, "device-delay-ns", 0, "Device tier access delay in nanoseconds")
	cmd.Flags().Int64Var(&middleDelayNs, "middle-delay-ns", 0, "Middle cache access delay in nanoseconds")
	cmd.Flags().Int64Var(&hostDelayNs, "host-delay-ns", 0, "Host swap access delay in nanoseconds")

	return cmd
}

func printMode(mode simtypes.SimulationMode) {
	fmt.Printf("middle-cache:    %t\n", mode.EnableMiddleCache)
	fmt.Printf("device-delay-ns: %d\n", mode.DeviceDelayNs)
	fmt.Printf("middle-delay-ns: %d\n", mode.MiddleDelayNs)
	fmt.Printf("host-delay-ns:   %d\n", mode.HostDelayNs)
}
