package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/piwi3910/rnicsim/pkg/simtypes"
)

// NewDeviceCmd creates the device command
func NewDeviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Inspect simulated devices",
	}

	cmd.AddCommand(newDeviceListCmd())
	cmd.AddCommand(newDeviceShowCmd())

	return cmd
}

func newDeviceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list simtypes.DeviceList
			if err := apiGet("/api/v1/devices", &list); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tQPS\tCQS\tMRS\tPDS")
			for _, dev := range list.Devices {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
					dev.ID,
					dev.CreatedAt.Format("2006-01-02 15:04:05"),
					dev.QPs.Total,
					dev.CQs.Total,
					dev.MRs.Total,
					dev.PDs.Total,
				)
			}
			return w.Flush()
		},
	}
}

func newDeviceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <device-id>",
		Short: "Show one device with per-tier occupancy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status simtypes.DeviceStatus
			if err := apiGet("/api/v1/devices/"+args[0], &status); err != nil {
				return err
			}

			fmt.Printf("Device:  %s\n", status.ID)
			fmt.Printf("Created: %s\n\n", status.CreatedAt.Format("2006-01-02 15:04:05"))

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tTOTAL\tDEVICE\tMIDDLE\tHOST")
			printResource(w, "qp", status.QPs)
			printResource(w, "cq", status.CQs)
			printResource(w, "mr", status.MRs)
			printResource(w, "pd", status.PDs)
			return w.Flush()
		},
	}
}

func printResource(w *tabwriter.Writer, kind string, stats simtypes.ResourceStats) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
		kind, stats.Total, stats.Tiers.Device, stats.Tiers.Middle, stats.Tiers.Host)
}
