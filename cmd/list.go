package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/svbcapture/pkg/svb"
)

// CreateListCmd creates the list command.
func CreateListCmd() *cobra.Command {
	var simulate bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List connected cameras",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sdk, _, err := OpenSDK(simulate)
			if err != nil {
				return err
			}
			cams, err := svb.ConnectedCameras(sdk)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cams)
			}
			if len(cams) == 0 {
				fmt.Fprintln(out, "No cameras connected")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tNAME\tSERIAL\tPORT\tID")
			for i, c := range cams {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", i, c.FriendlyName, c.SerialNumber, c.PortType, c.CameraID)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", false, "Use the simulated camera instead of the vendor SDK")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
