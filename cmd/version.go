package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/svbcapture/internal/version"
)

// CreateVersionCmd creates the version command.
func CreateVersionCmd() *cobra.Command {
	var simulate bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and camera SDK information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			// A missing vendor library is not an error here.
			if sdk, backend, err := OpenSDK(simulate); err == nil {
				info = info.WithSDK(backend, sdk.Version())
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", false, "Report the simulated backend")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
