package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/internal/config"
	"github.com/smazurov/svbcapture/internal/logging"
	"github.com/smazurov/svbcapture/pkg/svb"
)

// CreateControlsCmd creates the controls command.
func CreateControlsCmd() *cobra.Command {
	var dev deviceFlags
	var logs logFlags
	var sets []string
	var applyPath string
	var savePath string

	cmd := &cobra.Command{
		Use:   "controls",
		Short: "Show and change camera controls",
		Long: `Prints every control the camera offers with its limits and current value. ` +
			`--apply loads a control profile, --set writes single controls (name=value or name=auto), ` +
			`and --save writes the resulting values to a profile file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logs.init()
			cam, err := dev.open(camera.WithLogger(logging.GetLogger("camera")))
			if err != nil {
				return err
			}
			defer cam.Close()
			ctrls := cam.Controls()

			if applyPath != "" {
				p, err := config.LoadControlProfile(applyPath)
				if err != nil {
					return err
				}
				if err := p.Apply(ctrls); err != nil {
					return fmt.Errorf("apply %s: %w", applyPath, err)
				}
			}
			for _, s := range sets {
				if err := applySetting(ctrls, s); err != nil {
					return err
				}
			}

			if savePath != "" {
				p, err := snapshotProfile(ctrls)
				if err != nil {
					return err
				}
				if err := config.SaveControlProfile(savePath, p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved %d controls to %s\n", len(p.Controls), savePath)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cam.Info())
			return printControls(cmd.OutOrStdout(), ctrls)
		},
	}

	dev.register(cmd.Flags())
	logs.register(cmd.Flags())
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Set a control, name=value or name=auto (repeatable)")
	cmd.Flags().StringVar(&applyPath, "apply", "", "Apply a control profile before printing")
	cmd.Flags().StringVar(&savePath, "save", "", "Save writable control values to a profile")
	return cmd
}

// applySetting handles one name=value or name=auto argument.
func applySetting(ctrls *camera.Controls, s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("--set %q: want name=value", s)
	}
	kind, err := svb.ParseControlType(strings.TrimSpace(name))
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "auto") {
		return ctrls.SetAuto(kind, true)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("--set %s: %w", name, err)
	}
	return ctrls.Set(kind, v)
}

// snapshotProfile captures the writable controls of a camera.
func snapshotProfile(ctrls *camera.Controls) (config.ControlProfile, error) {
	p := config.ControlProfile{
		Controls: make(map[string]float64),
		Auto:     make(map[string]bool),
	}
	var errs []error
	for _, cc := range ctrls.Capabilities().All() {
		if !cc.Writable {
			continue
		}
		info, err := ctrls.Describe(cc.Type)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.Controls[cc.Type.String()] = info.Value
		if cc.AutoSupported && info.Auto {
			p.Auto[cc.Type.String()] = true
		}
	}
	return p, errors.Join(errs...)
}

func printControls(w io.Writer, ctrls *camera.Controls) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVALUE\tAUTO\tMIN\tMAX\tDEFAULT\tFLAGS")
	for _, cc := range ctrls.Capabilities().All() {
		info, err := ctrls.Describe(cc.Type)
		if err != nil {
			fmt.Fprintf(tw, "%s\terror: %v\n", cc.Type, err)
			continue
		}
		var flags []string
		if !cc.Writable {
			flags = append(flags, "ro")
		}
		if cc.AutoSupported {
			flags = append(flags, "auto")
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
			cc.Type, formatValue(info.Value), info.Auto,
			formatValue(info.Min), formatValue(info.Max), formatValue(info.Default),
			strings.Join(flags, ","))
	}
	return tw.Flush()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
