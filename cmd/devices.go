// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"beatlight/internal/audio"
	"beatlight/internal/tui"

	"github.com/spf13/cobra"
)

func newDevicesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices, or pick one with --tui",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()

			if opts.TUIMode {
				return pickDevice()
			}
			return listDevices()
		},
	}
}

func listDevices() error {
	devices, err := audio.HostDevices()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tINPUTS\tRATE")
	for _, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%.0f Hz\n", d.ID, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return w.Flush()
}

// pickDevice runs the picker and prints the audio section for the choice.
func pickDevice() error {
	sel, ok, err := tui.PickDevice()
	if err != nil || !ok {
		return err
	}

	type audioSection struct {
		InputDevice int     `yaml:"input_device"`
		SampleRate  float64 `yaml:"sample_rate"`
	}
	fmt.Printf("# %s\n", sel.Name)
	return printYAML(struct {
		Audio audioSection `yaml:"audio"`
	}{audioSection{sel.DeviceID, sel.SampleRate}})
}
