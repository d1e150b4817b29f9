package commands

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/ema-voice/core/audio/miniaudio"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture and playback devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		capture, playback, err := miniaudio.ListDevices()
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		heading := lipgloss.NewStyle().Bold(true).Underline(true)
		out := cmd.OutOrStdout()
		for _, group := range []struct {
			title   string
			devices []miniaudio.DeviceInfo
		}{
			{"Capture", capture},
			{"Playback", playback},
		} {
			fmt.Fprintln(out, heading.Render(group.title))
			if len(group.devices) == 0 {
				fmt.Fprintln(out, "  (none)")
			}
			for i, device := range group.devices {
				marker := " "
				if device.IsDefault {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %d: %s\n", marker, i, device.Name)
			}
		}
		return nil
	},
}
