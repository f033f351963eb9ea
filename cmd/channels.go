package cmd

import (
	"fmt"
	"strings"

	"mproxy/pkg/worker"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List configured channels and their workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, collection, _, err := bootstrap("cmd.channels")
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderChannels(collection))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(channelsCmd)
}

var (
	channelsTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	channelNameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230"))
	workerKindStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// renderChannels lays out one "name  kind" row per channel in sorted order.
func renderChannels(collection *worker.Collection) string {
	names := collection.Channels()

	width := 0
	for _, name := range names {
		width = max(width, lipgloss.Width(name))
	}

	rows := make([]string, 0, len(names)+1)
	rows = append(rows, channelsTitleStyle.Render(fmt.Sprintf("Channels (%d)", len(names))))
	for _, name := range names {
		kind, _ := collection.Kind(name)
		padded := name + strings.Repeat(" ", width-lipgloss.Width(name))
		rows = append(rows, "  "+channelNameStyle.Render(padded)+"  "+workerKindStyle.Render(kind))
	}

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
