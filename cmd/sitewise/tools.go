package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/sitewise/internal/daemon/components"
	"github.com/harunnryd/sitewise/internal/tool"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered to models",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithEngine(cmd, func(ctx context.Context, set *components.Set) error {
			fmt.Fprintln(cmd.OutOrStdout(), formatTools(set.Engine.Tools()))
			return nil
		})
	},
}

func formatTools(descriptors []tool.ToolDescriptor) string {
	if len(descriptors) == 0 {
		return "No tools registered"
	}

	purple := lipgloss.Color("99")
	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Align(lipgloss.Center).Padding(0, 1)
	oddRowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	evenRowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(purple)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers("Name", "Risk", "Network", "Capabilities", "Description")

	for _, d := range descriptors {
		network := "no"
		if d.Metadata.Network {
			network = "yes"
		}
		t.Row(
			d.Definition.Name,
			string(d.Metadata.Risk),
			network,
			truncateString(strings.Join(d.Metadata.Capabilities, ", "), 30),
			truncateString(d.Definition.Description, 60),
		)
	}

	return t.String()
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
