package main

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/AlexKimmel/ScanGate/internal/module"
)

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List available modules",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Name", "Description", "Targets", "Produces"})
			table.SetAutoWrapText(false)
			for _, m := range module.Default().All() {
				kinds := make([]string, 0, len(m.TargetKinds()))
				for _, k := range m.TargetKinds() {
					kinds = append(kinds, string(k))
				}
				table.Append([]string{
					m.Name(),
					m.Description(),
					strings.Join(kinds, ", "),
					strings.Join(m.Produces(), ", "),
				})
			}
			table.Render()
		},
	}
}
