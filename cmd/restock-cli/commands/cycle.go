package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one monitoring cycle now, alerting subscribers of restocks.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		report := monitor.Service.RunCycle(cmd.Context())

		t := newTable()
		t.AppendHeader(table.Row{"Products", "Checked", "Failed", "Skipped", "Deferred", "Restocks", "Notified", "Duration"})
		t.AppendRow(table.Row{
			report.Products,
			report.Checked,
			report.Failed,
			report.Skipped,
			report.Deferred,
			report.Restocks,
			report.Notified,
			report.Duration,
		})
		t.Render()
	},
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}
