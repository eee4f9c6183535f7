package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var exportFormat string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect and export interaction metrics",
}

var metricsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated usage statistics",
	Run: func(cmd *cobra.Command, args []string) {
		yellow := color.New(color.FgYellow).SprintFunc()

		stats := store.GetUsageStats()
		fmt.Printf("%s\n", yellow("Usage Statistics:"))
		fmt.Printf("  Total interactions: %d\n", stats.TotalInteractions)
		fmt.Printf("  Success rate:       %.1f%%\n", stats.SuccessRate*100)
		fmt.Printf("  Errors:             %d\n", stats.ErrorCount)
		fmt.Printf("  Avg render time:    %.1fms\n", stats.AverageRenderTimeMs)
		fmt.Printf("  Avg action time:    %.1fms\n", stats.AverageActionTimeMs)

		if len(stats.MostUsedActions) > 0 {
			fmt.Printf("\n%s\n", yellow("Most Used Actions:"))
			for _, action := range stats.MostUsedActions {
				fmt.Printf("  %-12s %d\n", action.Action, action.Count)
			}
		}
	},
}

var metricsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the retained event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := store.ExportMetrics(exportFormat)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	metricsExportCmd.Flags().StringVar(&exportFormat, "format", "json", "export format: json or csv")
	metricsCmd.AddCommand(metricsStatsCmd)
	metricsCmd.AddCommand(metricsExportCmd)
	rootCmd.AddCommand(metricsCmd)
}
