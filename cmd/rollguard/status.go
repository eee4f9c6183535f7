package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/buttonworks/rollguard/internal/healthcheck"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show flag configuration, emergency state, and live health",
	Run: func(cmd *cobra.Command, args []string) {
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Rollguard Status ==="))

		// Flag configuration
		cfg := engine.Configuration()
		fmt.Printf("%s\n", yellow("Feature Flags:"))
		fmt.Printf("  Unified buttons:    %s\n", onOff(cfg.EnableUnifiedButtons))
		fmt.Printf("  Rollout:            %d%%\n", cfg.RolloutPercentage)
		fmt.Printf("  Monitoring:         %s\n", onOff(cfg.EnableMonitoring))
		fmt.Printf("  Legacy fallback:    %s\n", onOff(cfg.FallbackToLegacy))
		fmt.Printf("  Emergency disable:  %s\n", onOff(cfg.EnableEmergencyDisable))
		fmt.Println()

		// Emergency state
		fmt.Printf("%s\n", yellow("Emergency State:"))
		emergency := engine.Emergency()
		if emergency.Active {
			fmt.Printf("  %s ACTIVE since %s\n", red("●"), emergency.TriggeredAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("  Reason: %s\n", emergency.Reason)
		} else {
			fmt.Printf("  %s Not active\n", green("○"))
		}
		fmt.Println()

		// Live metrics
		fmt.Printf("%s\n", yellow("Live Metrics:"))
		realtime := store.GetRealTimeMetrics()
		scoreColor := green
		if realtime.HealthScore < 80 {
			scoreColor = yellow
		}
		if realtime.HealthScore < 50 {
			scoreColor = red
		}
		fmt.Printf("  Health score:      %s\n", scoreColor(fmt.Sprintf("%d", realtime.HealthScore)))
		fmt.Printf("  Active operations: %d\n", realtime.ActiveOperations)
		fmt.Printf("  Recent errors:     %d\n", realtime.RecentErrors)
		fmt.Println()

		// Last health report
		fmt.Printf("%s\n", yellow("Last Health Check:"))
		if report := runner.GetLastHealthCheck(); report != nil {
			statusColor := green
			switch report.OverallStatus {
			case healthcheck.OverallDegraded:
				statusColor = yellow
			case healthcheck.OverallCritical:
				statusColor = red
			}
			fmt.Printf("  Status: %s (score %d)\n", statusColor(string(report.OverallStatus)), report.HealthScore)
			fmt.Printf("  At:     %s\n", report.LastUpdated.Format("2006-01-02 15:04:05"))
			for _, rec := range report.Recommendations {
				fmt.Printf("  - %s\n", rec)
			}
		} else {
			fmt.Printf("  %s\n", gray("No health check run yet - try 'rollguard health check'"))
		}
		fmt.Println()
	},
}

func onOff(enabled bool) string {
	if enabled {
		return color.GreenString("enabled")
	}
	return color.New(color.FgHiBlack).Sprint("disabled")
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
