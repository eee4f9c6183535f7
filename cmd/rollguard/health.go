package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/buttonworks/rollguard/internal/healthcheck"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run health checks and smoke tests",
}

var healthCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the full health check battery",
	Run: func(cmd *cobra.Command, args []string) {
		report := runner.RunFullHealthCheck()
		printHealthReport(report)
	},
}

var healthQuickCmd = &cobra.Command{
	Use:   "quick",
	Short: "Run the quick health check",
	Run: func(cmd *cobra.Command, args []string) {
		quick := runner.RunQuickHealthCheck()
		fmt.Printf("Status: %s (score %d)\n", coloredOverall(quick.OverallStatus), quick.HealthScore)
	},
}

func printHealthReport(report healthcheck.SystemHealthReport) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Health Report ==="))
	fmt.Printf("Overall: %s (score %d)\n\n", coloredOverall(report.OverallStatus), report.HealthScore)

	fmt.Printf("%s\n", yellow("Health Checks:"))
	for _, check := range report.HealthChecks {
		fmt.Printf("  %s %-22s %s (%.1fms)\n", statusIcon(check.Status), check.Name, check.Message, check.DurationMs)
	}
	fmt.Println()

	fmt.Printf("%s\n", yellow("Smoke Tests:"))
	for _, smoke := range report.SmokeTests {
		if smoke.Passed {
			fmt.Printf("  %s %-22s (%.1fms)\n", color.GreenString("✓"), smoke.TestName, smoke.DurationMs)
		} else {
			fmt.Printf("  %s %-22s %s (%.1fms)\n", color.RedString("✗"), smoke.TestName, smoke.Error, smoke.DurationMs)
		}
	}
	fmt.Println()

	fmt.Printf("%s\n", yellow("Recommendations:"))
	for _, rec := range report.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
	fmt.Println()
}

func statusIcon(status healthcheck.Status) string {
	switch status {
	case healthcheck.StatusHealthy:
		return color.GreenString("✓")
	case healthcheck.StatusWarning:
		return color.YellowString("⚠")
	case healthcheck.StatusCritical:
		return color.RedString("✗")
	default:
		return color.New(color.FgHiBlack).Sprint("?")
	}
}

func coloredOverall(status healthcheck.OverallStatus) string {
	switch status {
	case healthcheck.OverallHealthy:
		return color.GreenString(string(status))
	case healthcheck.OverallDegraded:
		return color.YellowString(string(status))
	default:
		return color.RedString(string(status))
	}
}

func init() {
	healthCmd.AddCommand(healthCheckCmd)
	healthCmd.AddCommand(healthQuickCmd)
	rootCmd.AddCommand(healthCmd)
}
