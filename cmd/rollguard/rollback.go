package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/buttonworks/rollguard/internal/rollback"
)

var rollbackReason string

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Inspect and run rollback plans",
}

var rollbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered rollback plans",
	Run: func(cmd *cobra.Command, args []string) {
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, plan := range orchestrator.GetAvailableRollbackPlans() {
			fmt.Printf("%s %s\n", yellow(plan.ID), gray(fmt.Sprintf("(~%.0f min)", plan.EstimatedDurationMinutes)))
			fmt.Printf("  %s\n", plan.Description)
			for _, step := range plan.Steps {
				marker := " "
				if step.Critical {
					marker = color.RedString("!")
				}
				fmt.Printf("  %s %s - %s\n", marker, step.ID, step.Name)
			}
			fmt.Println()
		}
	},
}

var rollbackRunCmd = &cobra.Command{
	Use:   "run <plan-id>",
	Short: "Manually execute a rollback plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exec, err := orchestrator.ManualRollback(context.Background(), args[0], rollbackReason)
		if err != nil {
			if exec != nil {
				printExecution(exec)
			}
			return err
		}

		printExecution(exec)
		return nil
	},
}

var rollbackStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active rollback execution, if any",
	Run: func(cmd *cobra.Command, args []string) {
		if exec := orchestrator.GetCurrentRollbackStatus(); exec != nil {
			printExecution(exec)
			return
		}

		history := orchestrator.GetRollbackHistory()
		if len(history) == 0 {
			fmt.Println("No rollback in progress and none recorded.")
			return
		}

		fmt.Println("No rollback in progress. Most recent:")
		printExecution(&history[len(history)-1])
	},
}

func printExecution(exec *rollback.Execution) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	statusText := yellow(string(exec.Status))
	switch exec.Status {
	case rollback.StatusCompleted:
		statusText = green(string(exec.Status))
	case rollback.StatusFailed:
		statusText = red(string(exec.Status))
	}

	fmt.Printf("Execution %s\n", exec.ID)
	fmt.Printf("  Plan:    %s\n", exec.PlanID)
	fmt.Printf("  Status:  %s\n", statusText)
	fmt.Printf("  Started: %s\n", exec.StartTime.Format("2006-01-02 15:04:05"))
	if !exec.EndTime.IsZero() {
		fmt.Printf("  Ended:   %s\n", exec.EndTime.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("  Steps:   %d executed, %d failed\n", len(exec.ExecutedStepIDs), len(exec.FailedStepIDs))
	for _, msg := range exec.Errors {
		fmt.Printf("  %s %s\n", red("error:"), msg)
	}
}

func init() {
	rollbackRunCmd.Flags().StringVar(&rollbackReason, "reason", "manual rollback via CLI", "reason recorded with the rollback")
	rollbackCmd.AddCommand(rollbackListCmd)
	rollbackCmd.AddCommand(rollbackRunCmd)
	rollbackCmd.AddCommand(rollbackStatusCmd)
	rootCmd.AddCommand(rollbackCmd)
}
