package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/buttonworks/rollguard/internal/flags"
)

var (
	setUnified bool
	setRollout int
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Adjust the feature flag configuration",
}

var flagsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update flag configuration fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch flags.Patch
		if cmd.Flags().Changed("unified") {
			patch.EnableUnifiedButtons = flags.Bool(setUnified)
		}
		if cmd.Flags().Changed("rollout") {
			if setRollout < 0 || setRollout > 100 {
				return fmt.Errorf("rollout must be between 0 and 100, got %d", setRollout)
			}
			patch.RolloutPercentage = flags.Int(setRollout)
		}

		engine.UpdateConfiguration(patch)

		cfg := engine.Configuration()
		fmt.Printf("Unified buttons: %s, rollout %d%%\n", onOff(cfg.EnableUnifiedButtons), cfg.RolloutPercentage)
		return nil
	},
}

var flagsEmergencyCmd = &cobra.Command{
	Use:   "emergency <reason>",
	Short: "Trip the emergency disable latch",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason := args[0]
		engine.TriggerEmergencyDisable(reason)

		if engine.Emergency().Active {
			fmt.Printf("%s Emergency disable active: %s\n", color.RedString("●"), reason)
		} else {
			fmt.Println("Emergency disable is not enabled in the configuration.")
		}
	},
}

var flagsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the emergency disable latch",
	Run: func(cmd *cobra.Command, args []string) {
		engine.ResetEmergencyState()
		fmt.Printf("%s Emergency state cleared\n", color.GreenString("✓"))
	},
}

func init() {
	flagsSetCmd.Flags().BoolVar(&setUnified, "unified", true, "enable or disable the unified button path")
	flagsSetCmd.Flags().IntVar(&setRollout, "rollout", 100, "rollout percentage (0-100)")
	flagsCmd.AddCommand(flagsSetCmd)
	flagsCmd.AddCommand(flagsEmergencyCmd)
	flagsCmd.AddCommand(flagsResetCmd)
	rootCmd.AddCommand(flagsCmd)
}
