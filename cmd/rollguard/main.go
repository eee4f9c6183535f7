package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buttonworks/rollguard/internal/bus"
	"github.com/buttonworks/rollguard/internal/flags"
	"github.com/buttonworks/rollguard/internal/healthcheck"
	"github.com/buttonworks/rollguard/internal/rollback"
	"github.com/buttonworks/rollguard/internal/telemetry"
)

// Services shared by all subcommands, built once in initServices.
var (
	events       *bus.Bus
	engine       *flags.Engine
	store        *telemetry.Store
	runner       *healthcheck.Runner
	orchestrator *rollback.Orchestrator
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rollguard",
	Short: "Safety net for the unified button rollout",
	Long: `Rollguard watches the unified button rollout: feature-flag gating with
percentage-based cohorts, interaction metrics, periodic health checks, and
automatic rollback when live error rates or the emergency latch say the
rollout has gone bad.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initServices()
	},
}

// initServices builds the service graph: bus, flag engine, metrics store,
// health runner, orchestrator. Configuration comes from the environment,
// optionally overlaid with a YAML file.
func initServices() error {
	cfg := flags.LoadFromEnv()
	if configPath != "" {
		if err := cfg.ApplyFile(configPath); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	events = bus.New()
	engine = flags.NewEngine(&flags.EngineConfig{
		Config: &cfg,
		Events: events,
	})
	store = telemetry.NewStore(&telemetry.StoreConfig{
		// EnableMonitoring gates telemetry capture; read live so a config
		// patch takes effect without rebuilding the store.
		Recording: func() bool { return engine.Configuration().EnableMonitoring },
	})

	var err error
	runner, err = healthcheck.NewRunner(&healthcheck.Config{
		Flags:   engine,
		Metrics: store,
	})
	if err != nil {
		return fmt.Errorf("failed to create health check runner: %w", err)
	}

	orchestrator, err = rollback.NewOrchestrator(&rollback.Config{
		Flags:   engine,
		Metrics: store,
		Health:  runner,
		Events:  events,
	})
	if err != nil {
		return fmt.Errorf("failed to create rollback orchestrator: %w", err)
	}

	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file overlaying the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
