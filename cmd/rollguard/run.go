package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var listenAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the safety net with background monitoring",
	Long: `Start the health check loop and the rollback trigger loop, expose
Prometheus metrics over HTTP, and block until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		registry := prometheus.NewRegistry()
		if err := store.Register(registry); err != nil {
			return fmt.Errorf("failed to register metrics collectors: %w", err)
		}

		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("failed to start health checks: %w", err)
		}
		if err := orchestrator.StartTriggerMonitoring(ctx); err != nil {
			runner.StopHealthChecks()
			return fmt.Errorf("failed to start trigger monitoring: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: listenAddr, Handler: mux}

		errCh := make(chan error, 1)
		go func() {
			fmt.Printf("Rollguard: serving metrics on %s/metrics\n", listenAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			fmt.Printf("\nRollguard: received %v, shutting down\n", sig)
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "Rollguard: metrics server failed: %v\n", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Rollguard: metrics server shutdown: %v\n", err)
		}

		orchestrator.StopTriggerMonitoring()
		runner.StopHealthChecks()

		fmt.Println("Rollguard: shutdown complete")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&listenAddr, "listen", ":9090", "address for the Prometheus metrics endpoint")
	rootCmd.AddCommand(runCmd)
}
