package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var monitorListen string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve the live resilience feed",
	Long: `Monitor serves this process's resilience controller over HTTP:
breaker transitions stream over a WebSocket at /ws, /status returns a
controller snapshot, and /metrics exposes a Prometheus scrape. Runs
until interrupted.`,
	Example: `  arcmill monitor
  arcmill monitor --listen 0.0.0.0:9090`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&monitorListen, "listen", "", "listen address (default from config)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		printWarning("\nMonitor interrupted, shutting down...")
		cancel()
	}()

	if monitorListen != "" {
		cfg.Monitor.Listen = monitorListen
	}

	srv, err := apiClient.NewMonitor()
	if err != nil {
		printError("Cannot start monitor: %v", err)
		return err
	}
	defer srv.Close()

	apiClient.StartAdaptive(ctx)

	if !jsonOutput {
		fmt.Printf("📡 Monitor listening on %s\n", cfg.Monitor.Listen)
		fmt.Printf("   ws://%s/ws\n", cfg.Monitor.Listen)
		fmt.Printf("   http://%s/status\n", cfg.Monitor.Listen)
		fmt.Printf("   http://%s/metrics\n", cfg.Monitor.Listen)
	}

	if err := srv.Serve(ctx); err != nil {
		printError("Monitor failed: %v", err)
		return err
	}

	if !jsonOutput {
		printSuccess("✅ Monitor stopped")
	}
	return nil
}
