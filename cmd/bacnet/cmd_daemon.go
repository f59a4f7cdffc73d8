package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krisarmstrong/bacnet-go/pkg/config"
	"github.com/krisarmstrong/bacnet-go/pkg/daemon"
	"github.com/krisarmstrong/bacnet-go/pkg/logging"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon <config-file>",
	Short: "Run a BACnet node as a long-lived service",
	Long: `Start the node described by config-file and keep it running until
interrupted. On shutdown the address cache is persisted and a run history
entry is recorded to the storage database.`,
	Example: `  bacnetd daemon node.yaml
  bacnetd daemon --storage disabled node.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runDaemon,
}

var daemonOpts struct {
	storagePath string
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringVar(&daemonOpts.storagePath, "storage", "", "path to run history database (default ~/.bacnetd/runs.db, 'disabled' to disable)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logging.InitColors(true)

	cfg, err := config.Load(args[0])
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	storagePath := daemonOpts.storagePath
	switch storagePath {
	case "":
		storagePath = defaultStoragePath()
	case "disabled":
		storagePath = ""
	}

	d, err := daemon.New(storagePath)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}

	if err := d.Start(cfg); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	logging.Success("node %d listening", cfg.Device.Instance)
	logging.Info("Press Ctrl+C to stop")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logging.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.Shutdown(ctx); err != nil {
		logging.Error("shutdown: %v", err)
		return err
	}
	logging.Success("node stopped gracefully")
	return nil
}
