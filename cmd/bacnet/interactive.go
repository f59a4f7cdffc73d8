package main

import (
	"context"
	"fmt"
	"os"

	"github.com/krisarmstrong/bacnet-go/pkg/config"
	"github.com/krisarmstrong/bacnet-go/pkg/daemon"
	"github.com/krisarmstrong/bacnet-go/pkg/interactive"
	"github.com/krisarmstrong/bacnet-go/pkg/logging"
	"github.com/spf13/cobra"
)

var interactiveCmd = &cobra.Command{
	Use:   "monitor <config-file>",
	Short: "Run a node with a live TUI dashboard attached",
	Long: `Start the node described by config-file and display its address cache
and uptime in a terminal dashboard. Press q to quit and stop the node.`,
	Args: cobra.ExactArgs(1),
	RunE: runInteractive,
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}

func runInteractive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		logging.Error("loading configuration: %v", err)
		os.Exit(1)
	}

	d, err := daemon.New("")
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	if err := d.Start(cfg); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	defer d.Shutdown(context.Background())

	return interactive.Run(d.Session())
}
