package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "v0.1.0"
	commit  = "dev"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "bacnetd",
	Short: "A BACnet/IP and MS/TP node",
	Long: `bacnetd runs a single BACnet device: the application-layer transaction
state machine, network-layer routing, and a BACnet/IP or MS/TP datalink, all
driven by one YAML configuration file.`,
	Version: version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("bacnetd %s (commit: %s, built: %s)\n", version, commit, date))
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
